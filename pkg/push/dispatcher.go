package push

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/profile"
)

const unknownSender = "Someone"

// Dispatcher turns a message for an absent receiver into a push notification.
// Receiver tokens always come from profiles; sender names may come from a cache.
type Dispatcher struct {
	profiles profile.Store
	names    profile.Store
	gateway  Gateway
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(profiles profile.Store, gateway Gateway, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		profiles: profiles,
		names:    profiles,
		gateway:  gateway,
		log:      log.Named("push"),
		metrics:  m,
	}
}

// WithNameCache resolves sender display names through names, typically a profile.Cached.
// A stale name only changes the notification title.
func (d *Dispatcher) WithNameCache(names profile.Store) *Dispatcher {
	d.names = names
	return d
}

// Dispatch resolves the sender's name and the receiver's token and sends the push.
// A receiver without a token is skipped and is not an error. Only the receiver lookup is
// required; a sender that cannot be resolved is shown as unknownSender.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.Message) error {
	var sender, receiver *profile.Profile

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := d.names.GetProfile(gctx, msg.SenderID)
		if err != nil {
			d.log.Warn("sender profile lookup failed",
				zap.String("user_id", msg.SenderID),
				zap.Int64("message_id", msg.ID),
				zap.Error(err))
			return nil
		}
		sender = p
		return nil
	})
	g.Go(func() error {
		p, err := d.profiles.GetProfile(gctx, msg.ReceiverID)
		receiver = p
		return err
	})
	if err := g.Wait(); err != nil {
		d.metrics.RecordPush(ResultFailed)
		return fmt.Errorf("resolve receiver profile: %w", err)
	}

	if receiver == nil || receiver.PushToken == "" {
		d.log.Info("receiver has no push token",
			zap.String("user_id", msg.ReceiverID),
			zap.Int64("message_id", msg.ID))
		d.metrics.RecordPush(ResultSkipped)
		return nil
	}

	name := unknownSender
	if sender != nil && sender.Name != "" {
		name = sender.Name
	}

	n := Notification{
		Token: receiver.PushToken,
		Title: "New message from " + name,
		Body:  msg.Content,
		Data: map[string]string{
			"conversationId": msg.ConversationID,
			"messageId":      strconv.FormatInt(msg.ID, 10),
			"senderId":       msg.SenderID,
		},
	}
	if err := d.gateway.Send(ctx, n); err != nil {
		d.metrics.RecordPush(ResultFailed)
		return fmt.Errorf("send push: %w", err)
	}
	d.metrics.RecordPush(ResultSent)
	return nil
}
