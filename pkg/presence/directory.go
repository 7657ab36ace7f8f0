package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/session"
	"go.uber.org/zap"
)

var (
	ErrStopped  = errors.New("presence directory stopped")
	ErrSnapshot = errors.New("presence snapshot not delivered")
)

// Observer is told about presence transitions from inside the directory loop.
// Implementations must not block.
type Observer interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

type Options struct {
	Policy   string
	Mailbox  int
	Metrics  *metrics.Metrics
	Observer Observer
}

// Directory is the global presence actor. All state is owned by the Run goroutine and
// touched only by operations it pulls from its mailbox.
type Directory struct {
	log      *zap.Logger
	table    table
	ops      chan func()
	done     chan struct{}
	metrics  *metrics.Metrics
	observer Observer
}

func NewDirectory(log *zap.Logger, opts Options) *Directory {
	if opts.Mailbox <= 0 {
		opts.Mailbox = 256
	}
	return &Directory{
		log:      log.Named("presence"),
		table:    newTable(opts.Policy),
		ops:      make(chan func(), opts.Mailbox),
		done:     make(chan struct{}),
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}
}

// Run serves the mailbox until ctx is cancelled.
func (d *Directory) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case op := <-d.ops:
			op()
		case <-ctx.Done():
			d.log.Info("presence directory stopped")
			return
		}
	}
}

// do runs fn inside the directory loop and waits for it to finish.
func (d *Directory) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case d.ops <- func() { fn(); close(finished) }:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrStopped
	}
}

// Connect registers s. The new socket receives the full online snapshot (without its own
// user) as a single frame before anyone else hears about it. If the snapshot cannot be
// queued the socket is closed and s is not registered.
func (d *Directory) Connect(ctx context.Context, s *session.Session) error {
	var err error
	doErr := d.do(ctx, func() {
		online := d.table.users()
		others := make([]string, 0, len(online))
		for _, userID := range online {
			if userID != s.UserID {
				others = append(others, userID)
			}
		}
		if err = s.Send(model.PresenceSnapshot(others)); err != nil {
			_ = s.Conn.Close()
			err = fmt.Errorf("%w: %w", ErrSnapshot, err)
			return
		}
		d.table.upsert(s)
		d.broadcast(model.PresenceUpdate(s.UserID, model.PresenceOnline), s)
		if d.observer != nil {
			d.observer.UserOnline(s.UserID)
		}
		d.log.Info("user connected", zap.String("user_id", s.UserID), zap.String("session_id", s.ID))
		d.recordGauges()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Disconnect is called by the transport when s closes or errors.
func (d *Directory) Disconnect(ctx context.Context, s *session.Session) error {
	return d.do(ctx, func() {
		if !d.table.remove(s) {
			d.recordGauges()
			return
		}
		d.broadcast(model.PresenceUpdate(s.UserID, model.PresenceOffline), nil)
		if d.observer != nil {
			d.observer.UserOffline(s.UserID)
		}
		d.log.Info("user disconnected",
			zap.String("user_id", s.UserID),
			zap.String("session_id", s.ID),
			zap.Duration("connected_for", s.Age()))
		d.recordGauges()
	})
}

// IsOnline is a point-in-time membership check.
func (d *Directory) IsOnline(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := d.do(ctx, func() {
		_, online = d.table.lookup(userID)
	})
	return online, err
}

// NotifyIfOnline forwards an unread summary to userID's directory socket, if any.
// Fire-and-forget: the notification is dropped when the mailbox is full.
func (d *Directory) NotifyIfOnline(userID string, summary model.UnreadSummary) {
	op := func() {
		s, ok := d.table.lookup(userID)
		if !ok {
			d.log.Debug("notification target not connected", zap.String("user_id", userID))
			return
		}
		d.deliver(s, model.NewMessageNotification(summary))
	}
	select {
	case d.ops <- op:
	default:
		d.log.Warn("presence mailbox full, dropping notification",
			zap.String("user_id", userID),
			zap.String("conversation_id", summary.ConversationID))
	}
}

// broadcast sends ev to every session except skip. Failures are swallowed; removal is
// left to the transport's close notification.
func (d *Directory) broadcast(ev model.Event, skip *session.Session) {
	for _, s := range d.table.sessions() {
		if s == skip {
			continue
		}
		d.deliver(s, ev)
	}
}

func (d *Directory) deliver(s *session.Session, ev model.Event) {
	if err := s.Send(ev); err != nil {
		d.log.Debug("presence send failed",
			zap.String("user_id", s.UserID),
			zap.String("session_id", s.ID),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
	}
}

func (d *Directory) recordGauges() {
	d.metrics.SetPresence(len(d.table.users()), len(d.table.sessions()))
}
