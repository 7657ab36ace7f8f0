package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/gate"
	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/session"
	"github.com/mahaj/chat-relay/pkg/store"
)

var (
	// ErrPersistence wraps every failed store write. Nothing is broadcast before the
	// insert succeeds.
	ErrPersistence = errors.New("persistence failure")
	// ErrStopped is returned by a relay that was evicted or shut down. The Registry
	// retries on a fresh relay.
	ErrStopped        = errors.New("relay stopped")
	ErrNotParticipant = model.ErrNotParticipant
)

// Gate decides whether a sender may reach a receiver.
type Gate interface {
	Check(ctx context.Context, senderID, receiverID string) gate.Decision
}

// Directory is the view of the presence directory a relay needs.
type Directory interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	NotifyIfOnline(userID string, summary model.UnreadSummary)
}

// Pusher sends an out-of-band notification for a message whose receiver is offline.
type Pusher interface {
	Dispatch(ctx context.Context, msg model.Message) error
}

// Deps are the collaborators shared by every relay.
type Deps struct {
	Store     store.MessageStore
	Gate      Gate
	Directory Directory
	Pusher    Pusher
	Metrics   *metrics.Metrics
}

type AcceptRequest struct {
	SenderID   string
	ReceiverID string
	Content    string
}

// Dropped is the silent outcome of a message stopped by the gate. It is never surfaced
// to the sender.
type Dropped struct {
	Reason gate.Reason
}

// Result of AcceptMessage. Exactly one of Message and Dropped is set.
type Result struct {
	Message *model.Message
	Dropped *Dropped
}

// Relay owns one conversation: its attached sessions and the delivery of its messages.
// Every operation runs on the Run goroutine, one at a time, to completion.
type Relay struct {
	id      string
	a, b    string
	deps    Deps
	log     *zap.Logger
	members []*session.Session

	ops     chan func()
	done    chan struct{}
	idle    time.Duration
	onEvict func()
}

func newRelay(id string, deps Deps, log *zap.Logger, idle time.Duration, onEvict func()) (*Relay, error) {
	a, b, err := model.Participants(id)
	if err != nil {
		return nil, err
	}
	return &Relay{
		id:      id,
		a:       a,
		b:       b,
		deps:    deps,
		log:     log.With(zap.String("conversation_id", id)),
		ops:     make(chan func()),
		done:    make(chan struct{}),
		idle:    idle,
		onEvict: onEvict,
	}, nil
}

func (r *Relay) ID() string { return r.id }

// Run serves operations until ctx is cancelled or the relay has had no sessions and no
// operations for the idle timeout.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	r.deps.Metrics.RelayStarted()
	defer r.deps.Metrics.RelayStopped()

	var idle <-chan time.Time
	var timer *time.Timer
	if r.idle > 0 {
		timer = time.NewTimer(r.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case op := <-r.ops:
			op()
			if timer != nil {
				timer.Reset(r.idle)
			}
		case <-idle:
			if len(r.members) > 0 {
				timer.Reset(r.idle)
				continue
			}
			if r.onEvict != nil {
				r.onEvict()
			}
			r.log.Debug("relay evicted")
			return
		case <-ctx.Done():
			for _, s := range r.members {
				_ = s.Conn.Close()
			}
			r.deps.Metrics.AddRelaySessions(-len(r.members))
			r.members = nil
			return
		}
	}
}

func (r *Relay) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

func (r *Relay) isParticipant(userID string) bool {
	return userID == r.a || userID == r.b
}

func (r *Relay) other(userID string) string {
	if userID == r.a {
		return r.b
	}
	return r.a
}

// AttachSession adds s to the conversation. s first receives the users already attached,
// then the others learn that s.UserID is online. A previous session of the same user is
// replaced and closed.
func (r *Relay) AttachSession(ctx context.Context, s *session.Session) error {
	if !r.isParticipant(s.UserID) {
		return ErrNotParticipant
	}
	var err error
	doErr := r.do(ctx, func() {
		if i := r.indexOfUser(s.UserID); i >= 0 {
			old := r.members[i]
			r.members = slices.Delete(r.members, i, i+1)
			r.deps.Metrics.AddRelaySessions(-1)
			_ = old.Conn.Close()
			r.log.Debug("session replaced", zap.String("user_id", s.UserID), zap.String("session_id", old.ID))
		}

		for _, m := range r.members {
			if err = s.Send(model.PresenceUpdate(m.UserID, model.PresenceOnline)); err != nil {
				return
			}
		}
		r.members = append(r.members, s)
		r.deps.Metrics.AddRelaySessions(1)
		r.broadcast(model.PresenceUpdate(s.UserID, model.PresenceOnline), s)
		r.log.Info("session attached", zap.String("user_id", s.UserID), zap.String("session_id", s.ID))
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// DetachSession removes s. The remaining sessions are told the user went offline, unless
// s had already been replaced or pruned.
func (r *Relay) DetachSession(ctx context.Context, s *session.Session) error {
	return r.do(ctx, func() {
		i := slices.Index(r.members, s)
		if i < 0 {
			return
		}
		r.members = slices.Delete(r.members, i, i+1)
		r.deps.Metrics.AddRelaySessions(-1)
		r.broadcast(model.PresenceUpdate(s.UserID, model.PresenceOffline), nil)
		r.log.Info("session detached",
			zap.String("user_id", s.UserID),
			zap.String("session_id", s.ID),
			zap.Duration("connected_for", s.Age()))
	})
}

// AcceptMessage gates, persists, fans out and delivers one message.
func (r *Relay) AcceptMessage(ctx context.Context, req AcceptRequest) (Result, error) {
	if !r.isParticipant(req.SenderID) || req.ReceiverID != r.other(req.SenderID) {
		return Result{}, ErrNotParticipant
	}
	var (
		res Result
		err error
	)
	doErr := r.do(ctx, func() {
		res, err = r.accept(context.WithoutCancel(ctx), req)
	})
	if doErr != nil {
		return Result{}, doErr
	}
	return res, err
}

func (r *Relay) accept(ctx context.Context, req AcceptRequest) (Result, error) {
	decision := r.deps.Gate.Check(ctx, req.SenderID, req.ReceiverID)
	if !decision.Allowed {
		if decision.Reason == gate.ReasonBlocked {
			r.deps.Metrics.RecordMessage(metrics.OutcomeDroppedBlocked)
		} else {
			r.deps.Metrics.RecordMessage(metrics.OutcomeDroppedUnresolved)
		}
		return Result{Dropped: &Dropped{Reason: decision.Reason}}, nil
	}

	msg, err := r.deps.Store.Insert(ctx, store.NewMessage{
		ConversationID: r.id,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
	})
	if err != nil {
		r.deps.Metrics.RecordMessage(metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("%w: insert message: %w", ErrPersistence, err)
	}
	r.deps.Metrics.RecordMessage(metrics.OutcomePersisted)
	r.deps.Metrics.RecordTransition(string(model.StatusSent))

	r.broadcast(model.NewMessageEvent(msg), nil)
	r.notifyUnread(ctx, req.ReceiverID, &msg)

	online, err := r.deps.Directory.IsOnline(ctx, req.ReceiverID)
	if err != nil {
		r.log.Warn("presence query failed, treating receiver as offline",
			zap.String("user_id", req.ReceiverID), zap.Error(err))
		online = false
	}
	if !online {
		if err := r.deps.Pusher.Dispatch(ctx, msg); err != nil {
			r.log.Warn("push dispatch failed",
				zap.Int64("message_id", msg.ID),
				zap.String("user_id", req.ReceiverID),
				zap.Error(err))
		}
	}

	if err := r.advance(ctx, &msg, model.StatusDelivered); err != nil {
		return Result{}, err
	}
	return Result{Message: &msg}, nil
}

// MarkRead moves every delivered message addressed to readerID to read and returns how
// many changed.
func (r *Relay) MarkRead(ctx context.Context, readerID string) (int, error) {
	if !r.isParticipant(readerID) {
		return 0, ErrNotParticipant
	}
	var (
		n   int
		err error
	)
	doErr := r.do(ctx, func() {
		n, err = r.markRead(context.WithoutCancel(ctx), readerID)
	})
	if doErr != nil {
		return 0, doErr
	}
	return n, err
}

func (r *Relay) markRead(ctx context.Context, readerID string) (int, error) {
	// A failing store may still have moved some rows; their receipts are reported
	// before the error since a retry will not return them again.
	receipts, err := r.deps.Store.MarkAllRead(ctx, r.id, readerID)
	for _, rc := range receipts {
		r.deps.Metrics.RecordTransition(string(model.StatusRead))
		r.sendTo(rc.SenderID, model.StatusUpdate(rc.ID, model.StatusRead))
	}
	if err != nil {
		return len(receipts), fmt.Errorf("%w: mark read: %w", ErrPersistence, err)
	}
	if len(receipts) == 0 {
		return 0, nil
	}

	last, err := r.deps.Store.LastMessage(ctx, r.id)
	if err != nil {
		r.log.Warn("load last message failed", zap.Error(err))
		return len(receipts), nil
	}
	r.notifyUnread(ctx, readerID, last)
	r.notifyUnread(ctx, r.other(readerID), last)
	return len(receipts), nil
}

// notifyUnread forwards userID's unread summary for this conversation to the directory.
func (r *Relay) notifyUnread(ctx context.Context, userID string, last *model.Message) {
	if last == nil {
		return
	}
	n, err := r.deps.Store.CountUnread(ctx, r.id, userID)
	if err != nil {
		r.log.Warn("count unread failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	r.deps.Directory.NotifyIfOnline(userID, model.UnreadSummary{
		ConversationID:       r.id,
		LastMessage:          last.Content,
		LastMessageSenderID:  last.SenderID,
		LastMessageTimestamp: last.CreatedAt,
		UnreadCount:          n,
	})
}

// broadcast sends ev to every attached session except skip. Sessions that fail are
// pruned before broadcast returns.
func (r *Relay) broadcast(ev model.Event, skip *session.Session) {
	r.members = slices.DeleteFunc(r.members, func(s *session.Session) bool {
		if s == skip {
			return false
		}
		return !r.deliver(s, ev)
	})
}

// sendTo sends ev to userID's session, if attached.
func (r *Relay) sendTo(userID string, ev model.Event) {
	i := r.indexOfUser(userID)
	if i < 0 {
		return
	}
	if !r.deliver(r.members[i], ev) {
		r.members = slices.Delete(r.members, i, i+1)
	}
}

// deliver reports whether ev was queued on s. On failure s is closed and accounted as
// pruned; the caller removes it from members.
func (r *Relay) deliver(s *session.Session, ev model.Event) bool {
	err := s.Send(ev)
	if err == nil {
		return true
	}
	r.log.Debug("pruning session after failed send",
		zap.String("user_id", s.UserID),
		zap.String("session_id", s.ID),
		zap.String("event", string(ev.Type)),
		zap.Error(err))
	_ = s.Conn.Close()
	r.deps.Metrics.RecordPrune("relay")
	r.deps.Metrics.AddRelaySessions(-1)
	return false
}

func (r *Relay) indexOfUser(userID string) int {
	return slices.IndexFunc(r.members, func(s *session.Session) bool { return s.UserID == userID })
}
