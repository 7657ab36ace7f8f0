package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/store"
)

// advance moves msg one step along sent -> delivered -> read, persists the step and tells
// the sender. A conflicting stored status means another writer got there first; the
// message is left as stored and nobody is notified.
func (r *Relay) advance(ctx context.Context, msg *model.Message, next model.Status) error {
	if !msg.Status.CanAdvanceTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s for message %d", msg.Status, next, msg.ID)
	}

	err := r.deps.Store.UpdateStatus(ctx, r.id, msg.ID, msg.Status, next)
	if errors.Is(err, store.ErrStatusConflict) {
		r.log.Warn("status already moved",
			zap.Int64("message_id", msg.ID),
			zap.String("from", string(msg.Status)),
			zap.String("to", string(next)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: update status to %s: %w", ErrPersistence, next, err)
	}

	msg.Status = next
	r.deps.Metrics.RecordTransition(string(next))
	r.sendTo(msg.SenderID, model.StatusUpdate(msg.ID, next))
	return nil
}
