package gate

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

// Reason explains why a message may not pass the gate.
type Reason string

const (
	ReasonNone Reason = ""
	// ReasonBlocked means the receiver has the sender on their block list.
	ReasonBlocked Reason = "blocked"
	// ReasonUnresolved means the block list could not be fetched or read.
	ReasonUnresolved Reason = "unresolved"
)

// BlockListSource fetches a user's block list from the relationship store.
type BlockListSource interface {
	GetBlockList(ctx context.Context, userID string) ([]string, error)
}

// Decision is the result of a gate check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// IsBlocked reports whether candidateID appears in blockList.
func IsBlocked(blockList []string, candidateID string) bool {
	return slices.Contains(blockList, candidateID)
}

// Gate decides whether a sender may reach a receiver. It fails closed: anything short of a
// successfully fetched block list that omits the sender is a drop.
type Gate struct {
	source BlockListSource
	log    *zap.Logger
}

func New(source BlockListSource, log *zap.Logger) *Gate {
	return &Gate{source: source, log: log.Named("gate")}
}

func (g *Gate) Check(ctx context.Context, senderID, receiverID string) Decision {
	blockList, err := g.source.GetBlockList(ctx, receiverID)
	if err != nil {
		g.log.Warn("block list lookup failed, dropping message",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.Error(err))
		return Decision{Reason: ReasonUnresolved}
	}
	if IsBlocked(blockList, senderID) {
		g.log.Info("sender blocked by receiver",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID))
		return Decision{Reason: ReasonBlocked}
	}
	return Decision{Allowed: true}
}
