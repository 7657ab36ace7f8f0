package store

import (
	"context"
	"errors"

	"github.com/mahaj/chat-relay/pkg/model"
)

var (
	// ErrStatusConflict is returned by UpdateStatus when the stored status is not the
	// expected one, i.e. another writer already moved the message.
	ErrStatusConflict = errors.New("message status conflict")
	ErrNotFound       = errors.New("message not found")
)

// NewMessage is the input of Insert; id, status and created_at are assigned by the store.
type NewMessage struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
}

// ReadReceipt identifies a message moved to read by MarkAllRead.
type ReadReceipt struct {
	ID       int64
	SenderID string
}

// MessageStore is the durable message storage used by relays and the API.
type MessageStore interface {
	// Insert persists a message with status sent and returns the stored record.
	Insert(ctx context.Context, m NewMessage) (model.Message, error)
	// UpdateStatus moves a message from one status to another, failing with
	// ErrStatusConflict when the current status is not from.
	UpdateStatus(ctx context.Context, conversationID string, id int64, from, to model.Status) error
	// CountUnread counts messages to receiverID in the conversation that are not read.
	CountUnread(ctx context.Context, conversationID, receiverID string) (int, error)
	// MarkAllRead moves every delivered message addressed to readerID to read.
	MarkAllRead(ctx context.Context, conversationID, readerID string) ([]ReadReceipt, error)
	// LastMessage returns the newest message of the conversation, or nil when it is empty.
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	// History returns up to limit of the newest messages, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	Migrate(ctx context.Context) error
	Close() error
}

const DefaultHistoryLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultHistoryLimit
	}
	return limit
}
