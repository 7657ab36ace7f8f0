package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/chat-relay/pkg/model"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("connection send buffer full")
)

// Connection is a live, message-oriented transport handle supplied by the hosting layer.
// Send must not block on network I/O; a non-nil error means the frame was not queued.
type Connection interface {
	Send(ev model.Event) error
	Close() error
}

// Session binds a Connection to the user that opened it and, for relays, a conversation.
// A Session is owned by exactly one actor.
type Session struct {
	ID             string
	UserID         string
	ConversationID string
	Conn           Connection
	ConnectedAt    time.Time
}

func New(userID, conversationID string, conn Connection) *Session {
	return &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Conn:           conn,
		ConnectedAt:    time.Now(),
	}
}

func (s *Session) Send(ev model.Event) error {
	return s.Conn.Send(ev)
}

// Age is how long the session has been connected.
func (s *Session) Age() time.Duration {
	return time.Since(s.ConnectedAt)
}
