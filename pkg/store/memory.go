package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/chat-relay/pkg/model"
)

// MemoryStore keeps messages in process memory. Used for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	convs  map[string][]*model.Message
	nowFn  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string][]*model.Message),
		nowFn: time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, m NewMessage) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg := &model.Message{
		ID:             s.nextID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         model.StatusSent,
		CreatedAt:      s.nowFn().UTC(),
	}
	s.convs[m.ConversationID] = append(s.convs[m.ConversationID], msg)
	return *msg, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, conversationID string, id int64, from, to model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.convs[conversationID] {
		if msg.ID != id {
			continue
		}
		if msg.Status != from {
			return ErrStatusConflict
		}
		msg.Status = to
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) CountUnread(_ context.Context, conversationID, receiverID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, msg := range s.convs[conversationID] {
		if msg.ReceiverID == receiverID && msg.Status != model.StatusRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, conversationID, readerID string) ([]ReadReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ReadReceipt
	for _, msg := range s.convs[conversationID] {
		if msg.ReceiverID == readerID && msg.Status == model.StatusDelivered {
			msg.Status = model.StatusRead
			out = append(out, ReadReceipt{ID: msg.ID, SenderID: msg.SenderID})
		}
	}
	return out, nil
}

func (s *MemoryStore) LastMessage(_ context.Context, conversationID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.convs[conversationID]
	if len(msgs) == 0 {
		return nil, nil
	}
	last := *msgs[len(msgs)-1]
	return &last, nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.convs[conversationID]
	limit = clampLimit(limit)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a copy of a stored message. Test helper.
func (s *MemoryStore) Get(conversationID string, id int64) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.convs[conversationID] {
		if msg.ID == id {
			return *msg, true
		}
	}
	return model.Message{}, false
}

// Len returns the number of messages stored across all conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, msgs := range s.convs {
		n += len(msgs)
	}
	return n
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }
