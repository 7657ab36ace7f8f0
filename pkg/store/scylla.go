package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/snowflake"
)

// ScyllaStore keeps messages partitioned by conversation with snowflake ids as the
// clustering key, newest first.
type ScyllaStore struct {
	db   *db.Session
	node *snowflake.Node
}

func NewScyllaStore(session *db.Session, node *snowflake.Node) *ScyllaStore {
	return &ScyllaStore{db: session, node: node}
}

func (s *ScyllaStore) Close() error {
	s.db.Close()
	return nil
}

func (s *ScyllaStore) Migrate(ctx context.Context) error {
	err := s.db.Query(`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		receiver_id text,
		content text,
		status text,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

func (s *ScyllaStore) Insert(ctx context.Context, m NewMessage) (model.Message, error) {
	id := s.node.Generate()
	msg := model.Message{
		ID:             id,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         model.StatusSent,
		CreatedAt:      snowflake.Time(id),
	}
	err := s.db.Query(`INSERT INTO messages (conversation_id, id, sender_id, receiver_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Status), msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// UpdateStatus uses a lightweight transaction so concurrent writers cannot regress status.
func (s *ScyllaStore) UpdateStatus(ctx context.Context, conversationID string, id int64, from, to model.Status) error {
	current := map[string]interface{}{}
	applied, err := s.db.Query(`UPDATE messages SET status = ? WHERE conversation_id = ? AND id = ? IF status = ?`,
		string(to), conversationID, id, string(from),
	).WithContext(ctx).MapScanCAS(current)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if v, ok := current["status"]; !ok || v == nil {
		return ErrNotFound
	}
	return ErrStatusConflict
}

type scyllaRow struct {
	id         int64
	senderID   string
	receiverID string
	status     string
}

func (s *ScyllaStore) scanRows(ctx context.Context, conversationID string) ([]scyllaRow, error) {
	iter := s.db.Query(`SELECT id, sender_id, receiver_id, status FROM messages WHERE conversation_id = ?`,
		conversationID).WithContext(ctx).Iter()

	var out []scyllaRow
	var r scyllaRow
	for iter.Scan(&r.id, &r.senderID, &r.receiverID, &r.status) {
		out = append(out, r)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ScyllaStore) CountUnread(ctx context.Context, conversationID, receiverID string) (int, error) {
	rows, err := s.scanRows(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if r.receiverID == receiverID && r.status != string(model.StatusRead) {
			n++
		}
	}
	return n, nil
}

func (s *ScyllaStore) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]ReadReceipt, error) {
	rows, err := s.scanRows(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var out []ReadReceipt
	for _, r := range rows {
		if r.receiverID != readerID || r.status != string(model.StatusDelivered) {
			continue
		}
		err := s.UpdateStatus(ctx, conversationID, r.id, model.StatusDelivered, model.StatusRead)
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			sortReceipts(out)
			return out, err
		}
		out = append(out, ReadReceipt{ID: r.id, SenderID: r.senderID})
	}
	sortReceipts(out)
	return out, nil
}

func (s *ScyllaStore) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	msgs, err := s.newest(ctx, conversationID, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *ScyllaStore) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	msgs, err := s.newest(ctx, conversationID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *ScyllaStore) newest(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	iter := s.db.Query(`SELECT id, sender_id, receiver_id, content, status, created_at
		FROM messages WHERE conversation_id = ? LIMIT ?`, conversationID, limit).WithContext(ctx).Iter()

	var out []model.Message
	var status string
	var createdAt time.Time
	m := model.Message{ConversationID: conversationID}
	for iter.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &status, &createdAt) {
		parsed, err := model.ParseStatus(status)
		if err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		m.Status = parsed
		m.CreatedAt = createdAt.UTC()
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func sortReceipts(rs []ReadReceipt) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
