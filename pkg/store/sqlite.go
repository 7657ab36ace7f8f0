package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mahaj/chat-relay/pkg/model"
)

// SQLiteStore is a single-node message store backed by an SQLite file.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, receiver_id, status)`,
	}
	for _, q := range queries {
		if _, err := s.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, m NewMessage) (model.Message, error) {
	msg := model.Message{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         model.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	err := s.conn.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, receiver_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Status, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, conversationID string, id int64, from, to model.Status) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ? AND conversation_id = ? AND status = ?`,
		to, id, conversationID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.missOrConflict(ctx, conversationID, id)
	}
	return nil
}

func (s *SQLiteStore) missOrConflict(ctx context.Context, conversationID string, id int64) error {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE id = ? AND conversation_id = ?`, id, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, receiverID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND receiver_id = ? AND status != 'read'`,
		conversationID, receiverID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]ReadReceipt, error) {
	rows, err := s.conn.QueryContext(ctx,
		`UPDATE messages SET status = 'read'
		WHERE conversation_id = ? AND receiver_id = ? AND status = 'delivered'
		RETURNING id, sender_id`,
		conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReadReceipt
	for rows.Next() {
		var r ReadReceipt
		if err := rows.Scan(&r.ID, &r.SenderID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

const sqliteColumns = `id, conversation_id, sender_id, receiver_id, content, status, created_at`

func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		conversationID)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var status string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &status, &m.CreatedAt); err != nil {
		return m, err
	}
	var err error
	m.Status, err = model.ParseStatus(status)
	return m, err
}

func reverse(msgs []model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
