package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahaj/chat-relay/pkg/model"
)

// PostgresStore handles message persistence in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, receiver_id, status)`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, m NewMessage) (model.Message, error) {
	msg := model.Message{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Status:         model.StatusSent,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Status)).Scan(
		&msg.ID,
		&msg.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, conversationID string, id int64, from, to model.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $1
		WHERE id = $2 AND conversation_id = $3 AND status = $4
	`, string(to), id, conversationID, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2`,
		id, conversationID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, receiverID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND status != 'read'
	`, conversationID, receiverID).Scan(&n)
	return n, err
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]ReadReceipt, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET status = 'read'
		WHERE conversation_id = $1 AND receiver_id = $2 AND status = 'delivered'
		RETURNING id, sender_id
	`, conversationID, readerID)
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

func scanPostgresMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	var status string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &status, &m.CreatedAt); err != nil {
		return m, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	var err error
	m.Status, err = model.ParseStatus(status)
	return m, err
}

func (s *PostgresStore) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	m, err := scanPostgresMessage(s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, status, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1
	`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, status, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
	`, conversationID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanPostgresMessage(rows)
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

// truncate clears the messages table. Test helper.
func (s *PostgresStore) truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE messages RESTART IDENTITY`)
	return err
}
