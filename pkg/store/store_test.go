package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/snowflake"
)

type storeFactory func(t *testing.T) MessageStore

func backends(t *testing.T) map[string]storeFactory {
	out := map[string]storeFactory{
		"memory": func(t *testing.T) MessageStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) MessageStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if url := os.Getenv("RELAY_TEST_POSTGRES_URL"); url != "" {
		out["postgres"] = func(t *testing.T) MessageStore {
			ctx := context.Background()
			s, err := NewPostgresStore(ctx, url)
			require.NoError(t, err)
			require.NoError(t, s.Migrate(ctx))
			require.NoError(t, s.truncate(ctx))
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	if hosts := os.Getenv("RELAY_TEST_SCYLLA_HOSTS"); hosts != "" {
		out["scylla"] = func(t *testing.T) MessageStore {
			h := strings.Split(hosts, ",")
			require.NoError(t, db.EnsureKeyspace(h, "chat_test"))
			session, err := db.NewSession(h, "chat_test")
			require.NoError(t, err)
			node, err := snowflake.NewNode(7)
			require.NoError(t, err)
			s := NewScyllaStore(session, node)
			require.NoError(t, s.Migrate(context.Background()))
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

// conv returns a conversation id unique to the test run so shared backends need no cleanup.
func conv() string {
	return "dm:alice:bob-" + uuid.NewString()[:8]
}

func TestMessageStore(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("insert assigns id and sent status", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				c := conv()

				m, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "alice", ReceiverID: "bob", Content: "hi"})
				require.NoError(t, err)
				assert.NotZero(t, m.ID)
				assert.Equal(t, model.StatusSent, m.Status)
				assert.Equal(t, c, m.ConversationID)
				assert.False(t, m.CreatedAt.IsZero())

				last, err := s.LastMessage(ctx, c)
				require.NoError(t, err)
				require.NotNil(t, last)
				assert.Equal(t, m.ID, last.ID)
				assert.Equal(t, "hi", last.Content)
			})

			t.Run("last message of empty conversation is nil", func(t *testing.T) {
				s := factory(t)
				last, err := s.LastMessage(context.Background(), conv())
				require.NoError(t, err)
				assert.Nil(t, last)
			})

			t.Run("update status is conditional", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				c := conv()

				m, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "alice", ReceiverID: "bob", Content: "hi"})
				require.NoError(t, err)

				require.NoError(t, s.UpdateStatus(ctx, c, m.ID, model.StatusSent, model.StatusDelivered))
				err = s.UpdateStatus(ctx, c, m.ID, model.StatusSent, model.StatusDelivered)
				assert.ErrorIs(t, err, ErrStatusConflict)

				last, err := s.LastMessage(ctx, c)
				require.NoError(t, err)
				assert.Equal(t, model.StatusDelivered, last.Status)
			})

			t.Run("unread count and mark all read", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				c := conv()

				var ids []int64
				for _, text := range []string{"one", "two", "three"} {
					m, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "alice", ReceiverID: "bob", Content: text})
					require.NoError(t, err)
					require.NoError(t, s.UpdateStatus(ctx, c, m.ID, model.StatusSent, model.StatusDelivered))
					ids = append(ids, m.ID)
				}
				// A message in the other direction never counts for bob.
				_, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "bob", ReceiverID: "alice", Content: "yo"})
				require.NoError(t, err)

				n, err := s.CountUnread(ctx, c, "bob")
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				receipts, err := s.MarkAllRead(ctx, c, "bob")
				require.NoError(t, err)
				require.Len(t, receipts, 3)
				for i, r := range receipts {
					assert.Equal(t, ids[i], r.ID)
					assert.Equal(t, "alice", r.SenderID)
				}

				n, err = s.CountUnread(ctx, c, "bob")
				require.NoError(t, err)
				assert.Zero(t, n)

				again, err := s.MarkAllRead(ctx, c, "bob")
				require.NoError(t, err)
				assert.Empty(t, again)
			})

			t.Run("mark all read skips sent messages", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				c := conv()

				_, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "alice", ReceiverID: "bob", Content: "offline"})
				require.NoError(t, err)

				receipts, err := s.MarkAllRead(ctx, c, "bob")
				require.NoError(t, err)
				assert.Empty(t, receipts)

				n, err := s.CountUnread(ctx, c, "bob")
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("history returns newest window oldest first", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				c := conv()

				for _, text := range []string{"a", "b", "c", "d"} {
					_, err := s.Insert(ctx, NewMessage{ConversationID: c, SenderID: "alice", ReceiverID: "bob", Content: text})
					require.NoError(t, err)
				}

				msgs, err := s.History(ctx, c, 3)
				require.NoError(t, err)
				var got []string
				for _, m := range msgs {
					got = append(got, m.Content)
				}
				assert.Equal(t, []string{"b", "c", "d"}, got)
			})
		})
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, clampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, clampLimit(-3))
	assert.Equal(t, DefaultHistoryLimit, clampLimit(10_000))
	assert.Equal(t, 20, clampLimit(20))
}

func TestSQLiteRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	m, err := s.Insert(ctx, NewMessage{ConversationID: "dm:alice:bob", SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)
	_, err = s.conn.ExecContext(ctx, `UPDATE messages SET status = 'seen' WHERE id = ?`, m.ID)
	require.NoError(t, err)

	_, err = s.LastMessage(ctx, "dm:alice:bob")
	assert.ErrorContains(t, err, `unknown message status "seen"`)
	_, err = s.History(ctx, "dm:alice:bob", 10)
	assert.Error(t, err)
}
