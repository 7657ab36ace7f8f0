package profile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func repositories(t *testing.T) map[string]Repository {
	rs, _ := newRedisStore(t)
	return map[string]Repository{
		"redis":  rs,
		"memory": NewMemoryStore(),
	}
}

func TestRepository(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			p, err := repo.GetProfile(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, p, "unknown user has no profile")

			_, err = repo.GetBlockList(ctx, "alice")
			assert.ErrorIs(t, err, ErrUnknownUser)

			require.NoError(t, repo.UpsertProfile(ctx, Profile{UserID: "alice", Name: "Alice", PushToken: "tok-1"}))
			require.NoError(t, repo.UpsertProfile(ctx, Profile{UserID: "alice", Name: "Alice B"}))

			p, err = repo.GetProfile(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, Profile{UserID: "alice", Name: "Alice B", PushToken: "tok-1"}, *p)

			list, err := repo.GetBlockList(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, repo.Block(ctx, "alice", "mallory"))
			require.NoError(t, repo.Block(ctx, "alice", "eve"))
			list, err = repo.GetBlockList(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"eve", "mallory"}, list)

			require.NoError(t, repo.Unblock(ctx, "alice", "eve"))
			list, err = repo.GetBlockList(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"mallory"}, list)

			require.NoError(t, repo.RecordInterest(ctx, "bob", "alice"))
			require.NoError(t, repo.RecordInterest(ctx, "carol", "alice"))
			require.NoError(t, repo.RecordInterest(ctx, "bob", "alice"))
			users, err := repo.InterestedBy(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"bob", "carol"}, users)

			users, err = repo.InterestedBy(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, users)
		})
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	rs, mr := newRedisStore(t)
	mr.Close()

	_, err := rs.GetBlockList(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownUser)
}

type countingStore struct {
	Store
	calls atomic.Int32
}

func (c *countingStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	c.calls.Add(1)
	return c.Store.GetProfile(ctx, userID)
}

func TestCachedProfiles(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.UpsertProfile(ctx, Profile{UserID: "alice", Name: "Alice"}))
	require.NoError(t, mem.Block(ctx, "alice", "mallory"))

	backing := &countingStore{Store: mem}
	cached := NewCached(backing, 8, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := cached.GetProfile(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", p.Name)
	}
	assert.EqualValues(t, 1, backing.calls.Load())

	// Misses are not cached, a later login must be visible.
	p, err := cached.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, mem.UpsertProfile(ctx, Profile{UserID: "bob", Name: "Bob"}))
	p, err = cached.GetProfile(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Bob", p.Name)

	// Hits stay until the TTL; callers needing fresh fields read the backing store.
	require.NoError(t, mem.UpsertProfile(ctx, Profile{UserID: "alice", Name: "Alicia", PushToken: "new"}))
	p, err = cached.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)
	p, err = mem.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", p.PushToken)

	list, err := cached.GetBlockList(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"mallory"}, list)
}
