package profile

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached puts a size and TTL bounded LRU in front of GetProfile. Entries may be up to the
// TTL old, so it serves display names only: push tokens must be read from the backing
// store, and block lists always go to the backing store so the gate never decides on
// stale data.
type Cached struct {
	Store
	profiles *expirable.LRU[string, *Profile]
}

func NewCached(store Store, size int, ttl time.Duration) *Cached {
	return &Cached{
		Store:    store,
		profiles: expirable.NewLRU[string, *Profile](size, nil, ttl),
	}
}

func (c *Cached) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := c.profiles.Get(userID); ok {
		return p, nil
	}
	p, err := c.Store.GetProfile(ctx, userID)
	if err != nil || p == nil {
		return p, err
	}
	c.profiles.Add(userID, p)
	return p, nil
}
