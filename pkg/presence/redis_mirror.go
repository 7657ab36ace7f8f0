package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OnlineKey is the Redis set mirroring the directory's online users.
const OnlineKey = "presence:online"

type mirrorEvent struct {
	userID string
	online bool
}

// RedisMirror copies presence transitions into a Redis set so other processes (the API)
// can list online users. It is best-effort and never blocks the directory.
type RedisMirror struct {
	client *redis.Client
	events chan mirrorEvent
	log    *zap.Logger
}

func NewRedisMirror(client *redis.Client, log *zap.Logger) *RedisMirror {
	return &RedisMirror{
		client: client,
		events: make(chan mirrorEvent, 1024),
		log:    log.Named("presence-mirror"),
	}
}

func (m *RedisMirror) UserOnline(userID string)  { m.enqueue(mirrorEvent{userID: userID, online: true}) }
func (m *RedisMirror) UserOffline(userID string) { m.enqueue(mirrorEvent{userID: userID}) }

func (m *RedisMirror) enqueue(ev mirrorEvent) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("presence mirror queue full", zap.String("user_id", ev.userID))
	}
}

// Run clears the set left over from a previous process and applies transitions until
// ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context) {
	if err := m.client.Del(ctx, OnlineKey).Err(); err != nil {
		m.log.Warn("failed to reset presence set", zap.Error(err))
	}
	for {
		select {
		case ev := <-m.events:
			var err error
			if ev.online {
				err = m.client.SAdd(ctx, OnlineKey, ev.userID).Err()
			} else {
				err = m.client.SRem(ctx, OnlineKey, ev.userID).Err()
			}
			if err != nil {
				m.log.Warn("failed to mirror presence", zap.String("user_id", ev.userID), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// OnlineUsers reads the mirrored set.
func OnlineUsers(ctx context.Context, client *redis.Client) ([]string, error) {
	return client.SMembers(ctx, OnlineKey).Result()
}
