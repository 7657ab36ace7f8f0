package profile

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

func userKey(id string) string       { return "user:" + id }
func blockedKey(id string) string    { return "user:" + id + ":blocked" }
func interestedKey(id string) string { return "user:" + id + ":interested_by" }

// RedisStore keeps profiles as hashes and relationships as sets.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	fields, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &Profile{
		UserID:    userID,
		Name:      fields["name"],
		PushToken: fields["push_token"],
	}, nil
}

func (s *RedisStore) GetBlockList(ctx context.Context, userID string) ([]string, error) {
	var (
		exists  *redis.IntCmd
		members *redis.StringSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, userKey(userID))
		members = pipe.SMembers(ctx, blockedKey(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get block list %s: %w", userID, err)
	}
	if exists.Val() == 0 {
		return nil, ErrUnknownUser
	}
	list := members.Val()
	sort.Strings(list)
	return list, nil
}

// UpsertProfile writes name and, when set, push token. An empty token keeps the stored one.
func (s *RedisStore) UpsertProfile(ctx context.Context, p Profile) error {
	values := map[string]any{"name": p.Name}
	if p.PushToken != "" {
		values["push_token"] = p.PushToken
	}
	return s.rdb.HSet(ctx, userKey(p.UserID), values).Err()
}

func (s *RedisStore) Block(ctx context.Context, userID, targetID string) error {
	return s.rdb.SAdd(ctx, blockedKey(userID), targetID).Err()
}

func (s *RedisStore) Unblock(ctx context.Context, userID, targetID string) error {
	return s.rdb.SRem(ctx, blockedKey(userID), targetID).Err()
}

func (s *RedisStore) RecordInterest(ctx context.Context, fromID, toID string) error {
	return s.rdb.SAdd(ctx, interestedKey(toID), fromID).Err()
}

func (s *RedisStore) InterestedBy(ctx context.Context, userID string) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, interestedKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}
