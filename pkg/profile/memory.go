package profile

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Repository used when no Redis address is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	profiles   map[string]Profile
	blocked    map[string]map[string]struct{}
	interested map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:   make(map[string]Profile),
		blocked:    make(map[string]map[string]struct{}),
		interested: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) GetBlockList(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.profiles[userID]; !ok {
		return nil, ErrUnknownUser
	}
	return members(s.blocked[userID]), nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PushToken == "" {
		p.PushToken = s.profiles[p.UserID].PushToken
	}
	s.profiles[p.UserID] = p
	return nil
}

func (s *MemoryStore) Block(_ context.Context, userID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.blocked, userID, targetID)
	return nil
}

func (s *MemoryStore) Unblock(_ context.Context, userID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked[userID], targetID)
	return nil
}

func (s *MemoryStore) RecordInterest(_ context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.interested, toID, fromID)
	return nil
}

func (s *MemoryStore) InterestedBy(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return members(s.interested[userID]), nil
}

func add(sets map[string]map[string]struct{}, key, member string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[member] = struct{}{}
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
