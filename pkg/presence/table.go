package presence

import (
	"sort"

	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/session"
)

// table is the directory's user -> session index. Every replace-or-insert decision goes
// through upsert so the presence policy can be swapped without touching the Directory.
type table interface {
	// upsert records s as live for its user.
	upsert(s *session.Session)
	// remove drops s and reports whether its user should now be announced offline.
	remove(s *session.Session) bool
	lookup(userID string) (*session.Session, bool)
	users() []string
	sessions() []*session.Session
}

func newTable(policy string) table {
	if policy == config.PresenceRefCounted {
		return &refCounted{entries: make(map[string][]*session.Session)}
	}
	return &lastWins{entries: make(map[string]*session.Session)}
}

// lastWins keeps one session per user. A second connection for the same user silently
// replaces the first, and closing either connection removes the user, so the older socket's
// close announces the user offline while the newer socket is still open.
type lastWins struct {
	entries map[string]*session.Session
}

func (t *lastWins) upsert(s *session.Session) {
	t.entries[s.UserID] = s
}

func (t *lastWins) remove(s *session.Session) bool {
	delete(t.entries, s.UserID)
	return true
}

func (t *lastWins) lookup(userID string) (*session.Session, bool) {
	s, ok := t.entries[userID]
	return s, ok
}

func (t *lastWins) users() []string {
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *lastWins) sessions() []*session.Session {
	out := make([]*session.Session, 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s)
	}
	return out
}

// refCounted keeps every session per user; the user goes offline with its last session.
type refCounted struct {
	entries map[string][]*session.Session
}

func (t *refCounted) upsert(s *session.Session) {
	t.entries[s.UserID] = append(t.entries[s.UserID], s)
}

func (t *refCounted) remove(s *session.Session) bool {
	list, ok := t.entries[s.UserID]
	if !ok {
		return false
	}
	for i, cur := range list {
		if cur == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) > 0 {
		t.entries[s.UserID] = list
		return false
	}
	delete(t.entries, s.UserID)
	return true
}

func (t *refCounted) lookup(userID string) (*session.Session, bool) {
	list := t.entries[userID]
	if len(list) == 0 {
		return nil, false
	}
	return list[len(list)-1], true
}

func (t *refCounted) users() []string {
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *refCounted) sessions() []*session.Session {
	var out []*session.Session
	for _, list := range t.entries {
		out = append(out, list...)
	}
	return out
}
