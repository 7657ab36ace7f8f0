package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/session"
)

// Registry creates relays on first use, one per conversation id, and forgets them when
// they evict themselves.
type Registry struct {
	ctx  context.Context
	deps Deps
	log  *zap.Logger
	idle time.Duration

	mu     sync.Mutex
	relays map[string]*Relay
	wg     sync.WaitGroup
}

// NewRegistry returns a registry whose relays run until ctx is cancelled.
func NewRegistry(ctx context.Context, deps Deps, log *zap.Logger, idle time.Duration) *Registry {
	return &Registry{
		ctx:    ctx,
		deps:   deps,
		log:    log.Named("relay"),
		idle:   idle,
		relays: make(map[string]*Relay),
	}
}

// Get returns the running relay for conversationID, starting one if needed.
func (g *Registry) Get(conversationID string) (*Relay, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.relays[conversationID]; ok {
		return r, nil
	}
	if err := g.ctx.Err(); err != nil {
		return nil, ErrStopped
	}

	var r *Relay
	r, err := newRelay(conversationID, g.deps, g.log, g.idle, func() { g.forget(conversationID, r) })
	if err != nil {
		return nil, err
	}
	g.relays[conversationID] = r
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		r.Run(g.ctx)
	}()
	return r, nil
}

func (g *Registry) lookup(conversationID string) (*Relay, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.relays[conversationID]
	return r, ok
}

func (g *Registry) forget(conversationID string, r *Relay) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.relays[conversationID] == r {
		delete(g.relays, conversationID)
	}
}

// Len returns the number of running relays.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.relays)
}

// Wait blocks until every relay has stopped. Call after cancelling the registry context.
func (g *Registry) Wait() {
	g.wg.Wait()
}

// with runs fn against the relay for conversationID. A relay that stopped between Get and
// fn is replaced by a fresh one.
func (g *Registry) with(conversationID string, fn func(*Relay) error) error {
	for {
		r, err := g.Get(conversationID)
		if err != nil {
			return err
		}
		err = fn(r)
		if !errors.Is(err, ErrStopped) || g.ctx.Err() != nil {
			return err
		}
		g.forget(conversationID, r)
	}
}

func (g *Registry) AttachSession(ctx context.Context, s *session.Session) error {
	return g.with(s.ConversationID, func(r *Relay) error {
		return r.AttachSession(ctx, s)
	})
}

// DetachSession is a no-op when the relay is gone: an evicted relay had no sessions.
func (g *Registry) DetachSession(ctx context.Context, s *session.Session) error {
	r, ok := g.lookup(s.ConversationID)
	if !ok {
		return nil
	}
	err := r.DetachSession(ctx, s)
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

func (g *Registry) AcceptMessage(ctx context.Context, conversationID string, req AcceptRequest) (Result, error) {
	var res Result
	err := g.with(conversationID, func(r *Relay) error {
		var err error
		res, err = r.AcceptMessage(ctx, req)
		return err
	})
	return res, err
}

func (g *Registry) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := g.with(conversationID, func(r *Relay) error {
		var err error
		n, err = r.MarkRead(ctx, readerID)
		return err
	})
	return n, err
}
