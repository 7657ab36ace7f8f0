package session

import (
	"sync"

	"github.com/mahaj/chat-relay/pkg/model"
)

// Recorder is an in-memory Connection that keeps every event it is sent.
// Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
	closed bool
	fail   bool
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.fail {
		return ErrSlowConsumer
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FailSends makes every following Send return an error.
func (r *Recorder) FailSends() {
	r.mu.Lock()
	r.fail = true
	r.mu.Unlock()
}

func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type, in order.
func (r *Recorder) OfType(t model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
