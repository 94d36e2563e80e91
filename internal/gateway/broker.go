package gateway

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"kana-backend/internal/shared/telemetry"
)

// ErrTooManySessions is returned by Open when the session limit is reached.
var ErrTooManySessions = errors.New("too many sessions")

// Broker owns one worker per session.
type Broker struct {
	deps Deps
	max  int

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewBroker creates a broker allowing up to maxSessions live workers; zero
// means no limit.
func NewBroker(deps Deps, maxSessions int) *Broker {
	return &Broker{deps: deps, max: maxSessions, workers: map[string]*Worker{}}
}

// Open starts a worker and returns its session id.
func (b *Broker) Open() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.workers) >= b.max {
		return "", ErrTooManySessions
	}
	id := uuid.NewString()
	b.workers[id] = NewWorker(b.deps)
	telemetry.Info("gateway.session.open", map[string]any{"session_id": id, "sessions": len(b.workers)})
	return id, nil
}

// Get returns the worker for a session.
func (b *Broker) Get(id string) (*Worker, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workers[id]
	return w, ok
}

// CloseSession stops a session's worker, reporting whether it existed.
func (b *Broker) CloseSession(id string) bool {
	b.mu.Lock()
	w, ok := b.workers[id]
	delete(b.workers, id)
	b.mu.Unlock()
	if !ok {
		return false
	}
	w.Close()
	telemetry.Info("gateway.session.closed", map[string]any{"session_id": id})
	return true
}

// Len returns the number of live sessions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.workers)
}

// Close stops every worker.
func (b *Broker) Close() {
	b.mu.Lock()
	workers := b.workers
	b.workers = map[string]*Worker{}
	b.mu.Unlock()
	for _, w := range workers {
		w.Close()
	}
}
