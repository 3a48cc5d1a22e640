package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"dukapos/internal/domain"
)

// attempt is one settlement run. Every Submit carrying the same key shares it.
type attempt struct {
	id   string
	key  string
	done chan struct{}

	sale       domain.Sale
	err        error
	finishedAt time.Time
}

// registry maps idempotency keys to attempts. Committed attempts and timed-out
// payments stay for ttl; other failures are forgotten so the key can be retried.
type registry struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]*attempt
}

func newRegistry(ttl time.Duration, now func() time.Time) *registry {
	return &registry{ttl: ttl, now: now, m: make(map[string]*attempt)}
}

// begin returns the attempt for key and whether the caller must run it.
func (r *registry) begin(key string) (*attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	if a, ok := r.m[key]; ok {
		return a, false
	}
	a := &attempt{id: uuid.NewString(), key: key, done: make(chan struct{})}
	r.m[key] = a
	return a, true
}

func (r *registry) finish(a *attempt, sale domain.Sale, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.sale, a.err = sale, err
	a.finishedAt = r.now()
	close(a.done)
	if err != nil && !domain.TimedOut(err) {
		if r.m[a.key] == a {
			delete(r.m, a.key)
		}
	}
}

func (r *registry) pruneLocked() {
	now := r.now()
	for k, a := range r.m {
		select {
		case <-a.done:
			if now.Sub(a.finishedAt) > r.ttl {
				delete(r.m, k)
			}
		default:
		}
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
