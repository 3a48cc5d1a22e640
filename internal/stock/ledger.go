// Package stock keeps the authoritative available-for-sale count per product and
// hands out reservation tokens that are later committed or released.
package stock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dukapos/internal/domain"
	applog "dukapos/internal/log"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationReleased = errors.New("reservation already released")
	ErrReservationExpired  = errors.New("reservation expired and stock is no longer available")
	ErrBelowReserved       = errors.New("stock is held by sales in progress")
	ErrNegativeStock       = errors.New("stock must not be negative")
)

// SweepInterval is how often expired reservations are returned to stock.
const SweepInterval = 30 * time.Second

type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCommitted Status = "committed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Token identifies a reservation. It is the only handle needed to commit or release.
type Token string

// StockInfo is the stock picture for one product.
type StockInfo struct {
	ProductID string
	Total     int // physical units on hand
	Reserved  int // units held by in-flight attempts
}

// Available returns the units that can still be reserved.
func (s StockInfo) Available() int { return s.Total - s.Reserved }

type reservation struct {
	token     Token
	productID string
	quantity  int
	holder    string
	status    Status
	createdAt time.Time
	expiresAt time.Time // zero when reservations never expire
	settledAt time.Time
}

// Ledger is safe for concurrent use. Reservations are held by token, never by a
// lock scope, so callers may wait on slow collaborators while holding one.
type Ledger struct {
	mu           sync.Mutex
	stocks       map[string]*StockInfo
	reservations map[string]*reservation

	ttl time.Duration
	now func() time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type Option func(*Ledger)

// WithReservationTTL sets a backstop expiry for reservations that are never
// committed or released. Zero disables expiry.
func WithReservationTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		stocks:       make(map[string]*StockInfo),
		reservations: make(map[string]*reservation),
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl > 0 {
		l.wg.Add(1)
		go l.sweepLoop()
	}
	return l
}

func (l *Ledger) sweepLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Sweep expires overdue reservations and forgets settled ones older than the TTL.
func (l *Ledger) Sweep() {
	if l.ttl <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, r := range l.reservations {
		switch {
		case r.status == StatusReserved && now.After(r.expiresAt):
			r.status = StatusExpired
			r.settledAt = now
			l.stocks[r.productID].Reserved -= r.quantity
			applog.WarnEvent("stock.reservation.expired", map[string]any{
				"token": string(r.token), "product_id": r.productID, "qty": r.quantity, "holder": r.holder,
			})
		case r.status != StatusReserved && now.Sub(r.settledAt) > l.ttl:
			delete(l.reservations, id)
		}
	}
}

// SetStock sets the on-hand quantity, keeping any outstanding reservations. It
// refuses a total below what is currently reserved.
func (l *Ledger) SetStock(productID string, total int) error {
	if total < 0 {
		return ErrNegativeStock
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stocks[productID]
	if !ok {
		l.stocks[productID] = &StockInfo{ProductID: productID, Total: total}
		return nil
	}
	if total < s.Reserved {
		return fmt.Errorf("%w: %s has %d reserved", ErrBelowReserved, productID, s.Reserved)
	}
	s.Total = total
	return nil
}

func (l *Ledger) Snapshot(productID string) (StockInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stocks[productID]
	if !ok {
		return StockInfo{}, false
	}
	return *s, true
}

// Available returns total minus reserved for productID.
func (l *Ledger) Available(productID string) (int, bool) {
	s, ok := l.Snapshot(productID)
	return s.Available(), ok
}

// Reserve holds qty units of productID for holder. It never lets the
// available count go negative.
func (l *Ledger) Reserve(productID string, qty int, holder string) (Token, error) {
	if qty < 1 {
		return "", domain.ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stocks[productID]
	if !ok {
		return "", domain.ErrProductNotFound
	}
	if s.Available() < qty {
		return "", &domain.OutOfStockError{ProductID: productID, Requested: qty, Available: s.Available()}
	}
	s.Reserved += qty

	now := l.now()
	r := &reservation{
		token:     Token(uuid.NewString()),
		productID: productID,
		quantity:  qty,
		holder:    holder,
		status:    StatusReserved,
		createdAt: now,
	}
	if l.ttl > 0 {
		r.expiresAt = now.Add(l.ttl)
	}
	l.reservations[string(r.token)] = r
	return r.token, nil
}

// Release returns reserved units to the pool. Releasing a token that was already
// released, committed, expired or swept is a no-op.
func (l *Ledger) Release(t Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[string(t)]
	if !ok || r.status != StatusReserved {
		return nil
	}
	l.stocks[r.productID].Reserved -= r.quantity
	r.status = StatusReleased
	r.settledAt = l.now()
	return nil
}

// Commit turns the reservation into a permanent decrement. Committing twice is a
// no-op. An expired reservation is re-acquired if the stock is still there.
func (l *Ledger) Commit(t Token) error {
	return l.CommitAll(t)
}

// CommitAll commits every token or none of them.
func (l *Ledger) CommitAll(tokens ...Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs := make([]*reservation, 0, len(tokens))
	need := make(map[string]int) // expired units to re-acquire per product
	take := make(map[string]int) // units leaving Total per product
	for _, t := range tokens {
		r, ok := l.reservations[string(t)]
		if !ok {
			return ErrReservationNotFound
		}
		switch r.status {
		case StatusReleased:
			return ErrReservationReleased
		case StatusExpired:
			need[r.productID] += r.quantity
			if l.stocks[r.productID].Available() < need[r.productID] {
				return ErrReservationExpired
			}
		}
		if r.status != StatusCommitted {
			take[r.productID] += r.quantity
			if s := l.stocks[r.productID]; s.Total < take[r.productID] {
				return &domain.OutOfStockError{ProductID: r.productID, Requested: take[r.productID], Available: s.Total}
			}
		}
		rs = append(rs, r)
	}

	now := l.now()
	for _, r := range rs {
		s := l.stocks[r.productID]
		switch r.status {
		case StatusCommitted:
			continue
		case StatusReserved:
			s.Reserved -= r.quantity
		}
		s.Total -= r.quantity
		r.status = StatusCommitted
		r.settledAt = now
	}
	return nil
}

// Status reports the current state of a reservation.
func (l *Ledger) Status(t Token) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[string(t)]
	if !ok {
		return "", false
	}
	return r.status, true
}

// Close stops the background sweeper.
func (l *Ledger) Close() error {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
	return nil
}
