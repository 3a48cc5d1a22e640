package credit

import (
	"context"
	"sort"
	"sync"

	"dukapos/internal/domain"
)

// MemoryStore keeps accounts in process. Used by tests and when no database is wired.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.CreditAccount
	entries  []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*domain.CreditAccount)}
}

func (s *MemoryStore) Apply(_ context.Context, e Entry) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[e.CustomerID]
	if !ok {
		a = &domain.CreditAccount{CustomerID: e.CustomerID}
		s.accounts[e.CustomerID] = a
	}
	if e.Name != "" {
		a.Name = e.Name
	}
	a.TotalCreditOutstanding = a.TotalCreditOutstanding.Add(e.Total)
	a.BalanceDue = a.BalanceDue.Add(e.BalanceDue)
	a.UpdatedAt = e.At
	s.entries = append(s.entries, e)
	return *a, nil
}

func (s *MemoryStore) Account(_ context.Context, customerID string) (domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[customerID]
	if !ok {
		return domain.CreditAccount{}, ErrAccountNotFound
	}
	return *a, nil
}

// Accounts lists accounts with the largest balance first.
func (s *MemoryStore) Accounts(_ context.Context) ([]domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CreditAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].BalanceDue.Cmp(out[j].BalanceDue); c != 0 {
			return c > 0
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out, nil
}
