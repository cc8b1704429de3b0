package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"FinRisk/internal/domain/models"
)

type accountBook struct {
	account   models.AccountSnapshot
	hasAcct   bool
	positions map[string]models.Position
}

// MemoryPositionStore is the read-only position view, fed by the position stream.
type MemoryPositionStore struct {
	mu    sync.RWMutex
	books map[string]*accountBook
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{books: make(map[string]*accountBook)}
}

func (s *MemoryPositionStore) book(accountID string) *accountBook {
	b, ok := s.books[accountID]
	if !ok {
		b = &accountBook{positions: make(map[string]models.Position)}
		s.books[accountID] = b
	}
	return b
}

// Apply merges one update. A zero-quantity position closes the holding.
func (s *MemoryPositionStore) Apply(u models.PositionUpdate) error {
	if u.AccountID == "" {
		return fmt.Errorf("position update without account: %w", models.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.book(u.AccountID)
	switch {
	case u.Position != nil:
		if u.Position.Symbol == "" {
			return fmt.Errorf("position update without symbol: %w", models.ErrInvalidInput)
		}
		if u.Position.Quantity == 0 {
			delete(b.positions, u.Position.Symbol)
			return nil
		}
		b.positions[u.Position.Symbol] = *u.Position
	case u.Account != nil:
		acct := *u.Account
		acct.AccountID = u.AccountID
		b.account = acct
		b.hasAcct = true
	default:
		return fmt.Errorf("empty position update: %w", models.ErrInvalidInput)
	}
	return nil
}

func (s *MemoryPositionStore) Positions(_ context.Context, accountID string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[accountID]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", accountID, models.ErrAccountNotFound)
	}
	out := make([]models.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryPositionStore) Account(_ context.Context, accountID string) (models.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[accountID]
	if !ok || !b.hasAcct {
		return models.AccountSnapshot{}, fmt.Errorf("account %q: %w", accountID, models.ErrAccountNotFound)
	}
	return b.account, nil
}

func (s *MemoryPositionStore) Accounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.books))
	for id := range s.books {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}
