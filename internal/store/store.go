// Package store keeps the wallet's account set between sync passes and
// across transaction lifecycles.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mkoval/walletcore/pkg/models"
)

// ErrAccountNotFound is returned by lookups of unknown account ids.
var ErrAccountNotFound = fmt.Errorf("account not found")

// AccountStore holds the accounts the wallet tracks.
type AccountStore interface {
	// Upsert adds the account or replaces the stored one with the same id.
	Upsert(account *models.Account) error

	// Get returns the account by id.
	Get(id string) (*models.Account, error)

	// List returns all accounts ordered by derivation index, then id.
	List() ([]*models.Account, error)

	// AddPendingOperation records a just-broadcasted optimistic operation
	// on the account. The next sync pass promotes or keeps it.
	AddPendingOperation(accountID string, op *models.Operation) error

	// Remove forgets the account.
	Remove(id string) error
}

// MemoryAccountStore is an in-memory AccountStore.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*models.Account)}
}

func (s *MemoryAccountStore) Upsert(account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s *MemoryAccountStore) Get(id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrAccountNotFound)
	}
	return a, nil
}

func (s *MemoryAccountStore) List() ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Index != result[j].Index {
			return result[i].Index < result[j].Index
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryAccountStore) AddPendingOperation(accountID string, op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%s: %w", accountID, ErrAccountNotFound)
	}
	for _, pending := range a.PendingOperations {
		if pending.ID == op.ID {
			return nil
		}
	}
	a.PendingOperations = append(a.PendingOperations, op)
	return nil
}

func (s *MemoryAccountStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}
