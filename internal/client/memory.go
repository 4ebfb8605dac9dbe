package client

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/mkoval/walletcore/pkg/models"
)

// MemoryIndexer is an in-memory Indexer for tests and offline development.
// State is keyed by address; everything is returned as stored, so tests
// control ordering and confirmation state directly.
type MemoryIndexer struct {
	mu sync.RWMutex

	Fees       map[string]*FeeSchedule  // currency id -> quote
	States     map[string]*AccountState // address -> snapshot
	Ops        map[string][]RawOperation
	GasLimits  map[string]*big.Int // recipient address -> estimated gas limit
	GasUsed    *big.Int            // simulation result
	FailFees   error               // when set, FeeEstimate fails
	FailSim    error               // when set, SimulateTransaction fails
	broadcasts int
}

// NewMemoryIndexer returns an empty MemoryIndexer.
func NewMemoryIndexer() *MemoryIndexer {
	return &MemoryIndexer{
		Fees:      make(map[string]*FeeSchedule),
		States:    make(map[string]*AccountState),
		Ops:       make(map[string][]RawOperation),
		GasLimits: make(map[string]*big.Int),
	}
}

func (m *MemoryIndexer) FeeEstimate(ctx context.Context, currency *models.Currency) (*FeeSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailFees != nil {
		return nil, m.FailFees
	}
	fs, ok := m.Fees[currency.ID]
	if !ok {
		return nil, fmt.Errorf("no fee schedule for %s", currency.ID)
	}
	return fs, nil
}

func (m *MemoryIndexer) AccountState(ctx context.Context, currency *models.Currency, address string) (*AccountState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.States[address]
	if !ok {
		return &AccountState{Balance: big.NewInt(0), SpendableBalance: big.NewInt(0)}, nil
	}
	return st, nil
}

func (m *MemoryIndexer) AccountOperations(ctx context.Context, currency *models.Currency, address string) ([]RawOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Ops[address], nil
}

func (m *MemoryIndexer) EstimateGasLimit(ctx context.Context, currency *models.Currency, address string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.GasLimits[address]; ok {
		return new(big.Int).Set(g), nil
	}
	return big.NewInt(21_000), nil
}

func (m *MemoryIndexer) SimulateTransaction(ctx context.Context, currency *models.Currency, unsigned []byte) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailSim != nil {
		return nil, m.FailSim
	}
	if m.GasUsed == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(m.GasUsed), nil
}

func (m *MemoryIndexer) Broadcast(ctx context.Context, currency *models.Currency, signed []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts++
	return fmt.Sprintf("%s-tx-%d", currency.ID, m.broadcasts), nil
}

// Broadcasts reports how many payloads were submitted.
func (m *MemoryIndexer) Broadcasts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.broadcasts
}
