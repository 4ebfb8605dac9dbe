package bridge

import (
	"fmt"
	"sync"

	"github.com/mkoval/walletcore/pkg/models"
)

// BroadcastGuard enforces that at most one sign/broadcast runs per account.
// A second attempt fails fast instead of queueing: signing is interactive
// and strictly ordered, never reentrant.
type BroadcastGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewBroadcastGuard returns an empty guard.
func NewBroadcastGuard() *BroadcastGuard {
	return &BroadcastGuard{inflight: make(map[string]struct{})}
}

// Acquire reserves the account for one sign/broadcast flow.
func (g *BroadcastGuard) Acquire(accountID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[accountID]; busy {
		return fmt.Errorf("account %s: %w", accountID, models.ErrBroadcastInFlight)
	}
	g.inflight[accountID] = struct{}{}
	return nil
}

// Release frees the account after the flow terminated.
func (g *BroadcastGuard) Release(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, accountID)
}
