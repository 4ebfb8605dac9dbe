package bridge

import (
	"fmt"
	"sync"

	"github.com/mkoval/walletcore/pkg/models"
)

// Registry maps family tags to their bridge implementations. The family
// set is closed: registration happens once at startup, lookups after that.
type Registry struct {
	mu         sync.RWMutex
	accounts   map[models.Family]AccountBridge
	currencies map[models.Family]CurrencyBridge
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts:   make(map[models.Family]AccountBridge),
		currencies: make(map[models.Family]CurrencyBridge),
	}
}

// Register binds a family tag to its bridges.
func (r *Registry) Register(family models.Family, account AccountBridge, currency CurrencyBridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[family] = account
	r.currencies[family] = currency
}

// AccountBridgeFor resolves the account bridge of the account's family.
func (r *Registry) AccountBridgeFor(account *models.Account) (AccountBridge, error) {
	if account == nil || account.Currency == nil {
		return nil, fmt.Errorf("account has no currency: %w", models.ErrNoBridge)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.accounts[account.Currency.Family]
	if !ok {
		return nil, fmt.Errorf("family %q: %w", account.Currency.Family, models.ErrNoBridge)
	}
	return b, nil
}

// CurrencyBridgeFor resolves the currency bridge of a currency's family.
func (r *Registry) CurrencyBridgeFor(currency *models.Currency) (CurrencyBridge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.currencies[currency.Family]
	if !ok {
		return nil, fmt.Errorf("family %q: %w", currency.Family, models.ErrNoBridge)
	}
	return b, nil
}
