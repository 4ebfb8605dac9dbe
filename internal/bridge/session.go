package bridge

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/mkoval/walletcore/pkg/models"
)

// Session owns one transaction-edit flow: it holds the currently edited
// transaction and re-derives its status through the account's bridge every
// time the transaction or account changes.
//
// Re-derivation is asynchronous. A newer edit supersedes an in-flight
// derivation: the stale computation is left to finish but its result is
// discarded on arrival, so only the result matching the latest edit is ever
// committed. While the committed status lags behind the displayed
// transaction, BridgePending reports true.
type Session struct {
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                  sync.Mutex
	gen                 uint64
	account             *models.Account
	subAccount          *models.SubAccount
	transaction         Transaction
	status              *Status
	statusOnTransaction Transaction
	errAccount          error
	errStatus           error
}

// NewSession returns a Session resolving bridges through the registry.
func NewSession(registry *Registry) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		registry: registry,
		logger:   slog.Default().With("component", "bridge_session"),
		ctx:      ctx,
		cancel:   cancel,
		status:   newInitialStatus(),
	}
}

func newInitialStatus() *Status {
	return &Status{
		Errors:        map[string]error{},
		Warnings:      map[string]error{},
		EstimatedFees: big.NewInt(0),
		Amount:        big.NewInt(0),
		TotalSpent:    big.NewInt(0),
	}
}

// SetAccount resets the session onto an account (and optionally one of its
// sub-accounts) and synchronously creates a fresh transaction with family
// defaults. If bridge resolution fails, the error is recorded and the
// transaction stays nil until another account is chosen.
func (s *Session) SetAccount(account *models.Account, subAccount *models.SubAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++ // invalidate any in-flight derivation
	s.account = account
	s.subAccount = subAccount
	s.transaction = nil
	s.status = newInitialStatus()
	s.statusOnTransaction = nil
	s.errAccount = nil
	s.errStatus = nil

	b, err := s.registry.AccountBridgeFor(account)
	if err != nil {
		s.errAccount = err
		s.logger.Warn("account bridge resolution failed", "error", err)
		return
	}

	t := b.CreateTransaction(account)
	if subAccount != nil {
		id := subAccount.ID
		t = b.UpdateTransaction(t, Patch{SubAccountID: &id})
	}
	s.transaction = t
	s.deriveLocked(b)
}

// SetTransaction replaces the edited transaction and triggers
// re-derivation. A referentially identical transaction is a no-op.
func (s *Session) SetTransaction(t Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t == s.transaction {
		return
	}
	s.transaction = t

	b, err := s.registry.AccountBridgeFor(s.account)
	if err != nil {
		s.errAccount = err
		return
	}
	s.deriveLocked(b)
}

// UpdateTransaction applies a patch to the current transaction through the
// bridge and installs the result. Convenience over SetTransaction.
func (s *Session) UpdateTransaction(patch Patch) {
	s.mu.Lock()
	t := s.transaction
	b, err := s.registry.AccountBridgeFor(s.account)
	s.mu.Unlock()
	if err != nil || t == nil {
		return
	}
	s.SetTransaction(b.UpdateTransaction(t, patch))
}

// deriveLocked launches prepare + status for the current transaction.
// Caller holds s.mu.
func (s *Session) deriveLocked(b AccountBridge) {
	if s.account == nil || s.transaction == nil {
		return
	}
	s.gen++
	token := s.gen
	account, transaction := s.account, s.transaction

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		prepared, err := b.PrepareTransaction(s.ctx, account, transaction)
		var status *Status
		if err == nil {
			status, err = b.GetTransactionStatus(s.ctx, account, prepared)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if token != s.gen {
			return // superseded by a newer edit
		}
		if err != nil {
			// Keep the previous valid status displayed; only record the
			// failure.
			s.errStatus = err
			s.logger.Warn("status derivation failed", "account", account.ID, "error", err)
			return
		}
		s.transaction = prepared
		s.status = status
		s.statusOnTransaction = prepared
		s.errStatus = nil
	}()
}

// Transaction returns the currently displayed transaction (possibly not
// yet prepared).
func (s *Session) Transaction() Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transaction
}

// Account returns the session's account.
func (s *Session) Account() *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SubAccount returns the session's sub-account, or nil.
func (s *Session) SubAccount() *models.SubAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subAccount
}

// Status returns the last committed status. It may describe an earlier
// transaction than the displayed one; see BridgePending.
func (s *Session) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// BridgePending reports whether the committed status belongs to an earlier
// transaction than the one currently displayed.
func (s *Session) BridgePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transaction != s.statusOnTransaction
}

// BridgeError surfaces the account resolution error if any, otherwise the
// last status derivation failure.
func (s *Session) BridgeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errAccount != nil {
		return s.errAccount
	}
	return s.errStatus
}

// Wait blocks until all launched derivations finished (committed or
// discarded). Intended for tests and orderly teardown.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight derivations and waits for them to drain.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}
