// Package syncer runs one synchronization pass over an account: it fetches
// fresh chain activity from the indexer and merges it into the in-memory
// model through the reconciliation engine. The caller hands the account
// over exclusively for the duration of the pass.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/internal/reconcile"
	"github.com/mkoval/walletcore/pkg/models"
)

// Options carries the family policy hooks of a sync pass.
type Options struct {
	// BuildOperation maps a raw record to an Operation. Returning nil
	// excludes the record. Required.
	BuildOperation func(raw client.RawOperation, accountID string) (*models.Operation, error)

	// BuildSubAccount materializes a token bucket into a sub-account,
	// reusing the existing entity when the asset was already known.
	// Nil when the family has no sub-accounts.
	BuildSubAccount func(bucket client.TokenBalance, existing *models.SubAccount, account *models.Account) (*models.SubAccount, error)
}

// Account synchronizes one account in place.
func Account(ctx context.Context, ix client.Indexer, account *models.Account, opts Options) error {
	log := slog.Default().With("component", "syncer", "account", account.ID)

	state, err := ix.AccountState(ctx, account.Currency, account.FreshAddress)
	if err != nil {
		return fmt.Errorf("account state: %w", err)
	}

	rawOps, err := ix.AccountOperations(ctx, account.Currency, account.FreshAddress)
	if err != nil {
		return fmt.Errorf("account operations: %w", err)
	}

	ops, err := reconcile.Operations(account.Operations, rawOps, func(raw client.RawOperation) (*models.Operation, error) {
		return opts.BuildOperation(raw, account.ID)
	})
	if err != nil {
		return fmt.Errorf("reconcile operations: %w", err)
	}

	account.Operations = ops
	account.Balance = state.Balance
	if state.SpendableBalance != nil {
		account.SpendableBalance = state.SpendableBalance
	} else {
		account.SpendableBalance = state.Balance
	}
	account.BlockHeight = state.BlockHeight
	account.PendingOperations = prunePending(account.PendingOperations, ops)

	if opts.BuildSubAccount != nil {
		subs, err := reconcile.SubAccounts(account.SubAccounts, state.Tokens,
			func(b client.TokenBalance) string { return b.ContractAddress },
			func(b client.TokenBalance, existing *models.SubAccount) (*models.SubAccount, error) {
				return opts.BuildSubAccount(b, existing, account)
			})
		if err != nil {
			return fmt.Errorf("reconcile sub-accounts: %w", err)
		}
		account.SubAccounts = subs
	}

	log.Info("sync pass done",
		"operations", len(account.Operations),
		"sub_accounts", len(account.SubAccounts),
		"block_height", account.BlockHeight,
	)
	return nil
}

// prunePending drops optimistic operations whose confirmed twin (same id)
// is now part of the reconciled history.
func prunePending(pending, ops []*models.Operation) []*models.Operation {
	if len(pending) == 0 {
		return pending
	}
	known := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		known[op.ID] = struct{}{}
	}
	kept := pending[:0]
	for _, op := range pending {
		if _, confirmed := known[op.ID]; !confirmed {
			kept = append(kept, op)
		}
	}
	return kept
}

// Deriver resolves the on-device address for an account index.
type Deriver func(ctx context.Context, index uint32) (*device.DerivedAddress, error)

// ScanAccounts probes derivation indexes on the device and emits every
// account with chain history, followed by the first unused one (the
// candidate for "create a new account"), then closes the stream. The seed
// identifier of each emitted account is the public key at index 0.
func ScanAccounts(ctx context.Context, ix client.Indexer, currency *models.Currency, derive Deriver, limit uint32, opts Options) (<-chan bridge.ScanEvent, error) {
	if limit == 0 {
		limit = 1
	}
	log := slog.Default().With("component", "scanner", "currency", currency.ID)

	events := make(chan bridge.ScanEvent)
	go func() {
		defer close(events)
		var seedIdentifier string
		for index := uint32(0); index < limit; index++ {
			derived, err := derive(ctx, index)
			if err != nil {
				emitScan(ctx, events, bridge.ScanEvent{Err: fmt.Errorf("derive index %d: %w", index, err)})
				return
			}
			if index == 0 {
				seedIdentifier = derived.PublicKey
			}

			state, err := ix.AccountState(ctx, currency, derived.Address)
			if err != nil {
				emitScan(ctx, events, bridge.ScanEvent{Err: fmt.Errorf("probe %s: %w", derived.Address, err)})
				return
			}

			account := &models.Account{
				ID:             fmt.Sprintf("walletcore:1:%s:%s", currency.ID, derived.Address),
				Currency:       currency,
				Index:          index,
				FreshAddress:   derived.Address,
				DerivationPath: derived.DerivationPath,
				SeedIdentifier: seedIdentifier,
				Balance:        big.NewInt(0),
			}

			if state.Used {
				if err := Account(ctx, ix, account, opts); err != nil {
					emitScan(ctx, events, bridge.ScanEvent{Err: err})
					return
				}
				log.Info("found account", "index", index, "address", derived.Address)
				if !emitScan(ctx, events, bridge.ScanEvent{Account: account}) {
					return
				}
				continue
			}

			// First unused index: emit the empty candidate and stop.
			emitScan(ctx, events, bridge.ScanEvent{Account: account})
			return
		}
	}()
	return events, nil
}

func emitScan(ctx context.Context, ch chan<- bridge.ScanEvent, ev bridge.ScanEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
