// Package ethereum implements the account and currency bridges for
// account-based currencies with a gas fee model and embedded token assets.
package ethereum

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/cache"
	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/config"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/internal/reconcile"
	"github.com/mkoval/walletcore/internal/syncer"
	"github.com/mkoval/walletcore/pkg/models"
)

// NetworkInfo is the gas price quote attached once PrepareTransaction
// fetched it.
type NetworkInfo struct {
	GasPrice *big.Int
}

// Transaction is the ethereum transaction draft. SubAccountID selects a
// token sub-account as the spending asset; empty means the main account.
type Transaction struct {
	Amount            *big.Int
	Recipient         string
	GasPrice          *big.Int
	UserGasLimit      *big.Int
	EstimatedGasLimit *big.Int
	UseAllAmount      bool
	SubAccountID      string
	NetworkInfo       *NetworkInfo
}

func (t *Transaction) Family() models.Family { return models.FamilyEthereum }

// GasLimit resolves the effective gas limit: an explicit user override wins
// over the estimation.
func (t *Transaction) GasLimit() *big.Int {
	if t.UserGasLimit != nil {
		return t.UserGasLimit
	}
	return t.EstimatedGasLimit
}

// invalidations lists, per patched field, the derived fields it makes
// stale. Applied by UpdateTransaction after the structural merge.
var invalidations = []struct {
	changed func(old *Transaction, p bridge.Patch) bool
	reset   func(next *Transaction)
}{
	{
		// A new destination changes what the transfer executes, so any
		// gas limit computed for the previous one is meaningless.
		changed: func(old *Transaction, p bridge.Patch) bool {
			return p.Recipient != nil && *p.Recipient != old.Recipient
		},
		reset: func(next *Transaction) {
			next.UserGasLimit = nil
			next.EstimatedGasLimit = nil
		},
	},
	{
		// Switching between the coin and a token changes the executed
		// contract call.
		changed: func(old *Transaction, p bridge.Patch) bool {
			return p.SubAccountID != nil && *p.SubAccountID != old.SubAccountID
		},
		reset: func(next *Transaction) {
			next.UserGasLimit = nil
			next.EstimatedGasLimit = nil
		},
	},
}

// Bridge implements bridge.AccountBridge and bridge.CurrencyBridge for the
// ethereum family.
type Bridge struct {
	cfg  config.Config
	ix   client.Indexer
	flow *device.SignFlow
	fees *cache.Cache[*client.FeeSchedule]
	gas  *cache.Cache[*big.Int]
	log  *slog.Logger
}

func New(cfg config.Config, ix client.Indexer, flow *device.SignFlow) *Bridge {
	return &Bridge{
		cfg:  cfg,
		ix:   ix,
		flow: flow,
		fees: cache.New[*client.FeeSchedule](cfg.FeeCacheCapacity),
		gas:  cache.New[*big.Int](cfg.FeeCacheCapacity),
		log:  slog.Default().With("component", "bridge", "family", "ethereum"),
	}
}

func (b *Bridge) CreateTransaction(account *models.Account) bridge.Transaction {
	return &Transaction{Amount: big.NewInt(0)}
}

func (b *Bridge) UpdateTransaction(t bridge.Transaction, patch bridge.Patch) bridge.Transaction {
	old := t.(*Transaction)
	next := *old
	if patch.Amount != nil {
		next.Amount = patch.Amount
	}
	if patch.Recipient != nil {
		next.Recipient = *patch.Recipient
	}
	if patch.UseAllAmount != nil {
		next.UseAllAmount = *patch.UseAllAmount
	}
	if patch.SubAccountID != nil {
		next.SubAccountID = *patch.SubAccountID
	}
	if patch.GasPrice != nil {
		next.GasPrice = patch.GasPrice
	}
	if patch.UserGasLimit != nil {
		next.UserGasLimit = patch.UserGasLimit
	}
	for _, rule := range invalidations {
		if rule.changed(old, patch) {
			rule.reset(&next)
		}
	}
	return &next
}

// PrepareTransaction fills the gas price from the fee quote and the gas
// limit from a transfer simulation against the effective destination. Both
// go through the result cache; keys carry the inputs the estimation
// depends on, so an unchanged draft never re-estimates.
func (b *Bridge) PrepareTransaction(ctx context.Context, account *models.Account, tx bridge.Transaction) (bridge.Transaction, error) {
	t := tx.(*Transaction)
	next := *t
	changed := false

	if next.NetworkInfo == nil {
		fs, err := b.fees.Get(ctx, account.Currency.ID, func(ctx context.Context) (*client.FeeSchedule, error) {
			return b.ix.FeeEstimate(ctx, account.Currency)
		})
		if err != nil {
			return nil, fmt.Errorf("fee estimate: %w", err)
		}
		next.NetworkInfo = &NetworkInfo{GasPrice: fs.GasPrice}
		changed = true
	}
	if next.GasPrice == nil && next.NetworkInfo.GasPrice != nil {
		next.GasPrice = next.NetworkInfo.GasPrice
		changed = true
	}

	if dest := b.estimationTarget(account, &next); dest != "" {
		limit, err := b.gas.Get(ctx, account.ID+"|"+dest, func(ctx context.Context) (*big.Int, error) {
			return b.ix.EstimateGasLimit(ctx, account.Currency, dest)
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas limit: %w", err)
		}
		// Numerically equal estimations keep the previous pointer so an
		// unchanged draft stays the same value.
		if next.EstimatedGasLimit == nil || next.EstimatedGasLimit.Cmp(limit) != 0 {
			next.EstimatedGasLimit = limit
			changed = true
		}
	}

	if !changed {
		return t, nil
	}
	return &next, nil
}

// estimationTarget is the address a gas estimation runs against: the token
// contract for token transfers, the recipient otherwise. Empty when there
// is nothing valid to simulate yet.
func (b *Bridge) estimationTarget(account *models.Account, t *Transaction) string {
	if t.SubAccountID != "" {
		if sub := account.SubAccountByID(t.SubAccountID); sub != nil {
			return sub.Token.ContractAddress
		}
		return ""
	}
	if common.IsHexAddress(t.Recipient) {
		return t.Recipient
	}
	return ""
}

func (b *Bridge) GetTransactionStatus(ctx context.Context, account *models.Account, tx bridge.Transaction) (*bridge.Status, error) {
	t := tx.(*Transaction)
	s := &bridge.Status{
		Errors:       make(map[string]error),
		Warnings:     make(map[string]error),
		UseAllAmount: t.UseAllAmount,
	}

	var sub *models.SubAccount
	if t.SubAccountID != "" {
		sub = account.SubAccountByID(t.SubAccountID)
	}

	fees := big.NewInt(0)
	if t.GasPrice == nil {
		s.Errors[bridge.FieldTransaction] = models.ErrFeeNotLoaded
	} else {
		fees = new(big.Int).Mul(t.GasPrice, b.effectiveGasLimit(t))
	}
	s.EstimatedFees = fees
	s.EstimatedGas = t.GasLimit()

	spendable := account.Balance
	if sub != nil {
		spendable = sub.Balance
	}

	if t.UseAllAmount {
		if sub != nil {
			// Token transfers pay gas from the parent account, so "all"
			// is the full token balance.
			s.Amount = new(big.Int).Set(sub.Balance)
			s.TotalSpent = new(big.Int).Set(sub.Balance)
		} else {
			s.Amount = new(big.Int).Sub(account.Balance, fees)
			if s.Amount.Sign() < 0 {
				s.Amount = big.NewInt(0)
			}
			s.TotalSpent = new(big.Int).Set(account.Balance)
		}
	} else {
		s.Amount = new(big.Int).Set(t.Amount)
		if sub != nil {
			s.TotalSpent = new(big.Int).Set(t.Amount)
		} else {
			s.TotalSpent = new(big.Int).Add(t.Amount, fees)
		}
	}

	if !t.UseAllAmount && t.Amount.Sign() <= 0 {
		s.Errors[bridge.FieldAmount] = models.ErrAmountRequired
	} else if s.TotalSpent.Cmp(spendable) > 0 {
		s.Errors[bridge.FieldAmount] = models.ErrNotEnoughBalance
	} else if sub != nil && fees.Cmp(account.Balance) > 0 {
		// Gas is paid by the parent even for token transfers.
		s.Errors[bridge.FieldAmount] = models.ErrNotEnoughBalance
	}

	if sub == nil && s.Amount.Sign() > 0 && new(big.Int).Mul(fees, big.NewInt(10)).Cmp(s.Amount) > 0 {
		s.Warnings[bridge.WarnFeeTooHigh] = models.ErrFeeTooHigh
	}

	switch {
	case t.Recipient == "":
		s.Errors[bridge.FieldRecipient] = models.ErrRecipientRequired
	case !common.IsHexAddress(t.Recipient):
		s.Errors[bridge.FieldRecipient] = models.ErrInvalidAddress
	case sub != nil && t.Recipient == account.FreshAddress:
		// Sending a token to its own holder burns gas for nothing.
		s.Errors[bridge.FieldRecipient] = models.ErrSelfSendForbidden
	}

	return s, nil
}

func (b *Bridge) effectiveGasLimit(t *Transaction) *big.Int {
	if limit := t.GasLimit(); limit != nil {
		return limit
	}
	return new(big.Int).SetUint64(b.cfg.EthDefaultGasLimit)
}

func (b *Bridge) SignAndBroadcast(ctx context.Context, account *models.Account, tx bridge.Transaction, deviceID string) (<-chan bridge.SignEvent, error) {
	t := tx.(*Transaction)
	if t.GasPrice == nil {
		return nil, models.ErrFeeNotLoaded
	}
	fee := new(big.Int).Mul(t.GasPrice, b.effectiveGasLimit(t))

	unsigned := serializeForSigning(account, t)
	broadcast := func(ctx context.Context, signed []byte) (*models.Operation, error) {
		hash, err := b.ix.Broadcast(ctx, account.Currency, signed)
		if err != nil {
			return nil, err
		}
		return b.optimisticOperation(account, t, fee, hash), nil
	}
	return b.flow.Run(ctx, account.ID, deviceID, unsigned, account.DerivationPath, broadcast)
}

// optimisticOperation describes the just-broadcasted transaction before any
// sync pass confirms it. For a token transfer the parent operation carries
// the fee and the token movement hangs off it as a sub-operation.
func (b *Bridge) optimisticOperation(a *models.Account, t *Transaction, fee *big.Int, hash string) *models.Operation {
	now := time.Now()
	op := &models.Operation{
		ID:         models.OperationID(a.ID, hash, models.OperationOut),
		Hash:       hash,
		Type:       models.OperationOut,
		Fee:        fee,
		Senders:    []string{a.FreshAddress},
		Recipients: []string{t.Recipient},
		AccountID:  a.ID,
		Date:       now,
	}
	if t.SubAccountID == "" {
		op.Value = new(big.Int).Add(t.Amount, fee)
		return op
	}
	op.Value = new(big.Int).Set(fee)
	op.SubOperations = []*models.Operation{{
		ID:         models.OperationID(t.SubAccountID, hash, models.OperationOut),
		Hash:       hash,
		Type:       models.OperationOut,
		Value:      new(big.Int).Set(t.Amount),
		Fee:        new(big.Int).Set(fee),
		Senders:    []string{a.FreshAddress},
		Recipients: []string{t.Recipient},
		AccountID:  t.SubAccountID,
		Date:       now,
	}}
	return op
}

func (b *Bridge) StartSync(ctx context.Context, account *models.Account) (<-chan bridge.SyncEvent, error) {
	events := make(chan bridge.SyncEvent, 1)
	go func() {
		defer close(events)
		err := syncer.Account(ctx, b.ix, account, b.syncOptions())
		events <- bridge.SyncEvent{Err: err}
	}()
	return events, nil
}

func (b *Bridge) Capabilities(account *models.Account) bridge.Capabilities {
	return bridge.Capabilities{CanSync: true, CanSend: true}
}

func (b *Bridge) ScanAccounts(ctx context.Context, currency *models.Currency, deviceID string) (<-chan bridge.ScanEvent, error) {
	derive := func(ctx context.Context, index uint32) (*device.DerivedAddress, error) {
		return b.flow.Transport.DeriveAddress(ctx, deviceID, currency, index)
	}
	return syncer.ScanAccounts(ctx, b.ix, currency, derive, b.cfg.ScanAccountLimit, b.syncOptions())
}

func (b *Bridge) syncOptions() syncer.Options {
	return syncer.Options{
		BuildOperation:  buildOperation,
		BuildSubAccount: buildSubAccount,
	}
}

// buildOperation maps a raw record, attaching the token movements it embeds
// as sub-operations. Records that moved no value and carry no recognized
// token transfer are contract-execution artifacts and are excluded.
func buildOperation(raw client.RawOperation, accountID string) (*models.Operation, error) {
	op := syncer.StandardOperation(raw, accountID)
	for _, tr := range raw.TokenTransfers {
		if _, known := models.TokenByAddress("ethereum", tr.ContractAddress); !known {
			continue
		}
		subID := models.SubAccountID(accountID, tr.ContractAddress)
		op.SubOperations = append(op.SubOperations, &models.Operation{
			ID:          models.OperationID(subID, raw.Hash, tr.Type),
			Hash:        raw.Hash,
			Type:        tr.Type,
			Value:       tr.Value,
			Fee:         op.Fee,
			Senders:     tr.Senders,
			Recipients:  tr.Recipients,
			BlockHeight: raw.BlockHeight,
			BlockHash:   raw.BlockHash,
			AccountID:   subID,
			Date:        raw.Time,
		})
	}
	if raw.Type == models.OperationNone && (raw.Value == nil || raw.Value.Sign() == 0) && len(op.SubOperations) == 0 {
		return nil, nil
	}
	return op, nil
}

// buildSubAccount materializes a token bucket, keeping the existing entity
// and its reconciled history when the asset was already tracked. Buckets
// for unrecognized contracts are dropped.
func buildSubAccount(bucket client.TokenBalance, existing *models.SubAccount, account *models.Account) (*models.SubAccount, error) {
	token, known := models.TokenByAddress(account.Currency.ID, bucket.ContractAddress)
	if !known {
		return nil, nil
	}
	id := models.SubAccountID(account.ID, bucket.ContractAddress)

	var prevOps []*models.Operation
	if existing != nil {
		prevOps = existing.Operations
	}
	ops, err := reconcile.Operations(prevOps, bucket.Operations, func(raw client.RawOperation) (*models.Operation, error) {
		return syncer.StandardOperation(raw, id), nil
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		existing.Balance = bucket.Balance
		existing.Operations = ops
		return existing, nil
	}
	return &models.SubAccount{
		ID:         id,
		ParentID:   account.ID,
		Token:      token,
		Balance:    bucket.Balance,
		Operations: ops,
	}, nil
}

// serializeForSigning encodes the draft in the simplified layout the signer
// expects: sender, destination, value, gas price, gas limit. Token sends
// target the contract with the recipient folded into the payload.
func serializeForSigning(a *models.Account, t *Transaction) []byte {
	buf := []byte{0x02}
	buf = appendString(buf, a.FreshAddress)
	buf = appendString(buf, t.Recipient)
	buf = appendString(buf, t.SubAccountID)
	buf = appendBytes(buf, t.Amount.Bytes())
	buf = appendBytes(buf, t.GasPrice.Bytes())
	if limit := t.GasLimit(); limit != nil {
		buf = appendBytes(buf, limit.Bytes())
	} else {
		buf = appendBytes(buf, nil)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendBytes(buf, b []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	return append(append(buf, l[:]...), b...)
}
