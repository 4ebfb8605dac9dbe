// Package bitcoin implements the account and currency bridges for
// UTXO-based currencies with a per-byte fee market.
package bitcoin

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/cache"
	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/config"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/internal/syncer"
	"github.com/mkoval/walletcore/pkg/models"
)

// NetworkInfo is the fee quote snapshot attached to a transaction once
// PrepareTransaction fetched it. Its presence marks the transaction as
// prepared; edits that should trigger a re-quote clear it.
type NetworkInfo struct {
	FeePerByte *big.Int
}

// Transaction is the bitcoin transaction draft.
type Transaction struct {
	Amount       *big.Int
	Recipient    string
	FeePerByte   *big.Int
	UseAllAmount bool
	NetworkInfo  *NetworkInfo
}

func (t *Transaction) Family() models.Family { return models.FamilyBitcoin }

// Bridge implements bridge.AccountBridge and bridge.CurrencyBridge for the
// bitcoin family.
type Bridge struct {
	cfg  config.Config
	ix   client.Indexer
	flow *device.SignFlow
	fees *cache.Cache[*client.FeeSchedule]
	log  *slog.Logger
}

func New(cfg config.Config, ix client.Indexer, flow *device.SignFlow) *Bridge {
	return &Bridge{
		cfg:  cfg,
		ix:   ix,
		flow: flow,
		fees: cache.New[*client.FeeSchedule](cfg.FeeCacheCapacity),
		log:  slog.Default().With("component", "bridge", "family", "bitcoin"),
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
	if patch.FeePerByte != nil {
		next.FeePerByte = patch.FeePerByte
	}
	return &next
}

// PrepareTransaction fetches the fee quote once and defaults the per-byte
// rate from it. Called again on its own output it returns the same value.
func (b *Bridge) PrepareTransaction(ctx context.Context, account *models.Account, tx bridge.Transaction) (bridge.Transaction, error) {
	t := tx.(*Transaction)
	if t.NetworkInfo != nil && t.FeePerByte != nil {
		return t, nil
	}

	info := t.NetworkInfo
	if info == nil {
		fs, err := b.fees.Get(ctx, account.Currency.ID, func(ctx context.Context) (*client.FeeSchedule, error) {
			return b.ix.FeeEstimate(ctx, account.Currency)
		})
		if err != nil {
			return nil, fmt.Errorf("fee estimate: %w", err)
		}
		info = &NetworkInfo{FeePerByte: fs.FeePerByte}
	}

	next := *t
	next.NetworkInfo = info
	if next.FeePerByte == nil {
		next.FeePerByte = info.FeePerByte
	}
	return &next, nil
}

func (b *Bridge) GetTransactionStatus(ctx context.Context, account *models.Account, tx bridge.Transaction) (*bridge.Status, error) {
	t := tx.(*Transaction)
	s := &bridge.Status{
		Errors:       make(map[string]error),
		Warnings:     make(map[string]error),
		UseAllAmount: t.UseAllAmount,
	}

	fees := big.NewInt(0)
	if t.FeePerByte == nil {
		s.Errors[bridge.FieldTransaction] = models.ErrFeeNotLoaded
	} else {
		fees = new(big.Int).Mul(t.FeePerByte, new(big.Int).SetUint64(b.cfg.BitcoinTxVirtualSize))
	}
	s.EstimatedFees = fees

	if t.UseAllAmount {
		s.TotalSpent = new(big.Int).Set(account.Balance)
		s.Amount = new(big.Int).Sub(account.Balance, fees)
		if s.Amount.Sign() < 0 {
			s.Amount = big.NewInt(0)
		}
	} else {
		s.Amount = new(big.Int).Set(t.Amount)
		s.TotalSpent = new(big.Int).Add(t.Amount, fees)
	}

	if !t.UseAllAmount && t.Amount.Sign() <= 0 {
		s.Errors[bridge.FieldAmount] = models.ErrAmountRequired
	} else if s.TotalSpent.Cmp(account.Balance) > 0 {
		s.Errors[bridge.FieldAmount] = models.ErrNotEnoughBalance
	}

	if s.Amount.Sign() > 0 && new(big.Int).Mul(fees, big.NewInt(10)).Cmp(s.Amount) > 0 {
		s.Warnings[bridge.WarnFeeTooHigh] = models.ErrFeeTooHigh
	}

	if t.Recipient == "" {
		s.Errors[bridge.FieldRecipient] = models.ErrRecipientRequired
	} else if !validAddress(t.Recipient) {
		s.Errors[bridge.FieldRecipient] = models.ErrInvalidAddress
	}

	return s, nil
}

func (b *Bridge) SignAndBroadcast(ctx context.Context, account *models.Account, tx bridge.Transaction, deviceID string) (<-chan bridge.SignEvent, error) {
	t := tx.(*Transaction)
	if t.FeePerByte == nil {
		return nil, models.ErrFeeNotLoaded
	}
	fee := new(big.Int).Mul(t.FeePerByte, new(big.Int).SetUint64(b.cfg.BitcoinTxVirtualSize))

	unsigned := serializeForSigning(account, t)
	broadcast := func(ctx context.Context, signed []byte) (*models.Operation, error) {
		hash, err := b.ix.Broadcast(ctx, account.Currency, signed)
		if err != nil {
			return nil, err
		}
		return optimisticOperation(account, t, fee, hash), nil
	}
	return b.flow.Run(ctx, account.ID, deviceID, unsigned, account.DerivationPath, broadcast)
}

func (b *Bridge) StartSync(ctx context.Context, account *models.Account) (<-chan bridge.SyncEvent, error) {
	events := make(chan bridge.SyncEvent, 1)
	go func() {
		defer close(events)
		err := syncer.Account(ctx, b.ix, account, syncer.Options{
			BuildOperation: buildOperation,
		})
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
	return syncer.ScanAccounts(ctx, b.ix, currency, derive, b.cfg.ScanAccountLimit, syncer.Options{
		BuildOperation: buildOperation,
	})
}

func buildOperation(raw client.RawOperation, accountID string) (*models.Operation, error) {
	return syncer.StandardOperation(raw, accountID), nil
}

func validAddress(address string) bool {
	_, _, err := base58.CheckDecode(address)
	return err == nil
}

// serializeForSigning encodes the draft in the simplified payment layout
// the signer expects: version, sender, recipient, amount, fee rate.
func serializeForSigning(a *models.Account, t *Transaction) []byte {
	buf := []byte{0x01, 0x00, 0x00, 0x00}
	buf = appendString(buf, a.FreshAddress)
	buf = appendString(buf, t.Recipient)
	buf = appendBytes(buf, t.Amount.Bytes())
	buf = appendBytes(buf, t.FeePerByte.Bytes())
	if t.UseAllAmount {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
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

func optimisticOperation(a *models.Account, t *Transaction, fee *big.Int, hash string) *models.Operation {
	value := new(big.Int).Add(t.Amount, fee)
	if t.UseAllAmount {
		value = new(big.Int).Set(a.Balance)
	}
	return &models.Operation{
		ID:         models.OperationID(a.ID, hash, models.OperationOut),
		Hash:       hash,
		Type:       models.OperationOut,
		Value:      value,
		Fee:        fee,
		Senders:    []string{a.FreshAddress},
		Recipients: []string{t.Recipient},
		AccountID:  a.ID,
		Date:       time.Now(),
	}
}
