// Package ripple implements the account and currency bridges for
// XRP-like currencies with flat server-quoted fees and a reserve that must
// stay locked in the account.
package ripple

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
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

// NetworkInfo is the server quote attached once PrepareTransaction fetched
// it: the open-ledger fee and the reserve locked per account.
type NetworkInfo struct {
	ServerFee   *big.Int
	BaseReserve *big.Int
}

// Transaction is the ripple transaction draft. Tag is the optional
// destination tag routing the payment within the recipient's account.
type Transaction struct {
	Amount       *big.Int
	Recipient    string
	Fee          *big.Int
	Tag          *uint32
	UseAllAmount bool
	NetworkInfo  *NetworkInfo
}

func (t *Transaction) Family() models.Family { return models.FamilyRipple }

// Bridge implements bridge.AccountBridge and bridge.CurrencyBridge for the
// ripple family.
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
		log:  slog.Default().With("component", "bridge", "family", "ripple"),
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
	if patch.Fee != nil {
		next.Fee = patch.Fee
	}
	if patch.Tag != nil {
		next.Tag = patch.Tag
	}
	return &next
}

// PrepareTransaction fetches the server quote once and defaults the flat
// fee from it.
func (b *Bridge) PrepareTransaction(ctx context.Context, account *models.Account, tx bridge.Transaction) (bridge.Transaction, error) {
	t := tx.(*Transaction)
	if t.NetworkInfo != nil && t.Fee != nil {
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
		info = &NetworkInfo{ServerFee: fs.ServerFee, BaseReserve: fs.BaseReserve}
	}

	next := *t
	next.NetworkInfo = info
	if next.Fee == nil {
		next.Fee = info.ServerFee
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

	fee := big.NewInt(0)
	if t.Fee == nil {
		s.Errors[bridge.FieldTransaction] = models.ErrFeeNotLoaded
	} else {
		fee = t.Fee
	}
	s.EstimatedFees = fee

	reserve := big.NewInt(0)
	if t.NetworkInfo != nil && t.NetworkInfo.BaseReserve != nil {
		reserve = t.NetworkInfo.BaseReserve
	}
	// The reserve can never leave the account; it is not spendable.
	spendable := new(big.Int).Sub(account.Balance, reserve)
	if spendable.Sign() < 0 {
		spendable = big.NewInt(0)
	}

	if t.UseAllAmount {
		s.TotalSpent = new(big.Int).Set(spendable)
		s.Amount = new(big.Int).Sub(spendable, fee)
		if s.Amount.Sign() < 0 {
			s.Amount = big.NewInt(0)
		}
	} else {
		s.Amount = new(big.Int).Set(t.Amount)
		s.TotalSpent = new(big.Int).Add(t.Amount, fee)
	}

	if !t.UseAllAmount && t.Amount.Sign() <= 0 {
		s.Errors[bridge.FieldAmount] = models.ErrAmountRequired
	} else if s.TotalSpent.Cmp(spendable) > 0 {
		s.Errors[bridge.FieldAmount] = models.ErrNotEnoughBalance
	}

	if s.Amount.Sign() > 0 && new(big.Int).Mul(fee, big.NewInt(10)).Cmp(s.Amount) > 0 {
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
	if t.Fee == nil {
		return nil, models.ErrFeeNotLoaded
	}

	unsigned := serializeForSigning(account, t)
	broadcast := func(ctx context.Context, signed []byte) (*models.Operation, error) {
		hash, err := b.ix.Broadcast(ctx, account.Currency, signed)
		if err != nil {
			return nil, err
		}
		return optimisticOperation(account, t, hash), nil
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

// validAddress checks the base58check structure under XRP's alphabet:
// after transcoding back to the bitcoin alphabet the payload must decode
// with version zero, which is what puts the leading 'r' on the address.
func validAddress(address string) bool {
	if !strings.HasPrefix(address, "r") {
		return false
	}
	_, version, err := base58.CheckDecode(device.FromRippleAlphabet(address))
	return err == nil && version == 0x00
}

// serializeForSigning encodes the draft in the simplified payment layout
// the signer expects.
func serializeForSigning(a *models.Account, t *Transaction) []byte {
	buf := []byte{0x04}
	buf = appendString(buf, a.FreshAddress)
	buf = appendString(buf, t.Recipient)
	buf = appendBytes(buf, t.Amount.Bytes())
	buf = appendBytes(buf, t.Fee.Bytes())
	if t.Tag != nil {
		var tag [4]byte
		binary.BigEndian.PutUint32(tag[:], *t.Tag)
		buf = appendBytes(buf, tag[:])
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

func optimisticOperation(a *models.Account, t *Transaction, hash string) *models.Operation {
	value := new(big.Int).Add(t.Amount, t.Fee)
	var extra map[string]string
	if t.Tag != nil {
		extra = map[string]string{"destinationTag": strconv.FormatUint(uint64(*t.Tag), 10)}
	}
	return &models.Operation{
		ID:         models.OperationID(a.ID, hash, models.OperationOut),
		Hash:       hash,
		Type:       models.OperationOut,
		Value:      value,
		Fee:        new(big.Int).Set(t.Fee),
		Senders:    []string{a.FreshAddress},
		Recipients: []string{t.Recipient},
		AccountID:  a.ID,
		Date:       time.Now(),
		Extra:      extra,
	}
}
