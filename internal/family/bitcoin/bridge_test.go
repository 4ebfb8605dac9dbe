package bitcoin

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/config"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/pkg/models"
)

const validRecipient = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func testBridge(t *testing.T, ix *client.MemoryIndexer, cfg config.Config) *Bridge {
	t.Helper()
	flow := &device.SignFlow{
		Transport: &device.MemoryTransport{},
		Guard:     bridge.NewBroadcastGuard(),
		Logger:    slog.Default(),
	}
	return New(cfg, ix, flow)
}

func testAccount(balance int64) *models.Account {
	currency, _ := models.CurrencyByID("bitcoin")
	return &models.Account{
		ID:           "walletcore:1:bitcoin:addr",
		Currency:     currency,
		FreshAddress: "1BitcoinEaterAddressDontSendf59kuE",
		Balance:      big.NewInt(balance),
	}
}

func TestPrepareFillsFeeFromQuote(t *testing.T) {
	ix := client.NewMemoryIndexer()
	ix.Fees["bitcoin"] = &client.FeeSchedule{FeePerByte: big.NewInt(6)}
	b := testBridge(t, ix, config.Default())
	a := testAccount(1000)

	tx := b.CreateTransaction(a)
	prepared, err := b.PrepareTransaction(context.Background(), a, tx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6), prepared.(*Transaction).FeePerByte)

	// Idempotent on its own output: exact same value back.
	again, err := b.PrepareTransaction(context.Background(), a, prepared)
	require.NoError(t, err)
	assert.Same(t, prepared, again)
}

func TestPrepareFailsWhenQuoteUnavailable(t *testing.T) {
	ix := client.NewMemoryIndexer()
	ix.FailFees = errors.New("explorer down")
	b := testBridge(t, ix, config.Default())

	_, err := b.PrepareTransaction(context.Background(), testAccount(1000), b.CreateTransaction(testAccount(1000)))
	assert.Error(t, err)
}

func TestStatusFeeNotLoaded(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer(), config.Default())
	a := testAccount(1000)

	tx := b.UpdateTransaction(b.CreateTransaction(a), bridge.Patch{
		Amount:    big.NewInt(100),
		Recipient: strPtr(validRecipient),
	})
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldTransaction], models.ErrFeeNotLoaded)
	assert.Equal(t, big.NewInt(0), s.EstimatedFees)
}

func TestStatusInsufficientBalance(t *testing.T) {
	cfg := config.Default()
	cfg.BitcoinTxVirtualSize = 10
	b := testBridge(t, client.NewMemoryIndexer(), cfg)
	a := testAccount(100)

	tx := &Transaction{Amount: big.NewInt(50), Recipient: validRecipient, FeePerByte: big.NewInt(6)}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(60), s.EstimatedFees)
	assert.Equal(t, big.NewInt(110), s.TotalSpent)
	assert.ErrorIs(t, s.Errors[bridge.FieldAmount], models.ErrNotEnoughBalance)
	assert.False(t, s.CanSend())
}

func TestStatusFeeTooHighWarning(t *testing.T) {
	cfg := config.Default()
	cfg.BitcoinTxVirtualSize = 10
	b := testBridge(t, client.NewMemoryIndexer(), cfg)
	a := testAccount(10_000)

	// fee 60 against amount 100: more than a tenth, warn but do not block
	tx := &Transaction{Amount: big.NewInt(100), Recipient: validRecipient, FeePerByte: big.NewInt(6)}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Warnings[bridge.WarnFeeTooHigh], models.ErrFeeTooHigh)
	assert.True(t, s.CanSend())
}

func TestStatusUseAllAmount(t *testing.T) {
	cfg := config.Default()
	cfg.BitcoinTxVirtualSize = 10
	b := testBridge(t, client.NewMemoryIndexer(), cfg)
	a := testAccount(1000)

	tx := &Transaction{Amount: big.NewInt(0), Recipient: validRecipient, FeePerByte: big.NewInt(2), UseAllAmount: true}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(980), s.Amount)
	assert.Equal(t, big.NewInt(1000), s.TotalSpent)
	assert.True(t, s.CanSend())
}

func TestStatusRecipientValidation(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer(), config.Default())
	a := testAccount(1000)

	tx := &Transaction{Amount: big.NewInt(10), Recipient: "", FeePerByte: big.NewInt(1)}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldRecipient], models.ErrRecipientRequired)

	tx = &Transaction{Amount: big.NewInt(10), Recipient: "not-an-address", FeePerByte: big.NewInt(1)}
	s, err = b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldRecipient], models.ErrInvalidAddress)
}

func TestUpdateTransactionNeverMutatesInput(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer(), config.Default())
	a := testAccount(1000)

	tx := b.CreateTransaction(a).(*Transaction)
	next := b.UpdateTransaction(tx, bridge.Patch{Recipient: strPtr(validRecipient), Amount: big.NewInt(42)})

	assert.Equal(t, "", tx.Recipient)
	assert.Equal(t, big.NewInt(0), tx.Amount)
	assert.Equal(t, validRecipient, next.(*Transaction).Recipient)
}

func TestSignAndBroadcastEmitsOptimisticOperation(t *testing.T) {
	ix := client.NewMemoryIndexer()
	cfg := config.Default()
	cfg.BitcoinTxVirtualSize = 10
	b := testBridge(t, ix, cfg)
	a := testAccount(1000)

	tx := &Transaction{Amount: big.NewInt(100), Recipient: validRecipient, FeePerByte: big.NewInt(2)}
	events, err := b.SignAndBroadcast(context.Background(), a, tx, "dev-1")
	require.NoError(t, err)

	var got []bridge.SignEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, bridge.SignEventSigning, got[0].Type)
	assert.Equal(t, bridge.SignEventSigned, got[1].Type)
	assert.Equal(t, bridge.SignEventBroadcasted, got[2].Type)

	op := got[2].Operation
	require.NotNil(t, op)
	assert.Equal(t, models.OperationOut, op.Type)
	assert.Equal(t, big.NewInt(120), op.Value) // amount plus fee
	assert.Equal(t, big.NewInt(20), op.Fee)
	assert.Nil(t, op.BlockHeight)
	assert.Equal(t, models.OperationID(a.ID, op.Hash, models.OperationOut), op.ID)
}

func TestSignAndBroadcastRequiresFee(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer(), config.Default())
	a := testAccount(1000)

	_, err := b.SignAndBroadcast(context.Background(), a, &Transaction{Amount: big.NewInt(1), Recipient: validRecipient}, "dev-1")
	assert.ErrorIs(t, err, models.ErrFeeNotLoaded)
}

func strPtr(s string) *string { return &s }
