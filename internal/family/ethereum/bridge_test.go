package ethereum

import (
	"context"
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

const (
	recipientA = "0x52908400098527886E0F7030069857D2E4169EE7"
	recipientB = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"

	usdcContract = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func init() {
	models.RegisterToken(&models.TokenCurrency{
		ID:               "ethereum/erc20/usdc",
		ParentCurrencyID: "ethereum",
		Name:             "USD Coin",
		Ticker:           "USDC",
		ContractAddress:  usdcContract,
		Units:            []models.Unit{{Name: "USDC", Code: "USDC", Magnitude: 6}},
	})
}

func testBridge(t *testing.T, ix *client.MemoryIndexer) *Bridge {
	t.Helper()
	flow := &device.SignFlow{
		Transport: &device.MemoryTransport{},
		Guard:     bridge.NewBroadcastGuard(),
		Logger:    slog.Default(),
	}
	return New(config.Default(), ix, flow)
}

func testAccount(balance int64) *models.Account {
	currency, _ := models.CurrencyByID("ethereum")
	return &models.Account{
		ID:           "walletcore:1:ethereum:addr",
		Currency:     currency,
		FreshAddress: "0xDe709F2102306220921060314715629080E2fB77",
		Balance:      big.NewInt(balance),
	}
}

func withToken(a *models.Account, balance int64) *models.SubAccount {
	sub := &models.SubAccount{
		ID:       models.SubAccountID(a.ID, usdcContract),
		ParentID: a.ID,
		Token:    mustToken(),
		Balance:  big.NewInt(balance),
	}
	a.SubAccounts = append(a.SubAccounts, sub)
	return sub
}

func mustToken() *models.TokenCurrency {
	t, ok := models.TokenByAddress("ethereum", usdcContract)
	if !ok {
		panic("usdc not registered")
	}
	return t
}

func TestRecipientChangeClearsGasLimits(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer())

	tx := &Transaction{
		Amount:            big.NewInt(1),
		Recipient:         recipientA,
		UserGasLimit:      big.NewInt(60_000),
		EstimatedGasLimit: big.NewInt(52_000),
	}
	next := b.UpdateTransaction(tx, bridge.Patch{Recipient: strPtr(recipientB)}).(*Transaction)

	assert.Nil(t, next.UserGasLimit)
	assert.Nil(t, next.EstimatedGasLimit)
	// input untouched
	assert.NotNil(t, tx.UserGasLimit)

	// Same recipient patched again: nothing invalidated.
	same := b.UpdateTransaction(next, bridge.Patch{Recipient: strPtr(recipientB), Amount: big.NewInt(5)}).(*Transaction)
	assert.Equal(t, big.NewInt(5), same.Amount)
}

func TestPrepareEstimatesGasThroughCache(t *testing.T) {
	ix := client.NewMemoryIndexer()
	ix.Fees["ethereum"] = &client.FeeSchedule{GasPrice: big.NewInt(3)}
	ix.GasLimits[recipientA] = big.NewInt(52_000)
	b := testBridge(t, ix)
	a := testAccount(1_000_000)

	tx := &Transaction{Amount: big.NewInt(10), Recipient: recipientA}
	prepared, err := b.PrepareTransaction(context.Background(), a, tx)
	require.NoError(t, err)

	p := prepared.(*Transaction)
	assert.Equal(t, big.NewInt(3), p.GasPrice)
	assert.Equal(t, big.NewInt(52_000), p.EstimatedGasLimit)

	// Unchanged draft: the exact same value comes back.
	again, err := b.PrepareTransaction(context.Background(), a, prepared)
	require.NoError(t, err)
	assert.Same(t, prepared, again)
}

func TestPrepareSkipsEstimationWithoutValidTarget(t *testing.T) {
	ix := client.NewMemoryIndexer()
	ix.Fees["ethereum"] = &client.FeeSchedule{GasPrice: big.NewInt(3)}
	b := testBridge(t, ix)
	a := testAccount(1_000_000)

	prepared, err := b.PrepareTransaction(context.Background(), a, &Transaction{Amount: big.NewInt(1), Recipient: "junk"})
	require.NoError(t, err)
	assert.Nil(t, prepared.(*Transaction).EstimatedGasLimit)
}

func TestStatusMainAccount(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer())
	a := testAccount(1_000_000)

	tx := &Transaction{
		Amount:            big.NewInt(100_000),
		Recipient:         recipientA,
		GasPrice:          big.NewInt(2),
		EstimatedGasLimit: big.NewInt(21_000),
	}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(42_000), s.EstimatedFees)
	assert.Equal(t, big.NewInt(142_000), s.TotalSpent)
	assert.Equal(t, big.NewInt(21_000), s.EstimatedGas)
	assert.True(t, s.CanSend())
}

func TestStatusTokenTransferExcludesFeeFromTotalSpent(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer())
	a := testAccount(1_000_000)
	sub := withToken(a, 500)

	tx := &Transaction{
		Amount:            big.NewInt(200),
		Recipient:         recipientA,
		GasPrice:          big.NewInt(2),
		EstimatedGasLimit: big.NewInt(50_000),
		SubAccountID:      sub.ID,
	}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(200), s.TotalSpent)
	assert.Equal(t, big.NewInt(100_000), s.EstimatedFees)
	assert.True(t, s.CanSend())

	// Token balance is the spending limit, not the parent balance.
	tx2 := b.UpdateTransaction(tx, bridge.Patch{Amount: big.NewInt(600)})
	s, err = b.GetTransactionStatus(context.Background(), a, tx2)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldAmount], models.ErrNotEnoughBalance)
}

func TestStatusTokenSelfSendForbidden(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer())
	a := testAccount(1_000_000)
	sub := withToken(a, 500)

	tx := &Transaction{
		Amount:       big.NewInt(10),
		Recipient:    a.FreshAddress,
		GasPrice:     big.NewInt(1),
		SubAccountID: sub.ID,
	}
	s, err := b.GetTransactionStatus(context.Background(), a, tx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldRecipient], models.ErrSelfSendForbidden)

	// Sending the coin to yourself stays allowed.
	coin := &Transaction{Amount: big.NewInt(10), Recipient: a.FreshAddress, GasPrice: big.NewInt(1)}
	s, err = b.GetTransactionStatus(context.Background(), a, coin)
	require.NoError(t, err)
	assert.NoError(t, s.Errors[bridge.FieldRecipient])
}

func TestStatusFeeNotLoaded(t *testing.T) {
	b := testBridge(t, client.NewMemoryIndexer())
	a := testAccount(1_000_000)

	s, err := b.GetTransactionStatus(context.Background(), a, &Transaction{Amount: big.NewInt(1), Recipient: recipientA})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Errors[bridge.FieldTransaction], models.ErrFeeNotLoaded)
	assert.Equal(t, big.NewInt(0), s.EstimatedFees)
}

func TestSignAndBroadcastTokenTransfer(t *testing.T) {
	ix := client.NewMemoryIndexer()
	b := testBridge(t, ix)
	a := testAccount(1_000_000)
	sub := withToken(a, 500)

	tx := &Transaction{
		Amount:            big.NewInt(200),
		Recipient:         recipientA,
		GasPrice:          big.NewInt(2),
		EstimatedGasLimit: big.NewInt(50_000),
		SubAccountID:      sub.ID,
	}
	events, err := b.SignAndBroadcast(context.Background(), a, tx, "dev-1")
	require.NoError(t, err)

	var last bridge.SignEvent
	for ev := range events {
		last = ev
	}
	require.Equal(t, bridge.SignEventBroadcasted, last.Type)

	op := last.Operation
	require.NotNil(t, op)
	assert.Equal(t, big.NewInt(100_000), op.Value) // parent carries the fee
	require.Len(t, op.SubOperations, 1)
	assert.Equal(t, sub.ID, op.SubOperations[0].AccountID)
	assert.Equal(t, big.NewInt(200), op.SubOperations[0].Value)
}

func TestBuildOperationAttachesTokenSubOperations(t *testing.T) {
	height := uint64(100)
	raw := client.RawOperation{
		Hash:        "0xabc",
		Type:        models.OperationOut,
		Value:       big.NewInt(0),
		Fee:         big.NewInt(9),
		BlockHeight: &height,
		TokenTransfers: []client.RawTokenTransfer{
			{ContractAddress: usdcContract, Type: models.OperationOut, Value: big.NewInt(77)},
			{ContractAddress: "0x0000000000000000000000000000000000000bad", Type: models.OperationOut, Value: big.NewInt(1)},
		},
	}
	op, err := buildOperation(raw, "acc")
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Len(t, op.SubOperations, 1) // unrecognized contract dropped
	assert.Equal(t, models.SubAccountID("acc", usdcContract), op.SubOperations[0].AccountID)
}

func TestBuildOperationExcludesZeroValueArtifacts(t *testing.T) {
	op, err := buildOperation(client.RawOperation{
		Hash:  "0xnoop",
		Type:  models.OperationNone,
		Value: big.NewInt(0),
	}, "acc")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestBuildSubAccountReusesExistingEntity(t *testing.T) {
	a := testAccount(0)
	bucket := client.TokenBalance{
		ContractAddress: usdcContract,
		Balance:         big.NewInt(900),
		Operations: []client.RawOperation{
			{Hash: "0x1", Type: models.OperationIn, Value: big.NewInt(900)},
		},
	}

	fresh, err := buildSubAccount(bucket, nil, a)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, big.NewInt(900), fresh.Balance)
	assert.Len(t, fresh.Operations, 1)

	bucket.Balance = big.NewInt(1200)
	reused, err := buildSubAccount(bucket, fresh, a)
	require.NoError(t, err)
	assert.Same(t, fresh, reused)
	assert.Equal(t, big.NewInt(1200), reused.Balance)

	unknown, err := buildSubAccount(client.TokenBalance{ContractAddress: "0xdead"}, nil, a)
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func strPtr(s string) *string { return &s }
