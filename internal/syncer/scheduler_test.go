package syncer_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/config"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/internal/family"
	"github.com/mkoval/walletcore/internal/store"
	"github.com/mkoval/walletcore/internal/syncer"
	"github.com/mkoval/walletcore/pkg/models"
)

func TestSchedulerSyncsStoredAccounts(t *testing.T) {
	ix := client.NewMemoryIndexer()
	ix.States["addr1"] = &client.AccountState{Balance: big.NewInt(900), BlockHeight: 42}

	reg := family.NewRegistry(config.Default(), ix, &device.MemoryTransport{})

	currency, _ := models.CurrencyByID("bitcoin")
	account := &models.Account{
		ID:           "walletcore:1:bitcoin:addr1",
		Currency:     currency,
		FreshAddress: "addr1",
		Balance:      big.NewInt(0),
	}
	accounts := store.NewMemoryAccountStore()
	require.NoError(t, accounts.Upsert(account))

	s := syncer.NewScheduler(reg, accounts, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	select {
	case ev := <-s.Events():
		require.NoError(t, ev.Err)
		assert.Equal(t, account.ID, ev.AccountID)
	case <-time.After(2 * time.Second):
		t.Fatal("no sync outcome observed")
	}
	require.NoError(t, s.Stop())

	assert.Equal(t, big.NewInt(900), account.Balance)
	assert.Equal(t, uint64(42), account.BlockHeight)
}

func TestSchedulerReportsBridgeResolutionFailure(t *testing.T) {
	reg := family.NewRegistry(config.Default(), client.NewMemoryIndexer(), &device.MemoryTransport{})

	accounts := store.NewMemoryAccountStore()
	require.NoError(t, accounts.Upsert(&models.Account{
		ID:       "walletcore:1:unknown:x",
		Currency: &models.Currency{ID: "unknown", Family: models.Family("unknown")},
		Balance:  big.NewInt(0),
	}))

	s := syncer.NewScheduler(reg, accounts, 10*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))

	select {
	case ev := <-s.Events():
		assert.ErrorIs(t, ev.Err, models.ErrNoBridge)
	case <-time.After(2 * time.Second):
		t.Fatal("no sync outcome observed")
	}
	require.NoError(t, s.Stop())
}
