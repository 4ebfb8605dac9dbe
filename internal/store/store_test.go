package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/walletcore/pkg/models"
)

func account(id string, index uint32) *models.Account {
	return &models.Account{ID: id, Index: index, Balance: big.NewInt(0)}
}

func TestUpsertAndGet(t *testing.T) {
	s := NewMemoryAccountStore()
	require.NoError(t, s.Upsert(account("a1", 0)))

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestListOrdersByIndex(t *testing.T) {
	s := NewMemoryAccountStore()
	require.NoError(t, s.Upsert(account("b", 1)))
	require.NoError(t, s.Upsert(account("c", 0)))
	require.NoError(t, s.Upsert(account("a", 1)))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID)
}

func TestAddPendingOperationDeduplicates(t *testing.T) {
	s := NewMemoryAccountStore()
	require.NoError(t, s.Upsert(account("a1", 0)))

	op := &models.Operation{ID: models.OperationID("a1", "h1", models.OperationOut), Hash: "h1"}
	require.NoError(t, s.AddPendingOperation("a1", op))
	require.NoError(t, s.AddPendingOperation("a1", op))

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Len(t, got.PendingOperations, 1)

	assert.ErrorIs(t, s.AddPendingOperation("nope", op), ErrAccountNotFound)
}

func TestRemove(t *testing.T) {
	s := NewMemoryAccountStore()
	require.NoError(t, s.Upsert(account("a1", 0)))
	require.NoError(t, s.Remove("a1"))
	_, err := s.Get("a1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
