// Package client defines the contract of the chain-indexing and fee-oracle
// collaborator. The engine treats its outputs as opaque but well-typed
// facts; any failure surfaces as "fee/gas unknown" on the transaction
// status, never as a crash.
package client

import (
	"context"
	"math/big"
	"time"

	"github.com/mkoval/walletcore/pkg/models"
)

// FeeSchedule is a fee quote for a currency. Families read the fields
// relevant to their fee model and ignore the rest.
type FeeSchedule struct {
	FeePerByte  *big.Int // bitcoin-like
	GasPrice    *big.Int // ethereum-like
	ServerFee   *big.Int // ripple-like
	BaseReserve *big.Int // ripple-like minimum locked balance
}

// RawOperation is one account-affecting record as reported by the indexer,
// before family policy turns it into an Operation (or excludes it).
type RawOperation struct {
	Hash       string
	Type       models.OperationType
	Value      *big.Int // excludes fee; families fold the fee into OUT values
	Fee        *big.Int
	Senders    []string
	Recipients []string

	// BlockHeight is nil for mempool/unconfirmed records.
	BlockHeight *uint64
	BlockHash   string
	Time        time.Time

	// Extra carries family-specific record fields (memo, tag, ...).
	Extra map[string]string

	// TokenTransfers are asset movements embedded in this record.
	TokenTransfers []RawTokenTransfer
}

// RawTokenTransfer is a token movement inside a parent record.
type RawTokenTransfer struct {
	ContractAddress string
	Type            models.OperationType
	Value           *big.Int
	Senders         []string
	Recipients      []string
}

// TokenBalance is one token/asset bucket reported for an address.
type TokenBalance struct {
	ContractAddress string
	Balance         *big.Int
	Operations      []RawOperation // newest first
}

// AccountState is a point-in-time snapshot of an address.
type AccountState struct {
	Balance          *big.Int
	SpendableBalance *big.Int
	BlockHeight      uint64
	Used             bool // the address has chain history
	Tokens           []TokenBalance
}

// Indexer supplies raw account/operation data and fee quotes. Operations
// must be reported newest first; implementations fronting an oldest-first
// source normalize at this boundary.
type Indexer interface {
	// FeeEstimate quotes current fees for the currency.
	FeeEstimate(ctx context.Context, currency *models.Currency) (*FeeSchedule, error)

	// AccountState returns the current snapshot of an address.
	AccountState(ctx context.Context, currency *models.Currency, address string) (*AccountState, error)

	// AccountOperations lists records affecting an address, newest first.
	AccountOperations(ctx context.Context, currency *models.Currency, address string) ([]RawOperation, error)

	// EstimateGasLimit simulates a transfer to the given address and
	// returns the gas it would use. Ethereum-like currencies only.
	EstimateGasLimit(ctx context.Context, currency *models.Currency, address string) (*big.Int, error)

	// SimulateTransaction dry-runs an unsigned payload and returns the gas
	// used. Cosmos-like currencies only.
	SimulateTransaction(ctx context.Context, currency *models.Currency, unsigned []byte) (*big.Int, error)

	// Broadcast submits a signed payload and returns the transaction hash.
	Broadcast(ctx context.Context, currency *models.Currency, signed []byte) (string, error)
}
