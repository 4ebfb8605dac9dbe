// Package bridge defines the polymorphic account/currency contract every
// chain family implements, the registry resolving a family tag to its
// implementation, and the client-side transaction lifecycle session.
//
// Everything above this contract stays family-agnostic: the session never
// branches on family, it only drives bridge calls in the correct order.
package bridge

import (
	"context"
	"math/big"

	"github.com/mkoval/walletcore/pkg/models"
)

// Transaction is the per-family transaction variant. Implementations are
// pointer types owned by the edit session: they are replaced wholesale on
// each edit and never mutated in place, so two equal interface values mean
// "the same edit state".
type Transaction interface {
	// Family returns the tag of the family the variant belongs to.
	Family() models.Family
}

// Patch is a structural update applied through UpdateTransaction. Nil
// fields are left untouched. Families ignore fields that do not apply to
// them and clear dependent derived fields when a patched field invalidates
// them (e.g. a new recipient invalidates an estimated gas limit).
type Patch struct {
	Amount       *big.Int
	Recipient    *string
	UseAllAmount *bool
	SubAccountID *string

	// bitcoin-like
	FeePerByte *big.Int

	// ethereum-like
	GasPrice     *big.Int
	UserGasLimit *big.Int

	// cosmos-like
	Memo       *string
	Mode       *string
	Validators []string

	// ripple-like
	Fee *big.Int
	Tag *uint32
}

// Status field keys used in Status.Errors and Status.Warnings.
const (
	FieldAmount      = "amount"
	FieldRecipient   = "recipient"
	FieldTransaction = "transaction"
	WarnFeeTooHigh   = "feeTooHigh"
)

// Status is derived from an account/transaction pair, never stored. It is
// recomputed by the session every time either changes.
type Status struct {
	// Errors are blocking validation failures keyed by field.
	Errors map[string]error

	// Warnings are non-blocking, keyed by field.
	Warnings map[string]error

	EstimatedFees *big.Int

	// Amount is the resolved amount: with UseAllAmount it is the concrete
	// spendable value net of fees.
	Amount *big.Int

	// TotalSpent is what leaves the account including fees.
	TotalSpent *big.Int

	UseAllAmount bool

	// EstimatedGas is set by gas-metered families only.
	EstimatedGas *big.Int
}

// CanSend reports whether the status carries no blocking error.
func (s *Status) CanSend() bool {
	return len(s.Errors) == 0
}

// SignEventType tags an event of the sign/broadcast stream.
type SignEventType string

// Sign/broadcast lifecycle events, emitted in order. The stream terminates
// (channel closes) after Broadcasted or Error. Cancellation through the
// context is honored until Signed is emitted; after broadcast it has no
// effect.
const (
	SignEventSigning     SignEventType = "signing"
	SignEventSigned      SignEventType = "signed"
	SignEventBroadcasted SignEventType = "broadcasted"
	SignEventError       SignEventType = "error"
)

// SignEvent is one step of the sign/broadcast lifecycle.
type SignEvent struct {
	Type SignEventType

	// Operation is the optimistic operation, set on Broadcasted. Its block
	// fields are nil until a sync pass observes the confirmed twin.
	Operation *models.Operation

	// Err is the classified terminal failure, set on Error.
	Err error
}

// SyncEvent reports the outcome of a sync pass started with StartSync.
type SyncEvent struct {
	// Err is nil when the pass completed and the account was updated.
	Err error
}

// ScanEvent is one discovery of an account scan. Err terminates the scan.
type ScanEvent struct {
	Account *models.Account
	Err     error
}

// Capabilities reports what the family supports for an account.
type Capabilities struct {
	CanSync bool
	CanSend bool
}

// AccountBridge is the per-family implementation of the transaction
// lifecycle and sync for one account.
type AccountBridge interface {
	// CreateTransaction returns a fresh transaction with family defaults.
	// Pure and synchronous.
	CreateTransaction(account *models.Account) Transaction

	// UpdateTransaction returns a copy of t with the patch applied; the
	// input is never mutated.
	UpdateTransaction(t Transaction, patch Patch) Transaction

	// PrepareTransaction fills fee/gas fields, calling collaborators
	// through the result cache. Idempotent: called on its own unchanged
	// output it returns the same value.
	PrepareTransaction(ctx context.Context, account *models.Account, t Transaction) (Transaction, error)

	// GetTransactionStatus derives the validation state of t.
	GetTransactionStatus(ctx context.Context, account *models.Account, t Transaction) (*Status, error)

	// SignAndBroadcast signs t with the device and submits it, emitting
	// lifecycle events on the returned stream. At most one stream may be
	// in flight per account.
	SignAndBroadcast(ctx context.Context, account *models.Account, t Transaction, deviceID string) (<-chan SignEvent, error)

	// StartSync merges fresh chain activity into the account, which the
	// caller hands over exclusively for the duration of the pass.
	StartSync(ctx context.Context, account *models.Account) (<-chan SyncEvent, error)

	// Capabilities reports what this family supports for the account.
	Capabilities(account *models.Account) Capabilities
}

// CurrencyBridge is the per-family account discovery contract.
type CurrencyBridge interface {
	// ScanAccounts derives addresses on the device seed and emits every
	// account with on-chain history, then the first unused one.
	ScanAccounts(ctx context.Context, currency *models.Currency, deviceID string) (<-chan ScanEvent, error)
}
