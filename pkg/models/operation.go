package models

import (
	"fmt"
	"math/big"
	"time"
)

// OperationType is the direction of an operation relative to its account.
type OperationType string

// Operation directions.
const (
	OperationIn   OperationType = "IN"
	OperationOut  OperationType = "OUT"
	OperationNone OperationType = "NONE"
)

// Operation is one observed effect of a chain transaction on an account.
// Operations are immutable once created. The id is deterministic so that
// repeated syncs of the same chain transaction always produce the same
// entity: a pending operation that later confirms keeps its identity.
type Operation struct {
	ID         string
	Hash       string
	Type       OperationType
	Value      *big.Int // for OUT operations the fee is included
	Fee        *big.Int
	Senders    []string
	Recipients []string

	// BlockHeight is nil while the transaction is unconfirmed.
	BlockHeight *uint64
	BlockHash   string

	AccountID string
	Date      time.Time

	// Extra carries family-specific fields (memo, destination tag, ...).
	Extra map[string]string

	// SubOperations are token movements embedded in this transaction,
	// rebuilt from the raw record on every sync.
	SubOperations []*Operation

	// InternalOperations are child transfers produced by contract
	// execution within this transaction.
	InternalOperations []*Operation
}

// OperationID derives the deterministic operation identifier.
func OperationID(accountID, hash string, typ OperationType) string {
	return fmt.Sprintf("%s-%s-%s", accountID, hash, typ)
}

// Confirmed reports whether the operation has been included in a block.
func (o *Operation) Confirmed() bool {
	return o.BlockHeight != nil
}
