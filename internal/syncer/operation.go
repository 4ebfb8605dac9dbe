package syncer

import (
	"math/big"

	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/pkg/models"
)

// StandardOperation maps a raw record to an Operation the way every family
// does by default: the deterministic id from account, hash and direction,
// and the fee folded into the value of outgoing operations. Families wrap
// this with their exclusion policy and extra fields.
func StandardOperation(raw client.RawOperation, accountID string) *models.Operation {
	fee := raw.Fee
	if fee == nil {
		fee = big.NewInt(0)
	}
	value := new(big.Int)
	if raw.Value != nil {
		value.Set(raw.Value)
	}
	if raw.Type == models.OperationOut {
		value.Add(value, fee)
	}

	return &models.Operation{
		ID:          models.OperationID(accountID, raw.Hash, raw.Type),
		Hash:        raw.Hash,
		Type:        raw.Type,
		Value:       value,
		Fee:         new(big.Int).Set(fee),
		Senders:     raw.Senders,
		Recipients:  raw.Recipients,
		BlockHeight: raw.BlockHeight,
		BlockHash:   raw.BlockHash,
		AccountID:   accountID,
		Date:        raw.Time,
		Extra:       raw.Extra,
	}
}
