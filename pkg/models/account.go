package models

import "math/big"

// Account is the durable local model of one on-chain account. It is mutated
// only by the sync path, which holds it exclusively for the duration of a
// pass. Operations are ordered by decreasing recency.
type Account struct {
	ID             string
	Currency       *Currency
	Index          uint32
	FreshAddress   string
	DerivationPath string
	SeedIdentifier string

	Balance          *big.Int
	SpendableBalance *big.Int

	// BlockHeight is the chain height observed at the last sync.
	BlockHeight uint64

	Operations []*Operation

	// PendingOperations are optimistic operations emitted at broadcast
	// time, removed once their confirmed twin appears in Operations.
	PendingOperations []*Operation

	SubAccounts []*SubAccount
}

// SubAccount is a secondary ledger nested under an account, e.g. an ERC-20
// token balance. Its id never changes once assigned.
type SubAccount struct {
	ID       string
	ParentID string
	Token    *TokenCurrency

	Balance    *big.Int
	Operations []*Operation
}

// SubAccountID derives the deterministic sub-account identifier from the
// parent account and the token's on-chain key.
func SubAccountID(parentAccountID, contractAddress string) string {
	return parentAccountID + "+" + contractAddress
}

// SubAccountByID finds a sub-account of the account, or nil.
func (a *Account) SubAccountByID(id string) *SubAccount {
	for _, sa := range a.SubAccounts {
		if sa.ID == id {
			return sa
		}
	}
	return nil
}
