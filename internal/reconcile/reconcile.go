// Package reconcile merges freshly fetched chain data into a previously
// known account model, preserving the identity of unchanged entities
// instead of rebuilding everything.
//
// The merge relies on two facts: operation identifiers are deterministic
// (same chain transaction, same id on every sync), and confirmed history is
// immutable, so once the merge reaches a record it has already built in its
// final state, everything older is guaranteed unchanged.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/mkoval/walletcore/pkg/models"
)

// Builder turns a raw chain record into an Operation. Returning a nil
// operation (and nil error) excludes the record, e.g. zero-value internal
// artifacts the family does not surface.
type Builder[R any] func(R) (*models.Operation, error)

// Operations merges a freshly fetched record sequence into an existing
// operation sequence. Both are ordered newest first, and so is the result.
//
// A rebuilt operation whose id and confirmation state match an existing one
// short-circuits the merge: the existing entities are reused from that
// point on. A matching id with a different confirmation state (a pending
// operation that confirmed) is replaced by the rebuilt operation and the
// walk continues.
func Operations[R any](existing []*models.Operation, fetched []R, build Builder[R]) ([]*models.Operation, error) {
	byID := make(map[string]int, len(existing))
	for i, op := range existing {
		byID[op.ID] = i
	}

	var merged []*models.Operation
	for _, raw := range fetched {
		op, err := build(raw)
		if err != nil {
			return nil, fmt.Errorf("build operation: %w", err)
		}
		if op == nil {
			continue
		}

		j, known := byID[op.ID]
		if known && sameImmutableState(existing[j], op) {
			if j == 0 && merged == nil {
				// Nothing changed at all: reuse the previous sequence
				// as-is so callers observe zero churn.
				return existing, nil
			}
			return append(merged, existing[j:]...), nil
		}
		merged = append(merged, op)
	}
	if merged == nil {
		merged = []*models.Operation{}
	}
	return merged, nil
}

// sameImmutableState reports whether the previously built operation already
// reflects the rebuilt record: same identity and same confirmation point.
func sameImmutableState(prev, next *models.Operation) bool {
	if prev.ID != next.ID || prev.BlockHash != next.BlockHash {
		return false
	}
	switch {
	case prev.BlockHeight == nil && next.BlockHeight == nil:
		return true
	case prev.BlockHeight == nil || next.BlockHeight == nil:
		return false
	default:
		return *prev.BlockHeight == *next.BlockHeight
	}
}

// SubAccountBuilder turns a raw token/asset bucket into a SubAccount,
// given the previously known sub-account with the same identity (nil when
// the asset is newly observed). Returning nil drops the bucket, e.g. for
// assets not present in the token registry.
type SubAccountBuilder[B any] func(bucket B, existing *models.SubAccount) (*models.SubAccount, error)

// SubAccounts rebuilds the sub-account list of an account from a fresh
// chain report. Previously known assets keep their previous relative order;
// newly appeared assets are appended after them, in report order.
func SubAccounts[B any](existing []*models.SubAccount, buckets []B, key func(B) string, build SubAccountBuilder[B]) ([]*models.SubAccount, error) {
	prevByKey := make(map[string]*models.SubAccount, len(existing))
	prevOrder := make(map[string]int, len(existing))
	for i, sa := range existing {
		k := sa.Token.ContractAddress
		prevByKey[k] = sa
		prevOrder[k] = i
	}

	out := make([]*models.SubAccount, 0, len(buckets))
	for _, b := range buckets {
		sa, err := build(b, prevByKey[key(b)])
		if err != nil {
			return nil, fmt.Errorf("build sub-account: %w", err)
		}
		if sa != nil {
			out = append(out, sa)
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		i, iKnown := prevOrder[out[a].Token.ContractAddress]
		j, jKnown := prevOrder[out[b].Token.ContractAddress]
		switch {
		case iKnown && jKnown:
			return i < j
		case iKnown:
			return true
		case jKnown:
			return false
		default:
			return false // both new: keep report order
		}
	})

	return out, nil
}
