package device

import (
	"context"
	"crypto/sha256"

	"github.com/mkoval/walletcore/pkg/models"
)

// MemoryTransport is an in-process Transport for tests: every Open returns
// a MemorySigner sharing the transport's scripted behavior, and address
// derivation runs against the configured seed.
type MemoryTransport struct {
	// Seed backs DeriveAddress. Tests that never scan can leave it nil.
	Seed []byte

	// OpenErr makes Open fail, e.g. with models.ErrDeviceDisconnected.
	OpenErr error

	// SignErr makes every Sign fail, e.g. with models.ErrUserRefused.
	SignErr error

	// Block, when non-nil, is received from before Sign returns, letting
	// tests cancel a flow mid-signature.
	Block chan struct{}
}

func (t *MemoryTransport) DeriveAddress(ctx context.Context, deviceID string, currency *models.Currency, index uint32) (*DerivedAddress, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	return DeriveAddress(t.Seed, currency, index)
}

func (t *MemoryTransport) Open(ctx context.Context, deviceID string) (Signer, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	return &MemorySigner{transport: t}, nil
}

// MemorySigner signs by appending a digest of the payload and path. Good
// enough for tests asserting flow mechanics rather than cryptography.
type MemorySigner struct {
	transport *MemoryTransport
}

func (s *MemorySigner) Sign(ctx context.Context, unsigned []byte, derivationPath string) ([]byte, error) {
	if s.transport.SignErr != nil {
		return nil, s.transport.SignErr
	}
	if s.transport.Block != nil {
		select {
		case <-s.transport.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sum := sha256.Sum256(append(append([]byte{}, unsigned...), derivationPath...))
	return append(append([]byte{}, unsigned...), sum[:]...), nil
}

func (s *MemorySigner) Close() error { return nil }
