// Package device is the boundary to the hardware signer: opening a device,
// deriving addresses from its seed, and signing payloads. The engine never
// sees key material beyond the derived public keys.
package device

import (
	"context"

	"github.com/mkoval/walletcore/pkg/models"
)

// Signer signs unsigned payloads with the key at a derivation path.
// Implementations surface models.ErrUserRefused, models.ErrDeviceDisconnected
// or models.ErrAppMismatch for the corresponding device conditions; the sign
// flow relies on that classification and never retries a refusal.
type Signer interface {
	// Sign returns the signed payload.
	Sign(ctx context.Context, unsigned []byte, derivationPath string) ([]byte, error)

	// Close releases the transport.
	Close() error
}

// Transport opens a session with a device by identifier and derives
// addresses on it. Key material never crosses this boundary; only derived
// addresses and public keys do.
type Transport interface {
	Open(ctx context.Context, deviceID string) (Signer, error)

	// DeriveAddress derives the currency's address at the given account
	// index on the device.
	DeriveAddress(ctx context.Context, deviceID string, currency *models.Currency, index uint32) (*DerivedAddress, error)
}
