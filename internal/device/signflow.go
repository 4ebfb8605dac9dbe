package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/pkg/models"
)

// BroadcastFunc submits a signed payload and returns the optimistic
// operation describing it.
type BroadcastFunc func(ctx context.Context, signed []byte) (*models.Operation, error)

// SignFlow is the shared sign-and-broadcast lifecycle used by all family
// bridges: acquire the per-account guard, open the device, emit "signing",
// sign, emit "signed", broadcast, emit "broadcasted" with the optimistic
// operation.
//
// The context cancels the flow up to the moment "signed" is emitted. After
// that the broadcast proceeds regardless: a transaction signed by the user
// must not be silently dropped, and once submitted it cannot be recalled.
type SignFlow struct {
	Transport Transport
	Guard     *bridge.BroadcastGuard
	Logger    *slog.Logger
}

// Run starts the flow and returns its event stream. The channel is closed
// after the terminal event. The error return is non-nil only when the flow
// could not start at all (another one in flight for the account).
func (f *SignFlow) Run(ctx context.Context, accountID, deviceID string, unsigned []byte, derivationPath string, broadcast BroadcastFunc) (<-chan bridge.SignEvent, error) {
	if err := f.Guard.Acquire(accountID); err != nil {
		return nil, err
	}

	log := f.Logger.With("account", accountID, "device", deviceID)

	// Capacity covers the longest event sequence so emission never blocks
	// on a slow consumer.
	events := make(chan bridge.SignEvent, 4)
	go func() {
		defer close(events)
		defer f.Guard.Release(accountID)

		fail := func(err error) {
			log.Warn("sign flow failed", "error", err)
			events <- bridge.SignEvent{Type: bridge.SignEventError, Err: err}
		}

		signer, err := f.Transport.Open(ctx, deviceID)
		if err != nil {
			fail(fmt.Errorf("open device: %w", err))
			return
		}
		defer signer.Close()

		events <- bridge.SignEvent{Type: bridge.SignEventSigning}

		signed, err := signer.Sign(ctx, unsigned, derivationPath)
		if err != nil {
			fail(err)
			return
		}
		if ctx.Err() != nil {
			// Canceled before "signed" was observed: honor it.
			fail(ctx.Err())
			return
		}

		events <- bridge.SignEvent{Type: bridge.SignEventSigned}
		log.Info("transaction signed")

		// Not cancellable from here on.
		op, err := broadcast(context.WithoutCancel(ctx), signed)
		if err != nil {
			fail(fmt.Errorf("broadcast: %w", err))
			return
		}

		log.Info("transaction broadcasted", "operation", op.ID, "hash", op.Hash)
		events <- bridge.SignEvent{Type: bridge.SignEventBroadcasted, Operation: op}
	}()

	return events, nil
}

// Retriable reports whether a sign flow failure is worth retrying once the
// user intervened: a disconnection is, a refusal is not, an app mismatch is
// owned by the device-transport layer's install/open flow.
func Retriable(err error) bool {
	return errors.Is(err, models.ErrDeviceDisconnected)
}
