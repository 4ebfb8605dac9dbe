package models

import "errors"

// Validation errors, reported per-field in a transaction status. They block
// sending until the user fixes the field.
var (
	// ErrNotEnoughBalance means total spent would exceed the account balance.
	ErrNotEnoughBalance = errors.New("not enough balance")

	// ErrInvalidAddress means the recipient does not parse for the currency.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrSelfSendForbidden means recipient equals sender where the family
	// forbids it (token transfers).
	ErrSelfSendForbidden = errors.New("recipient is also the source")

	// ErrAmountRequired means the amount is zero or missing.
	ErrAmountRequired = errors.New("amount required")

	// ErrRecipientRequired means no recipient was entered yet.
	ErrRecipientRequired = errors.New("recipient required")

	// ErrFeeNotLoaded means fees were not fetched yet, so the status cannot
	// be fully derived.
	ErrFeeNotLoaded = errors.New("fee not loaded")
)

// Validation warnings. Non-blocking.
var (
	// ErrFeeTooHigh warns that fees exceed 10% of the amount spent.
	ErrFeeTooHigh = errors.New("fee is higher than 10% of the amount")
)

// Device errors raised by the hardware signer collaborator. The sign flow
// classifies these instead of surfacing a generic failure.
var (
	// ErrUserRefused means the user rejected the operation on the device.
	// Terminal for the attempt: not retriable.
	ErrUserRefused = errors.New("user refused on device")

	// ErrDeviceDisconnected means the transport dropped. Retriable once the
	// user reconnects.
	ErrDeviceDisconnected = errors.New("device disconnected")

	// ErrAppMismatch means the wrong (or outdated) chain application is open
	// on the device; the device-transport layer owns the install/open flow.
	ErrAppMismatch = errors.New("device app mismatch")
)

// Engine errors.
var (
	// ErrNoBridge means no bridge is registered for the account's family.
	ErrNoBridge = errors.New("no bridge for currency family")

	// ErrBroadcastInFlight means a sign/broadcast is already running for
	// the account; a second one must not start.
	ErrBroadcastInFlight = errors.New("sign and broadcast already in flight for account")
)
