package message

import "errors"

// Engine error taxonomy. Gateways map transport failures onto these so
// the engine can tell recoverable conditions from contract violations.
var (
	// ErrInvariantViolation marks a message the local user is not party
	// to. Fatal for the aggregation batch that contains it.
	ErrInvariantViolation = errors.New("message does not involve local user")

	// ErrInvalidState marks a call made without a local user identity.
	ErrInvalidState = errors.New("local user identity not set")

	// ErrTransient marks a recoverable gateway failure (network,
	// timeout, 5xx). Retried on the next poll tick.
	ErrTransient = errors.New("transient gateway error")

	// ErrStaleWrite marks a write whose target no longer exists in the
	// fresh snapshot. Resolved by dropping the moot local intent.
	ErrStaleWrite = errors.New("target no longer exists")

	// Send validation errors.
	ErrInvalidRecipient = errors.New("recipient required")
	ErrEmptyContent     = errors.New("message content required")
	ErrContentTooLarge  = errors.New("message content too large")
)
