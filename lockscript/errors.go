package lockscript

import "errors"

var (
	// ErrInvalidPubKeyHash is returned when a pubkey hash is not exactly
	// 20 bytes.
	ErrInvalidPubKeyHash = errors.New("pubkey hash must be 20 bytes")

	// ErrInvalidUnlockBlock is returned when an unlock height is zero or
	// negative.
	ErrInvalidUnlockBlock = errors.New("unlock block must be positive")

	// ErrDataTooLarge is returned when an OP_RETURN payload exceeds the
	// pushdata encoding range.
	ErrDataTooLarge = errors.New("push data too large")
)
