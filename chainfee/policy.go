package chainfee

import (
	"errors"
	"time"
)

const (
	// DefaultFeeRate is the rate assumed when neither a user override nor
	// a fresh miner quote is available, in satoshis per byte.
	DefaultFeeRate = 1.0

	// MinFeeRate and MaxFeeRate clamp every rate the estimator hands
	// out, whatever its source.
	MinFeeRate = 0.05
	MaxFeeRate = 10.0

	// P2PKHInputSize is the serialized size of a P2PKH input including
	// its unlocking script: outpoint (36), script length (1), signature
	// plus pubkey push (107), sequence (4).
	P2PKHInputSize = 148

	// P2PKHOutputSize is the serialized size of a P2PKH output: value
	// (8), script length (1), script (25).
	P2PKHOutputSize = 34

	// TxOverheadSize covers the version, the input and output counts and
	// the locktime of a small transaction.
	TxOverheadSize = 10

	// quoteTTL bounds how long a cached miner quote is honoured.
	quoteTTL = 5 * time.Minute
)

var (
	// ErrRateOutOfRange is returned when a user override falls outside
	// the accepted rate window.
	ErrRateOutOfRange = errors.New("fee rate outside accepted range")
)

// clampRate forces a rate into the accepted window.
func clampRate(rate float64) float64 {
	switch {
	case rate < MinFeeRate:
		return MinFeeRate
	case rate > MaxFeeRate:
		return MaxFeeRate
	default:
		return rate
	}
}
