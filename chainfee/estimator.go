package chainfee

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// QuoteFetcher retrieves the current standard mining rate from a miner
// merchant API, in satoshis per byte.
type QuoteFetcher interface {
	FeeQuote(ctx context.Context) (float64, error)
}

// OverrideStore persists the user's explicit fee rate choice.
type OverrideStore interface {
	// FeeRateOverride returns the stored override and whether one is
	// set.
	FeeRateOverride() (float64, bool, error)

	// SetFeeRateOverride stores the override.
	SetFeeRateOverride(rate float64) error

	// ClearFeeRateOverride removes the override.
	ClearFeeRateOverride() error
}

// Estimator resolves the effective fee rate and prices transactions with
// it. Rate resolution precedence: user override, cached network quote no
// older than five minutes, default.
type Estimator struct {
	mu sync.Mutex

	source QuoteFetcher
	store  OverrideStore

	cachedRate float64
	cachedAt   time.Time

	now func() time.Time
}

// NewEstimator creates an estimator backed by the given quote source and
// override store. Either may be nil, in which case that resolution step is
// skipped.
func NewEstimator(source QuoteFetcher, store OverrideStore) *Estimator {
	return &Estimator{
		source: source,
		store:  store,
		now:    time.Now,
	}
}

// Rate returns the effective fee rate in satoshis per byte. It never fails;
// missing sources degrade to the default rate.
func (e *Estimator) Rate(ctx context.Context) float64 {
	if e.store != nil {
		rate, ok, err := e.store.FeeRateOverride()
		if err != nil {
			log.Warnf("Unable to read fee override: %v", err)
		} else if ok {
			return clampRate(rate)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cachedAt.IsZero() && e.now().Sub(e.cachedAt) <= quoteTTL {
		return e.cachedRate
	}

	if e.source != nil {
		rate, err := e.source.FeeQuote(ctx)
		if err == nil {
			e.cachedRate = clampRate(rate)
			e.cachedAt = e.now()
			log.Debugf("Cached miner fee quote: %.4f sat/byte",
				e.cachedRate)
			return e.cachedRate
		}
		log.Warnf("Fee quote fetch failed, using default: %v", err)
	}

	return clampRate(DefaultFeeRate)
}

// SetOverride persists an explicit user rate. Rates outside the accepted
// window are rejected.
func (e *Estimator) SetOverride(rate float64) error {
	if rate < MinFeeRate || rate > MaxFeeRate {
		return ErrRateOutOfRange
	}
	if e.store == nil {
		return nil
	}
	return e.store.SetFeeRateOverride(rate)
}

// ClearOverride removes the user rate so quote resolution applies again.
func (e *Estimator) ClearOverride() error {
	if e.store == nil {
		return nil
	}
	return e.store.ClearFeeRateOverride()
}

// CalculateTxFee prices a transaction of nIn P2PKH inputs and nOut P2PKH
// outputs, with extra additional payload bytes, at the given rate.
func CalculateTxFee(nIn, nOut, extra int, rate float64) int64 {
	size := TxOverheadSize + nIn*P2PKHInputSize + nOut*P2PKHOutputSize +
		extra
	return feeForSize(size, rate)
}

// CalculateLockFee prices a lock transaction: nIn P2PKH inputs, the timelock
// output with the given script size, and a P2PKH change output.
func CalculateLockFee(nIn, lockScriptSize int, rate float64) int64 {
	// The lock output itself: value (8) + script length varint (up to 3
	// for scripts beyond 252 bytes) + script.
	lockOutput := 8 + 3 + lockScriptSize
	size := TxOverheadSize + nIn*P2PKHInputSize + lockOutput +
		P2PKHOutputSize
	return feeForSize(size, rate)
}

// CalculateMaxSend returns the maximum amount spendable from the given UTXO
// values in one transaction with a single recipient output. Values are
// considered in ascending order and a UTXO is excluded when its marginal
// input fee equals or exceeds its value.
func CalculateMaxSend(values []int64, rate float64) int64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	marginalFee := feeForSize(P2PKHInputSize, rate)

	var total int64
	var count int
	for _, v := range sorted {
		if v <= marginalFee {
			continue
		}
		total += v
		count++
	}

	if count == 0 {
		return 0
	}

	max := total - CalculateTxFee(count, 1, 0, rate)
	if max < 0 {
		return 0
	}
	return max
}

func feeForSize(size int, rate float64) int64 {
	return int64(math.Ceil(float64(size) * rate))
}
