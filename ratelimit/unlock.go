package ratelimit

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	// MaxAttempts is how many failed unlocks are tolerated before the
	// lockout engages.
	MaxAttempts = 5

	// baseLockout is the first lockout duration; it doubles with every
	// further failure.
	baseLockout = time.Minute

	// maxLockout caps the growth.
	maxLockout = 24 * time.Hour

	// stateKey is the trusted-storage key the counter lives under.
	stateKey = "unlock_rate_limit"
)

// Store is the trusted storage the counter persists in. It must live
// outside the UI's trust domain so a compromised renderer cannot reset it.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Status is the result of a limit check.
type Status struct {
	IsLimited   bool
	RemainingMs int64
}

// FailResult reports the state after a failed unlock was recorded.
type FailResult struct {
	IsLocked          bool
	LockoutMs         int64
	AttemptsRemaining int
}

// state is the persisted counter.
type state struct {
	Attempts    int   `json:"attempts"`
	LockedUntil int64 `json:"lockedUntil"`
}

// Limiter enforces a monotonically growing lockout on failed unlock
// attempts. RecordFailed and RecordSuccess are the sole mutators.
type Limiter struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewLimiter creates a limiter over the given trusted store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// CheckLimit reports whether unlocking is currently barred and for how much
// longer.
func (l *Limiter) CheckLimit() (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return Status{}, err
	}

	remaining := st.LockedUntil - l.now().UnixMilli()
	if remaining <= 0 {
		return Status{}, nil
	}

	return Status{IsLimited: true, RemainingMs: remaining}, nil
}

// RecordFailed counts a failed unlock. Beyond MaxAttempts every further
// failure doubles the lockout, up to the cap.
func (l *Limiter) RecordFailed() (FailResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return FailResult{}, err
	}

	st.Attempts++

	if st.Attempts < MaxAttempts {
		if err := l.save(st); err != nil {
			return FailResult{}, err
		}
		return FailResult{
			AttemptsRemaining: MaxAttempts - st.Attempts,
		}, nil
	}

	lockout := lockoutFor(st.Attempts)
	st.LockedUntil = l.now().Add(lockout).UnixMilli()
	if err := l.save(st); err != nil {
		return FailResult{}, err
	}

	log.Warnf("Unlock locked out for %v after %d failed attempts",
		lockout, st.Attempts)
	return FailResult{
		IsLocked:  true,
		LockoutMs: lockout.Milliseconds(),
	}, nil
}

// RecordSuccess clears the counter.
func (l *Limiter) RecordSuccess() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(stateKey)
}

// RemainingAttempts reports how many failures are left before the lockout
// engages.
func (l *Limiter) RemainingAttempts() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return 0, err
	}

	remaining := MaxAttempts - st.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// lockoutFor grows the lockout monotonically: the first lockout is the
// base, each further failure doubles it.
func lockoutFor(attempts int) time.Duration {
	lockout := baseLockout
	for i := MaxAttempts; i < attempts; i++ {
		lockout *= 2
		if lockout >= maxLockout {
			return maxLockout
		}
	}
	return lockout
}

func (l *Limiter) load() (*state, error) {
	value, ok, err := l.store.Get(stateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &state{}, nil
	}

	var st state
	if err := json.Unmarshal([]byte(value), &st); err != nil {
		// A corrupt counter fails closed: treat it as maxed out.
		log.Errorf("Corrupt rate-limit state, failing closed: %v",
			err)
		return &state{Attempts: MaxAttempts}, nil
	}
	return &st, nil
}

func (l *Limiter) save(st *state) error {
	encoded, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return l.store.Set(stateKey, string(encoded))
}
