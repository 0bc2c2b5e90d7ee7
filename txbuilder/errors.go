package txbuilder

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is a type matching the error interface which is
// returned when coin selection cannot cover the requested amount plus
// fees from the spendable set.
type ErrInsufficientFunds struct {
	Available int64
	Needed    int64
}

// Error returns a human readable string describing the error.
func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: need %d satoshis, have %d "+
		"spendable", e.Needed, e.Available)
}

// ErrCoinSelectionConflict is returned when an output chosen for a
// transaction was reserved by another broadcast between selection and
// signing. The build aborts with no state change.
var ErrCoinSelectionConflict = errors.New("selected output already " +
	"reserved by another transaction")

// ErrBroadcastRejected wraps a miner or explorer rejection of a signed
// transaction. The reserved inputs have been rolled back when this is
// returned.
type ErrBroadcastRejected struct {
	Err error
}

// Error returns a human readable string describing the error.
func (e *ErrBroadcastRejected) Error() string {
	return fmt.Sprintf("broadcast rejected: %v", e.Err)
}

// Unwrap returns the underlying rejection.
func (e *ErrBroadcastRejected) Unwrap() error {
	return e.Err
}

// ErrLockNotMature is returned when an unlock is attempted before the
// lock's height has been reached. It is raised before anything is signed.
type ErrLockNotMature struct {
	CurrentHeight int64
	UnlockBlock   int64
}

// Error returns a human readable string describing the error.
func (e *ErrLockNotMature) Error() string {
	return fmt.Sprintf("lock not mature: unlocks at height %d, chain "+
		"is at %d", e.UnlockBlock, e.CurrentHeight)
}

// ErrInvalidScript is returned when a stored locking script cannot be used
// to spend its output.
var ErrInvalidScript = errors.New("invalid locking script")
