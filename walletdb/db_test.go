package walletdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestDB opens a fresh store in a temp directory and returns it along
// with its path so reopen behaviour can be exercised.
func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "simplysats.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, path
}

func testUTXO(accountID int64, txid string, vout uint32,
	sats int64) *UTXO {

	return &UTXO{
		AccountID:     accountID,
		Txid:          txid,
		Vout:          vout,
		Satoshis:      sats,
		LockingScript: "76a914",
		Address:       "1TestAddress",
		Basket:        BasketDefault,
		Spendable:     true,
	}
}

// TestOpenIdempotent asserts a database can be opened twice and the lazy
// migrations hold.
func TestOpenIdempotent(t *testing.T) {
	db, path := newTestDB(t)

	ctx := context.Background()
	require.NoError(t, db.AddUTXO(ctx, testUTXO(1, "aa", 0, 1000)))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	utxos, err := reopened.ListUTXOs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, int64(1000), utxos[0].Satoshis)
}

// TestTransactRollsBack asserts an error from the body reverts every write
// of the top-level transaction.
func TestTransactRollsBack(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := db.Transact(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AddUTXO(testUTXO(1, "aa", 0, 1000)))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	utxos, err := db.ListUTXOs(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, utxos)
}

// TestNestedTransactSavepoint asserts a nested failure rolls back only to
// its savepoint while the outer scope commits.
func TestNestedTransactSavepoint(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	errInner := errors.New("inner failure")
	err := db.Transact(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AddUTXO(testUTXO(1, "aa", 0, 1000)))

		nestedErr := tx.Transact(func(tx *Tx) error {
			require.NoError(t, tx.AddUTXO(
				testUTXO(1, "bb", 0, 2000)))
			return errInner
		})
		require.ErrorIs(t, nestedErr, errInner)

		// A later nested scope still works after the rollback.
		return tx.Transact(func(tx *Tx) error {
			return tx.AddUTXO(testUTXO(1, "cc", 0, 3000))
		})
	})
	require.NoError(t, err)

	utxos, err := db.ListUTXOs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Equal(t, "aa", utxos[0].Txid)
	require.Equal(t, "cc", utxos[1].Txid)
}

// TestExecuteTransactionGuard asserts a transaction body cannot run without
// the write queue being held.
func TestExecuteTransactionGuard(t *testing.T) {
	db, _ := newTestDB(t)

	err := db.executeTransaction(context.Background(),
		func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, ErrOutsideQueue)
}

// TestTransactSerialises asserts concurrent top-level transactions queue
// rather than interleave.
func TestTransactSerialises(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	inside := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- db.Transact(ctx, func(tx *Tx) error {
			close(inside)
			<-proceed
			return tx.AddUTXO(testUTXO(1, "aa", 0, 1))
		})
	}()

	<-inside

	second := make(chan error, 1)
	go func() {
		second <- db.Transact(ctx, func(tx *Tx) error {
			return tx.AddUTXO(testUTXO(1, "bb", 0, 2))
		})
	}()

	// The second writer must be parked while the first holds the queue.
	select {
	case err := <-second:
		t.Fatalf("second transaction finished early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	require.NoError(t, <-done)
	require.NoError(t, <-second)

	utxos, err := db.ListUTXOs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
}

// TestClosedStore asserts operations fail cleanly after Close.
func TestClosedStore(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.Close())

	err := db.Transact(context.Background(),
		func(tx *Tx) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}
