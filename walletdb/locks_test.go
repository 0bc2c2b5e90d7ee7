package walletdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUpsertLockIdempotent asserts re-observing a lock keeps a single row.
func TestUpsertLockIdempotent(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	lock := &Lock{AccountID: 1, UtxoID: 42, UnlockBlock: 900000}
	require.NoError(t, db.UpsertLock(ctx, lock))
	require.NoError(t, db.UpsertLock(ctx, lock))

	locks, err := db.ListLocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.Equal(t, int64(900000), locks[0].UnlockBlock)
	require.Nil(t, locks[0].UnlockedAt)
}

// TestMarkLockUnlocked asserts an unlock is recorded once and preserved.
func TestMarkLockUnlocked(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertLock(ctx, &Lock{
		AccountID: 1, UtxoID: 42, UnlockBlock: 900000,
	}))

	active, err := db.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, db.MarkLockUnlocked(ctx, 42, "spender"))

	active, err = db.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, active)

	lock, err := db.GetLockByUtxoID(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, lock.UnlockedAt)
	require.Equal(t, "spender", lock.UnlockTxid)
	firstUnlock := *lock.UnlockedAt

	// A second unlock attempt must not overwrite the record.
	require.NoError(t, db.MarkLockUnlocked(ctx, 42, "impostor"))
	lock, err = db.GetLockByUtxoID(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "spender", lock.UnlockTxid)
	require.Equal(t, firstUnlock, *lock.UnlockedAt)

	// Re-observing the lock during sync must not reactivate it.
	require.NoError(t, db.UpsertLock(ctx, &Lock{
		AccountID: 1, UtxoID: 42, UnlockBlock: 900000,
	}))
	active, err = db.ActiveLocks(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, active)
}

// TestDerivedAddresses exercises the unique-triple upsert and sync
// touching.
func TestDerivedAddresses(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := &DerivedAddress{
		Address:         "1Derived",
		AccountID:       1,
		SenderPublicKey: "02aa",
		InvoiceNumber:   "7",
	}
	require.NoError(t, db.UpsertDerivedAddress(ctx, d))
	require.NoError(t, db.UpsertDerivedAddress(ctx, d))

	list, err := db.ListDerivedAddresses(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Nil(t, list[0].LastSyncedAt)

	require.NoError(t, db.TouchDerivedAddresses(ctx, 1,
		[]string{"1Derived"}))

	list, err = db.ListDerivedAddresses(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, list[0].LastSyncedAt)
}

// TestSettings exercises the key/value surface, the fee override store and
// the known-senders registry.
func TestSettings(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetSetting(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	// Fee override store contract.
	_, set, err := db.FeeRateOverride()
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, db.SetFeeRateOverride(0.5))
	rate, set, err := db.FeeRateOverride()
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, 0.5, rate)

	require.NoError(t, db.ClearFeeRateOverride())
	_, set, err = db.FeeRateOverride()
	require.NoError(t, err)
	require.False(t, set)

	// Known senders accumulate without duplicates.
	require.NoError(t, db.AddKnownSender(ctx, "02aa"))
	require.NoError(t, db.AddKnownSender(ctx, "02bb"))
	require.NoError(t, db.AddKnownSender(ctx, "02aa"))

	senders, err := db.KnownSenders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"02aa", "02bb"}, senders)
}

// TestSyncState exercises the per-address height log.
func TestSyncState(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	_, known, err := db.LastSyncedHeight(ctx, "1Addr")
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, db.SetLastSyncedHeight(ctx, "1Addr", 850000))
	height, known, err := db.LastSyncedHeight(ctx, "1Addr")
	require.NoError(t, err)
	require.True(t, known)
	require.Equal(t, int64(850000), height)

	require.NoError(t, db.SetLastSyncedHeight(ctx, "1Addr", 850001))
	height, _, err = db.LastSyncedHeight(ctx, "1Addr")
	require.NoError(t, err)
	require.Equal(t, int64(850001), height)
}
