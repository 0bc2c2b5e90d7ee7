package walletdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

// TestUpsertTransaction asserts insert-then-refresh keeps a single row and
// merges fields.
func TestUpsertTransaction(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	rec := &TxRecord{
		AccountID: 1,
		Txid:      "aa",
		Status:    TxStatusPending,
		Labels:    []string{"lock"},
	}
	require.NoError(t, db.UpsertTransaction(ctx, rec))
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1,
		Txid:      "aa",
		Status:    TxStatusConfirmed,
		RawTx:     "0100",
	}))

	recs, err := db.ListTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, TxStatusConfirmed, recs[0].Status)
	require.Equal(t, "0100", recs[0].RawTx)
	require.Equal(t, []string{"lock"}, recs[0].Labels)
	require.Nil(t, recs[0].Amount)
}

// TestBackfillAmountRules asserts nil and zero amounts upgrade to non-zero
// values but never the reverse.
func TestBackfillAmountRules(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "aa", Status: TxStatusPending,
	}))

	// NULL -> value.
	require.NoError(t, db.BackfillAmount(ctx, 1, "aa", -5000))
	rec, err := db.GetTransaction(ctx, 1, "aa")
	require.NoError(t, err)
	require.NotNil(t, rec.Amount)
	require.Equal(t, int64(-5000), *rec.Amount)

	// Non-zero values never downgrade.
	require.NoError(t, db.BackfillAmount(ctx, 1, "aa", 123))
	rec, err = db.GetTransaction(ctx, 1, "aa")
	require.NoError(t, err)
	require.Equal(t, int64(-5000), *rec.Amount)

	// Zero upgrades to non-zero, including via upsert.
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "bb", Status: TxStatusPending,
		Amount: int64Ptr(0),
	}))
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "bb", Status: TxStatusPending,
		Amount: int64Ptr(777),
	}))
	rec, err = db.GetTransaction(ctx, 1, "bb")
	require.NoError(t, err)
	require.Equal(t, int64(777), *rec.Amount)

	// A nil amount in a later upsert keeps the stored value.
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "bb", Status: TxStatusPending,
	}))
	rec, err = db.GetTransaction(ctx, 1, "bb")
	require.NoError(t, err)
	require.Equal(t, int64(777), *rec.Amount)
}

// TestPendingTxids asserts only the wallet's own unconfirmed broadcasts are
// reported.
func TestPendingTxids(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "pend", Status: TxStatusPending,
	}))
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "conf", Status: TxStatusConfirmed,
	}))
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 2, Txid: "other", Status: TxStatusPending,
	}))

	pending, err := db.PendingTxids(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Contains(t, pending, "pend")
}

// TestTransactionsWithUnknownAmount asserts the backfill work list.
func TestTransactionsWithUnknownAmount(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "aa", Status: TxStatusPending,
	}))
	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "bb", Status: TxStatusPending,
		Amount: int64Ptr(100),
	}))

	missing, err := db.TransactionsWithUnknownAmount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "aa", missing[0].Txid)
}

// TestMarkTransactionConfirmed asserts confirmation metadata is recorded.
func TestMarkTransactionConfirmed(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertTransaction(ctx, &TxRecord{
		AccountID: 1, Txid: "aa", Status: TxStatusPending,
	}))
	require.NoError(t, db.MarkTransactionConfirmed(ctx, 1, "aa", 850000))

	rec, err := db.GetTransaction(ctx, 1, "aa")
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, rec.Status)
	require.NotNil(t, rec.ConfirmedAt)
	require.NotNil(t, rec.BlockHeight)
	require.Equal(t, int64(850000), *rec.BlockHeight)
}
