package walletdb

import (
	"context"
	"database/sql"

	goerrors "github.com/go-errors/errors"
)

const txColumns = `id, account_id, txid, raw_tx, description, created_at,
	confirmed_at, block_height, status, amount, labels`

// UpsertTransaction inserts or refreshes a wallet transaction record. A nil
// amount never replaces a known amount, and a zero amount may be upgraded
// to a non-zero one by backfill but never the reverse.
func (db *DB) UpsertTransaction(ctx context.Context, rec *TxRecord) error {
	return db.Transact(ctx, func(tx *Tx) error {
		return tx.UpsertTransaction(rec)
	})
}

// UpsertTransaction is the in-transaction form of DB.UpsertTransaction.
func (t *Tx) UpsertTransaction(rec *TxRecord) error {
	labels, err := marshalStrings(rec.Labels)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = t.db.nowMillis()
	}

	status := rec.Status
	if status == "" {
		status = TxStatusPending
	}

	var amount interface{}
	if rec.Amount != nil {
		amount = *rec.Amount
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO transactions (account_id, txid, raw_tx,
			description, created_at, confirmed_at, block_height,
			status, amount, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, txid) DO UPDATE SET
			raw_tx = CASE WHEN excluded.raw_tx IS NOT NULL AND
					excluded.raw_tx != ''
				THEN excluded.raw_tx
				ELSE transactions.raw_tx END,
			description = CASE
				WHEN excluded.description IS NOT NULL AND
					excluded.description != ''
				THEN excluded.description
				ELSE transactions.description END,
			confirmed_at = COALESCE(excluded.confirmed_at,
				transactions.confirmed_at),
			block_height = COALESCE(excluded.block_height,
				transactions.block_height),
			status = excluded.status,
			amount = CASE
				WHEN excluded.amount IS NULL
				THEN transactions.amount
				WHEN transactions.amount IS NULL
				THEN excluded.amount
				WHEN transactions.amount = 0 AND
					excluded.amount != 0
				THEN excluded.amount
				ELSE transactions.amount END,
			labels = CASE WHEN excluded.labels != '[]'
				THEN excluded.labels
				ELSE transactions.labels END`,
		rec.AccountID, rec.Txid, nullString(rec.RawTx),
		nullString(rec.Description), createdAt,
		nullInt(rec.ConfirmedAt), nullInt(rec.BlockHeight),
		string(status), amount, labels)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// GetTransaction returns the record for the given txid, or nil when
// unknown.
func (db *DB) GetTransaction(ctx context.Context, accountID int64,
	txid string) (*TxRecord, error) {

	recs, err := queryTxRecords(ctx, db.conn, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND txid = ?`, accountID, txid)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// ListTransactions returns the account's transactions, newest first. An
// accountID of zero returns every row; that form exists for maintenance
// only.
func (db *DB) ListTransactions(ctx context.Context,
	accountID int64) ([]*TxRecord, error) {

	if accountID == 0 {
		return queryTxRecords(ctx, db.conn, `
			SELECT `+txColumns+` FROM transactions
			ORDER BY created_at DESC, id DESC`)
	}
	return queryTxRecords(ctx, db.conn, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC`, accountID)
}

// PendingTxids returns the set of txids the wallet itself broadcast that
// have not yet been confirmed. Reconciliation consults it before declaring
// a missing UTXO spent.
func (db *DB) PendingTxids(ctx context.Context,
	accountID int64) (map[string]struct{}, error) {

	rows, err := db.conn.QueryContext(ctx, `
		SELECT txid FROM transactions
		WHERE account_id = ? AND status = ?`,
		accountID, string(TxStatusPending))
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			return nil, goerrors.Wrap(err, 0)
		}
		out[txid] = struct{}{}
	}
	return out, rows.Err()
}

// TransactionsWithUnknownAmount returns records whose amount reconstruction
// has not succeeded yet.
func (db *DB) TransactionsWithUnknownAmount(ctx context.Context,
	accountID int64) ([]*TxRecord, error) {

	return queryTxRecords(ctx, db.conn, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND amount IS NULL
		ORDER BY id ASC`, accountID)
}

// BackfillAmount replaces a missing or zero amount with a reconstructed
// non-zero value. It never downgrades a known non-zero amount.
func (db *DB) BackfillAmount(ctx context.Context, accountID int64,
	txid string, amount int64) error {

	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			UPDATE transactions SET amount = ?
			WHERE account_id = ? AND txid = ? AND
				(amount IS NULL OR amount = 0)`,
			amount, accountID, txid)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}

// MarkTransactionConfirmed records the block inclusion of a transaction.
func (db *DB) MarkTransactionConfirmed(ctx context.Context,
	accountID int64, txid string, blockHeight int64) error {

	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			UPDATE transactions SET status = ?,
				confirmed_at = ?, block_height = ?
			WHERE account_id = ? AND txid = ?`,
			string(TxStatusConfirmed), tx.db.nowMillis(),
			blockHeight, accountID, txid)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}

func queryTxRecords(ctx context.Context, q querier, query string,
	args ...interface{}) ([]*TxRecord, error) {

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var out []*TxRecord
	for rows.Next() {
		var (
			rec         TxRecord
			rawTx       sql.NullString
			description sql.NullString
			confirmedAt sql.NullInt64
			blockHeight sql.NullInt64
			status      string
			amount      sql.NullInt64
			labels      string
		)
		err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Txid, &rawTx,
			&description, &rec.CreatedAt, &confirmedAt,
			&blockHeight, &status, &amount, &labels)
		if err != nil {
			return nil, goerrors.Wrap(err, 0)
		}

		rec.RawTx = rawTx.String
		rec.Description = description.String
		if confirmedAt.Valid {
			v := confirmedAt.Int64
			rec.ConfirmedAt = &v
		}
		if blockHeight.Valid {
			v := blockHeight.Int64
			rec.BlockHeight = &v
		}
		rec.Status = TxStatus(status)
		if amount.Valid {
			v := amount.Int64
			rec.Amount = &v
		}
		if err := unmarshalStrings(labels, &rec.Labels); err != nil {
			return nil, err
		}

		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
