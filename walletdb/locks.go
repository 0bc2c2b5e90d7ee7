package walletdb

import (
	"context"
	"database/sql"

	goerrors "github.com/go-errors/errors"
)

const lockColumns = `id, account_id, utxo_id, unlock_block, lock_block,
	ordinal_origin, created_at, unlocked_at, unlock_txid`

// UpsertLock records a timelock for the given UTXO row. The operation is
// idempotent on the UTXO: re-observing the same lock refreshes the heights
// without resetting an unlock already recorded.
func (db *DB) UpsertLock(ctx context.Context, l *Lock) error {
	return db.Transact(ctx, func(tx *Tx) error {
		return tx.UpsertLock(l)
	})
}

// UpsertLock is the in-transaction form of DB.UpsertLock.
func (t *Tx) UpsertLock(l *Lock) error {
	createdAt := l.CreatedAt
	if createdAt == 0 {
		createdAt = t.db.nowMillis()
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO locks (account_id, utxo_id, unlock_block,
			lock_block, ordinal_origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(utxo_id) DO UPDATE SET
			unlock_block = excluded.unlock_block,
			lock_block = COALESCE(excluded.lock_block,
				locks.lock_block),
			ordinal_origin = CASE
				WHEN excluded.ordinal_origin IS NOT NULL AND
					excluded.ordinal_origin != ''
				THEN excluded.ordinal_origin
				ELSE locks.ordinal_origin END`,
		l.AccountID, l.UtxoID, l.UnlockBlock, nullInt(l.LockBlock),
		nullString(l.OrdinalOrigin), createdAt)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// ActiveLocks returns the locks of the account that have not been unlocked
// yet.
func (db *DB) ActiveLocks(ctx context.Context,
	accountID int64) ([]*Lock, error) {

	return queryLocks(ctx, db.conn, `
		SELECT `+lockColumns+` FROM locks
		WHERE account_id = ? AND unlocked_at IS NULL
		ORDER BY unlock_block ASC`, accountID)
}

// ListLocks returns every lock of the account.
func (db *DB) ListLocks(ctx context.Context,
	accountID int64) ([]*Lock, error) {

	return queryLocks(ctx, db.conn, `
		SELECT `+lockColumns+` FROM locks
		WHERE account_id = ? ORDER BY id ASC`, accountID)
}

// GetLockByUtxoID returns the lock referencing the given UTXO row, or nil.
func (db *DB) GetLockByUtxoID(ctx context.Context,
	utxoID int64) (*Lock, error) {

	locks, err := queryLocks(ctx, db.conn, `
		SELECT `+lockColumns+` FROM locks
		WHERE utxo_id = ?`, utxoID)
	if err != nil || len(locks) == 0 {
		return nil, err
	}
	return locks[0], nil
}

// MarkLockUnlocked records the spending transaction of a lock output. Locks
// already unlocked keep their original unlock record.
func (db *DB) MarkLockUnlocked(ctx context.Context, utxoID int64,
	unlockTxid string) error {

	return db.Transact(ctx, func(tx *Tx) error {
		return tx.MarkLockUnlocked(utxoID, unlockTxid)
	})
}

// MarkLockUnlocked is the in-transaction form of DB.MarkLockUnlocked.
func (t *Tx) MarkLockUnlocked(utxoID int64, unlockTxid string) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE locks SET unlocked_at = ?, unlock_txid = ?
		WHERE utxo_id = ? AND unlocked_at IS NULL`,
		t.db.nowMillis(), unlockTxid, utxoID)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

func queryLocks(ctx context.Context, q querier, query string,
	args ...interface{}) ([]*Lock, error) {

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var out []*Lock
	for rows.Next() {
		var (
			l          Lock
			lockBlock  sql.NullInt64
			origin     sql.NullString
			unlockedAt sql.NullInt64
			unlockTxid sql.NullString
		)
		err := rows.Scan(&l.ID, &l.AccountID, &l.UtxoID,
			&l.UnlockBlock, &lockBlock, &origin, &l.CreatedAt,
			&unlockedAt, &unlockTxid)
		if err != nil {
			return nil, goerrors.Wrap(err, 0)
		}

		if lockBlock.Valid {
			v := lockBlock.Int64
			l.LockBlock = &v
		}
		l.OrdinalOrigin = origin.String
		if unlockedAt.Valid {
			v := unlockedAt.Int64
			l.UnlockedAt = &v
		}
		l.UnlockTxid = unlockTxid.String
		out = append(out, &l)
	}
	return out, rows.Err()
}
