package walletdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
)

// ErrPendingConflict is returned by MarkPending when one of the requested
// rows was not in a selectable state. The caller must treat it as a
// coin-selection conflict and abort the broadcast with no state change.
type ErrPendingConflict struct {
	Outpoint Outpoint
}

// Error returns a human readable string describing the error.
func (e *ErrPendingConflict) Error() string {
	return fmt.Sprintf("output %s:%d is not selectable for spending",
		e.Outpoint.Txid, e.Outpoint.Vout)
}

// spendableWhere is the selection filter every coin-selection call site must
// use.
const spendableWhere = `spendable = 1 AND spent_at IS NULL AND
	(spending_status IS NULL OR spending_status = ?)`

const utxoColumns = `id, account_id, txid, vout, satoshis, locking_script,
	address, basket, spendable, created_at, spent_at, spent_txid,
	spending_status, pending_spending_txid, pending_since, tags`

// AddUTXO inserts the UTXO, or refreshes the existing row for the same
// outpoint. Basket upgrades to derived are monotonic; a re-observed output
// has its spent markers cleared and its spendable flag restored. Pending
// markers owned by an in-flight broadcast are never touched.
func (db *DB) AddUTXO(ctx context.Context, u *UTXO) error {
	return db.Transact(ctx, func(tx *Tx) error {
		return tx.AddUTXO(u)
	})
}

// AddUTXO is the in-transaction form of DB.AddUTXO.
func (t *Tx) AddUTXO(u *UTXO) error {
	tags, err := marshalStrings(u.Tags)
	if err != nil {
		return err
	}

	createdAt := u.CreatedAt
	if createdAt == 0 {
		createdAt = t.db.nowMillis()
	}

	spendable := 0
	if u.Spendable {
		spendable = 1
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO utxos (account_id, txid, vout, satoshis,
			locking_script, address, basket, spendable,
			created_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, txid, vout) DO UPDATE SET
			satoshis = excluded.satoshis,
			locking_script = CASE
				WHEN excluded.locking_script != ''
				THEN excluded.locking_script
				ELSE utxos.locking_script END,
			address = CASE WHEN excluded.address != ''
				THEN excluded.address
				ELSE utxos.address END,
			basket = CASE
				WHEN utxos.basket = 'derived' THEN 'derived'
				WHEN excluded.basket = 'derived'
				THEN 'derived'
				ELSE utxos.basket END,
			spendable = excluded.spendable,
			spent_at = NULL,
			spent_txid = NULL,
			spending_status = CASE
				WHEN utxos.spending_status = 'spent'
				THEN 'unspent'
				ELSE utxos.spending_status END,
			tags = CASE WHEN excluded.tags != '[]'
				THEN excluded.tags
				ELSE utxos.tags END`,
		u.AccountID, u.Txid, u.Vout, u.Satoshis, u.LockingScript,
		u.Address, string(u.Basket), spendable, createdAt, tags,
	)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// GetSpendableUTXOs returns the UTXOs selectable for new transactions:
// spendable, unspent and not reserved by a pending broadcast.
func (db *DB) GetSpendableUTXOs(ctx context.Context,
	accountID int64) ([]*UTXO, error) {

	return queryUTXOs(ctx, db.conn, `
		SELECT `+utxoColumns+` FROM utxos
		WHERE account_id = ? AND `+spendableWhere+`
		ORDER BY satoshis ASC`,
		accountID, string(StatusUnspent))
}

// GetUTXOsByAddress returns every UTXO of the account held by the given
// address, whatever its state.
func (db *DB) GetUTXOsByAddress(ctx context.Context, accountID int64,
	address string) ([]*UTXO, error) {

	return queryUTXOs(ctx, db.conn, `
		SELECT `+utxoColumns+` FROM utxos
		WHERE account_id = ? AND address = ?
		ORDER BY id ASC`, accountID, address)
}

// GetUTXO returns the UTXO with the given outpoint, or nil when unknown.
func (db *DB) GetUTXO(ctx context.Context, accountID int64,
	op Outpoint) (*UTXO, error) {

	utxos, err := queryUTXOs(ctx, db.conn, `
		SELECT `+utxoColumns+` FROM utxos
		WHERE account_id = ? AND txid = ? AND vout = ?`,
		accountID, op.Txid, op.Vout)
	if err != nil || len(utxos) == 0 {
		return nil, err
	}
	return utxos[0], nil
}

// ListUTXOs returns the UTXOs of an account. An accountID of zero returns
// every row; that form exists for maintenance only.
func (db *DB) ListUTXOs(ctx context.Context,
	accountID int64) ([]*UTXO, error) {

	if accountID == 0 {
		return queryUTXOs(ctx, db.conn, `
			SELECT `+utxoColumns+` FROM utxos ORDER BY id ASC`)
	}
	return queryUTXOs(ctx, db.conn, `
		SELECT `+utxoColumns+` FROM utxos
		WHERE account_id = ? ORDER BY id ASC`, accountID)
}

// Balance sums the selectable satoshis of the account.
func (db *DB) Balance(ctx context.Context, accountID int64) (int64, error) {
	var balance sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `
		SELECT SUM(satoshis) FROM utxos
		WHERE account_id = ? AND `+spendableWhere,
		accountID, string(StatusUnspent)).Scan(&balance)
	if err != nil {
		return 0, goerrors.Wrap(err, 0)
	}
	return balance.Int64, nil
}

// BasketBalances aggregates unspent satoshis per basket, including rows not
// currently selectable.
func (db *DB) BasketBalances(ctx context.Context,
	accountID int64) (map[Basket]int64, error) {

	rows, err := db.conn.QueryContext(ctx, `
		SELECT basket, SUM(satoshis) FROM utxos
		WHERE account_id = ? AND spent_at IS NULL
		GROUP BY basket`, accountID)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	out := make(map[Basket]int64)
	for rows.Next() {
		var basket string
		var sum int64
		if err := rows.Scan(&basket, &sum); err != nil {
			return nil, goerrors.Wrap(err, 0)
		}
		out[Basket(basket)] = sum
	}
	return out, rows.Err()
}

// MarkUTXOSpent records that the output is gone from the chain's UTXO set.
// The SpentTxidUnknown sentinel is used when the spend cannot be
// attributed.
func (db *DB) MarkUTXOSpent(ctx context.Context, accountID int64,
	op Outpoint, spentTxid string) error {

	return db.Transact(ctx, func(tx *Tx) error {
		return tx.MarkUTXOSpent(accountID, op, spentTxid)
	})
}

// MarkUTXOSpent is the in-transaction form of DB.MarkUTXOSpent.
func (t *Tx) MarkUTXOSpent(accountID int64, op Outpoint,
	spentTxid string) error {

	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE utxos SET spent_at = ?, spent_txid = ?,
			spending_status = ?,
			pending_spending_txid = NULL, pending_since = NULL
		WHERE account_id = ? AND txid = ? AND vout = ?`,
		t.db.nowMillis(), spentTxid, string(StatusSpent),
		accountID, op.Txid, op.Vout)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// MarkPending reserves the outpoints for the broadcast of pendingTxid using
// a compare-and-set from the unspent state. If any row is already pending
// or spent the whole reservation rolls back and an ErrPendingConflict for
// that row is returned.
func (db *DB) MarkPending(ctx context.Context, accountID int64,
	outpoints []Outpoint, pendingTxid string) error {

	now := db.nowMillis()
	return db.Transact(ctx, func(tx *Tx) error {
		for _, op := range outpoints {
			res, err := tx.tx.ExecContext(tx.ctx, `
				UPDATE utxos SET spending_status = ?,
					pending_spending_txid = ?,
					pending_since = ?
				WHERE account_id = ? AND txid = ? AND
					vout = ? AND spent_at IS NULL AND
					(spending_status IS NULL OR
					 spending_status = ?)`,
				string(StatusPending), pendingTxid, now,
				accountID, op.Txid, op.Vout,
				string(StatusUnspent))
			if err != nil {
				return goerrors.Wrap(err, 0)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return goerrors.Wrap(err, 0)
			}
			if n != 1 {
				return &ErrPendingConflict{Outpoint: op}
			}
		}
		return nil
	})
}

// ConfirmSpent finalises a successful broadcast, transitioning the reserved
// rows from pending to spent.
func (db *DB) ConfirmSpent(ctx context.Context, accountID int64,
	outpoints []Outpoint, spendingTxid string) error {

	now := db.nowMillis()
	return db.Transact(ctx, func(tx *Tx) error {
		for _, op := range outpoints {
			_, err := tx.tx.ExecContext(tx.ctx, `
				UPDATE utxos SET spending_status = ?,
					spent_at = ?, spent_txid = ?,
					pending_spending_txid = NULL,
					pending_since = NULL
				WHERE account_id = ? AND txid = ? AND
					vout = ? AND spending_status = ?`,
				string(StatusSpent), now, spendingTxid,
				accountID, op.Txid, op.Vout,
				string(StatusPending))
			if err != nil {
				return goerrors.Wrap(err, 0)
			}
		}
		return nil
	})
}

// RollbackPending reverts a failed broadcast, releasing the reserved rows
// back to the unspent state. Only rows still pending are touched.
func (db *DB) RollbackPending(ctx context.Context, accountID int64,
	outpoints []Outpoint) error {

	return db.Transact(ctx, func(tx *Tx) error {
		for _, op := range outpoints {
			_, err := tx.tx.ExecContext(tx.ctx, `
				UPDATE utxos SET spending_status = ?,
					pending_spending_txid = NULL,
					pending_since = NULL
				WHERE account_id = ? AND txid = ? AND
					vout = ? AND spending_status = ?`,
				string(StatusUnspent),
				accountID, op.Txid, op.Vout,
				string(StatusPending))
			if err != nil {
				return goerrors.Wrap(err, 0)
			}
		}
		return nil
	})
}

// RollbackStuckPending releases rows whose reservation is older than the
// given age. It runs at the start of every sync, bounding the window a
// crashed broadcast can leave funds unselectable.
func (db *DB) RollbackStuckPending(ctx context.Context, accountID int64,
	olderThan time.Duration) (int64, error) {

	cutoff := db.nowMillis() - olderThan.Milliseconds()

	var released int64
	err := db.Transact(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(tx.ctx, `
			UPDATE utxos SET spending_status = ?,
				pending_spending_txid = NULL,
				pending_since = NULL
			WHERE account_id = ? AND spending_status = ? AND
				pending_since < ?`,
			string(StatusUnspent), accountID,
			string(StatusPending), cutoff)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		released, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if released > 0 {
		log.Warnf("Released %d stuck pending UTXO(s) for account %d",
			released, accountID)
	}
	return released, nil
}

func queryUTXOs(ctx context.Context, q querier, query string,
	args ...interface{}) ([]*UTXO, error) {

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var out []*UTXO
	for rows.Next() {
		u, err := scanUTXO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUTXO(rows *sql.Rows) (*UTXO, error) {
	var (
		u           UTXO
		basket      string
		spendable   int
		spentAt     sql.NullInt64
		spentTxid   sql.NullString
		status      sql.NullString
		pendingTxid sql.NullString
		pendingTs   sql.NullInt64
		tags        string
	)

	err := rows.Scan(&u.ID, &u.AccountID, &u.Txid, &u.Vout, &u.Satoshis,
		&u.LockingScript, &u.Address, &basket, &spendable,
		&u.CreatedAt, &spentAt, &spentTxid, &status, &pendingTxid,
		&pendingTs, &tags)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	u.Basket = Basket(basket)
	u.Spendable = spendable != 0
	if spentAt.Valid {
		v := spentAt.Int64
		u.SpentAt = &v
	}
	u.SpentTxid = spentTxid.String
	u.SpendingStatus = SpendingStatus(status.String)
	u.PendingSpendingTxid = pendingTxid.String
	if pendingTs.Valid {
		v := pendingTs.Int64
		u.PendingSince = &v
	}
	if err := unmarshalStrings(tags, &u.Tags); err != nil {
		return nil, err
	}

	return &u, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", goerrors.Wrap(err, 0)
	}
	return string(b), nil
}

func unmarshalStrings(encoded string, into *[]string) error {
	if encoded == "" {
		encoded = "[]"
	}
	if err := json.Unmarshal([]byte(encoded), into); err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}
