package walletdb

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/go-errors/errors"
)

// ErrAccountExists is returned when creating an account whose derivation
// index is already present.
var ErrAccountExists = errors.New("account already exists")

// DefaultAccountID is the id of the account created on first run.
const DefaultAccountID = 1

const accountColumns = `id, name, account_index, created_at, active,
	encrypted_keys`

// CreateAccount inserts a new account and makes it the active one.
func (db *DB) CreateAccount(ctx context.Context, name string,
	accountIndex uint32, encryptedKeys []byte) (*Account, error) {

	var created *Account
	err := db.Transact(ctx, func(tx *Tx) error {
		var exists int
		err := tx.tx.QueryRowContext(tx.ctx, `
			SELECT COUNT(*) FROM accounts
			WHERE account_index = ?`, accountIndex).Scan(&exists)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		if exists > 0 {
			return ErrAccountExists
		}

		now := tx.db.nowMillis()
		res, err := tx.tx.ExecContext(tx.ctx, `
			INSERT INTO accounts (name, account_index,
				created_at, active, encrypted_keys)
			VALUES (?, ?, ?, 0, ?)`,
			name, accountIndex, now, encryptedKeys)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return goerrors.Wrap(err, 0)
		}

		if err := tx.setActiveAccount(id); err != nil {
			return err
		}

		created = &Account{
			ID:            id,
			Name:          name,
			Index:         accountIndex,
			CreatedAt:     now,
			Active:        true,
			EncryptedKeys: encryptedKeys,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created account %q (id %d, index %d)", name, created.ID,
		created.Index)
	return created, nil
}

// SetActiveAccount activates the given account and deactivates every other
// one, preserving the single-active invariant.
func (db *DB) SetActiveAccount(ctx context.Context, accountID int64) error {
	return db.Transact(ctx, func(tx *Tx) error {
		return tx.setActiveAccount(accountID)
	})
}

func (t *Tx) setActiveAccount(accountID int64) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE accounts SET active = 0`); err != nil {

		return goerrors.Wrap(err, 0)
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE accounts SET active = 1 WHERE id = ?`, accountID)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	if n != 1 {
		return goerrors.Errorf("unknown account id %d", accountID)
	}
	return nil
}

// GetActiveAccount returns the single active account, or nil when none is.
func (db *DB) GetActiveAccount(ctx context.Context) (*Account, error) {
	accts, err := queryAccounts(ctx, db.conn, `
		SELECT `+accountColumns+` FROM accounts
		WHERE active = 1 LIMIT 1`)
	if err != nil || len(accts) == 0 {
		return nil, err
	}
	return accts[0], nil
}

// GetAccount returns the account with the given id, or nil.
func (db *DB) GetAccount(ctx context.Context,
	accountID int64) (*Account, error) {

	accts, err := queryAccounts(ctx, db.conn, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = ?`, accountID)
	if err != nil || len(accts) == 0 {
		return nil, err
	}
	return accts[0], nil
}

// GetAccountByIndex returns the account derived at the given index, or nil.
func (db *DB) GetAccountByIndex(ctx context.Context,
	accountIndex uint32) (*Account, error) {

	accts, err := queryAccounts(ctx, db.conn, `
		SELECT `+accountColumns+` FROM accounts
		WHERE account_index = ?`, accountIndex)
	if err != nil || len(accts) == 0 {
		return nil, err
	}
	return accts[0], nil
}

// ListAccounts returns every account in creation order.
func (db *DB) ListAccounts(ctx context.Context) ([]*Account, error) {
	return queryAccounts(ctx, db.conn, `
		SELECT `+accountColumns+` FROM accounts ORDER BY id ASC`)
}

// WipeAccount deletes everything the account owns: UTXOs, transactions,
// locks, derived addresses and their sync state. It is the only deletion
// path and exists for the restore flow.
func (db *DB) WipeAccount(ctx context.Context, accountID int64) error {
	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			DELETE FROM sync_state WHERE address IN (
				SELECT address FROM derived_addresses
				WHERE account_id = ?)`, accountID)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}

		for _, stmt := range []string{
			`DELETE FROM locks WHERE account_id = ?`,
			`DELETE FROM utxos WHERE account_id = ?`,
			`DELETE FROM transactions WHERE account_id = ?`,
			`DELETE FROM derived_addresses WHERE account_id = ?`,
		} {
			if _, err := tx.tx.ExecContext(tx.ctx, stmt,
				accountID); err != nil {

				return goerrors.Wrap(err, 0)
			}
		}

		log.Infof("Wiped account %d", accountID)
		return nil
	})
}

func queryAccounts(ctx context.Context, q querier, query string,
	args ...interface{}) ([]*Account, error) {

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var (
			a      Account
			active int
			keys   sql.NullString
		)
		err := rows.Scan(&a.ID, &a.Name, &a.Index, &a.CreatedAt,
			&active, &keys)
		if err != nil {
			return nil, goerrors.Wrap(err, 0)
		}
		a.Active = active != 0
		if keys.Valid {
			a.EncryptedKeys = []byte(keys.String)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
