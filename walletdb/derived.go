package walletdb

import (
	"context"
	"database/sql"

	goerrors "github.com/go-errors/errors"
)

// UpsertDerivedAddress records a BRC-42 receive address. The sender and
// invoice number determine the address, so a re-derivation simply keeps the
// existing row.
func (db *DB) UpsertDerivedAddress(ctx context.Context,
	d *DerivedAddress) error {

	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			INSERT INTO derived_addresses (address, account_id,
				sender_public_key, invoice_number)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account_id, sender_public_key,
				invoice_number)
			DO UPDATE SET address = excluded.address`,
			d.Address, d.AccountID, d.SenderPublicKey,
			d.InvoiceNumber)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}

// ListDerivedAddresses returns the derived addresses of the account.
func (db *DB) ListDerivedAddresses(ctx context.Context,
	accountID int64) ([]*DerivedAddress, error) {

	rows, err := db.conn.QueryContext(ctx, `
		SELECT address, account_id, sender_public_key,
			invoice_number, last_synced_at
		FROM derived_addresses
		WHERE account_id = ?
		ORDER BY rowid ASC`, accountID)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	defer rows.Close()

	var out []*DerivedAddress
	for rows.Next() {
		var (
			d        DerivedAddress
			lastSync sql.NullInt64
		)
		err := rows.Scan(&d.Address, &d.AccountID,
			&d.SenderPublicKey, &d.InvoiceNumber, &lastSync)
		if err != nil {
			return nil, goerrors.Wrap(err, 0)
		}
		if lastSync.Valid {
			v := lastSync.Int64
			d.LastSyncedAt = &v
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// TouchDerivedAddresses updates the last sync time of the given addresses.
func (db *DB) TouchDerivedAddresses(ctx context.Context, accountID int64,
	addresses []string) error {

	if len(addresses) == 0 {
		return nil
	}

	now := db.nowMillis()
	return db.Transact(ctx, func(tx *Tx) error {
		for _, addr := range addresses {
			_, err := tx.tx.ExecContext(tx.ctx, `
				UPDATE derived_addresses
				SET last_synced_at = ?
				WHERE account_id = ? AND address = ?`,
				now, accountID, addr)
			if err != nil {
				return goerrors.Wrap(err, 0)
			}
		}
		return nil
	})
}
