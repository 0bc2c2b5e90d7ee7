package walletdb

import (
	"context"
	"database/sql"
	"errors"

	goerrors "github.com/go-errors/errors"
)

// LastSyncedHeight returns the chain height recorded for the address, or
// zero when the address has never been synced. The second return reports
// whether a record exists, gating initial versus incremental sync.
func (db *DB) LastSyncedHeight(ctx context.Context,
	address string) (int64, bool, error) {

	var height int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT last_synced_height FROM sync_state
		WHERE address = ?`, address).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, goerrors.Wrap(err, 0)
	}
	return height, true, nil
}

// SetLastSyncedHeight records the chain height an address was reconciled
// at.
func (db *DB) SetLastSyncedHeight(ctx context.Context, address string,
	height int64) error {

	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			INSERT INTO sync_state (address, last_synced_height)
			VALUES (?, ?)
			ON CONFLICT(address) DO UPDATE SET
				last_synced_height = excluded.last_synced_height`,
			address, height)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}
