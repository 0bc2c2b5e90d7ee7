package walletdb

import (
	"context"

	goerrors "github.com/go-errors/errors"
)

// baseSchema is the original table set. Columns added later in the wallet's
// life are applied by the lazy per-table migrations below so existing
// databases upgrade in place.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		encrypted_keys BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS utxos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		txid TEXT NOT NULL,
		vout INTEGER NOT NULL,
		satoshis INTEGER NOT NULL,
		locking_script TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		basket TEXT NOT NULL DEFAULT 'default',
		spendable INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		spent_at INTEGER,
		spent_txid TEXT,
		UNIQUE(account_id, txid, vout)
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		txid TEXT NOT NULL,
		raw_tx TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		confirmed_at INTEGER,
		block_height INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		amount INTEGER,
		UNIQUE(account_id, txid)
	)`,

	`CREATE TABLE IF NOT EXISTS locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		utxo_id INTEGER NOT NULL UNIQUE,
		unlock_block INTEGER NOT NULL,
		lock_block INTEGER,
		ordinal_origin TEXT,
		created_at INTEGER NOT NULL,
		unlocked_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS derived_addresses (
		address TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		sender_public_key TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		last_synced_at INTEGER,
		UNIQUE(account_id, sender_public_key, invoice_number)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_state (
		address TEXT PRIMARY KEY,
		last_synced_height INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS utxos_account_address_idx
		ON utxos(account_id, address)`,

	`CREATE INDEX IF NOT EXISTS transactions_account_status_idx
		ON transactions(account_id, status)`,
}

// tableMigration adds columns to one table. The sentinel select probes for
// the newest column; when it fails the alter statements are applied.
type tableMigration struct {
	sentinel string
	alters   []string
}

var tableMigrations = []tableMigration{
	// Pending-spend state machine columns.
	{
		sentinel: "SELECT spending_status FROM utxos LIMIT 1",
		alters: []string{
			"ALTER TABLE utxos ADD COLUMN spending_status TEXT",
			"ALTER TABLE utxos ADD COLUMN pending_spending_txid " +
				"TEXT",
			"ALTER TABLE utxos ADD COLUMN pending_since INTEGER",
			"CREATE INDEX IF NOT EXISTS utxos_pending_idx ON " +
				"utxos(spending_status, pending_since)",
		},
	},

	// UTXO tags.
	{
		sentinel: "SELECT tags FROM utxos LIMIT 1",
		alters: []string{
			"ALTER TABLE utxos ADD COLUMN tags TEXT NOT NULL " +
				"DEFAULT '[]'",
		},
	},

	// Transaction labels.
	{
		sentinel: "SELECT labels FROM transactions LIMIT 1",
		alters: []string{
			"ALTER TABLE transactions ADD COLUMN labels TEXT " +
				"NOT NULL DEFAULT '[]'",
		},
	},

	// Account derivation index for discovery.
	{
		sentinel: "SELECT account_index FROM accounts LIMIT 1",
		alters: []string{
			"ALTER TABLE accounts ADD COLUMN account_index " +
				"INTEGER NOT NULL DEFAULT 0",
		},
	},

	// Spending txid on unlocked locks.
	{
		sentinel: "SELECT unlock_txid FROM locks LIMIT 1",
		alters: []string{
			"ALTER TABLE locks ADD COLUMN unlock_txid TEXT",
		},
	},
}

// migrate creates the base schema and lazily upgrades each table. All steps
// are idempotent, so a second open is a no-op.
func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range baseSchema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return goerrors.WrapPrefix(err, "create schema", 0)
		}
	}

	for _, m := range tableMigrations {
		rows, err := db.conn.QueryContext(ctx, m.sentinel)
		if err == nil {
			rows.Close()
			continue
		}

		log.Infof("Applying store migration (probe: %q)", m.sentinel)
		for _, alter := range m.alters {
			if _, err := db.conn.ExecContext(ctx,
				alter); err != nil {

				return goerrors.WrapPrefix(err, "migrate", 0)
			}
		}
	}

	return nil
}
