package walletdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	goerrors "github.com/go-errors/errors"
)

// Setting keys. Settings hold the small pieces of state that live beside
// the relational data: the user fee override and the known-senders
// registry.
const (
	settingFeeRateOverride = "fee_rate_override"
	settingKnownSenders    = "known_senders"
)

// GetSetting returns the raw value of a settings key. The second return
// reports whether the key exists.
func (db *DB) GetSetting(ctx context.Context,
	key string) (string, bool, error) {

	var value string
	err := db.conn.QueryRowContext(ctx, `
		SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerrors.Wrap(err, 0)
	}
	return value, true, nil
}

// SetSetting stores a settings key.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value`, key, value)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}

// DeleteSetting removes a settings key.
func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	return db.Transact(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(tx.ctx, `
			DELETE FROM settings WHERE key = ?`, key)
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		return nil
	})
}

// FeeRateOverride implements chainfee.OverrideStore.
func (db *DB) FeeRateOverride() (float64, bool, error) {
	value, ok, err := db.GetSetting(context.Background(),
		settingFeeRateOverride)
	if err != nil || !ok {
		return 0, false, err
	}

	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, goerrors.Wrap(err, 0)
	}
	return rate, true, nil
}

// SetFeeRateOverride implements chainfee.OverrideStore.
func (db *DB) SetFeeRateOverride(rate float64) error {
	return db.SetSetting(context.Background(), settingFeeRateOverride,
		strconv.FormatFloat(rate, 'f', -1, 64))
}

// ClearFeeRateOverride implements chainfee.OverrideStore.
func (db *DB) ClearFeeRateOverride() error {
	return db.DeleteSetting(context.Background(),
		settingFeeRateOverride)
}

// KnownSenders returns the registry of sender public keys previously seen
// in BRC-42 payments, hex encoded.
func (db *DB) KnownSenders(ctx context.Context) ([]string, error) {
	value, ok, err := db.GetSetting(ctx, settingKnownSenders)
	if err != nil || !ok {
		return nil, err
	}

	var senders []string
	if err := json.Unmarshal([]byte(value), &senders); err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	return senders, nil
}

// AddKnownSender adds a sender public key to the registry if absent.
func (db *DB) AddKnownSender(ctx context.Context, pubKeyHex string) error {
	senders, err := db.KnownSenders(ctx)
	if err != nil {
		return err
	}

	for _, s := range senders {
		if s == pubKeyHex {
			return nil
		}
	}
	senders = append(senders, pubKeyHex)

	encoded, err := json.Marshal(senders)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}
	return db.SetSetting(ctx, settingKnownSenders, string(encoded))
}
