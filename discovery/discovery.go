package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/walletdb"
)

const (
	// MaxAccountDiscovery bounds the derivation walk. An older discovery
	// build carried a bound of 20; the operational bound is 200.
	MaxAccountDiscovery = 200

	// GapLimit is how many consecutive confirmed-empty indices after the
	// last active one end the walk.
	GapLimit = 5

	// historyRetries is how many times a failing history check is
	// retried per address.
	historyRetries = 3

	// retryDelay is the base back-off between retries.
	retryDelay = 500 * time.Millisecond
)

// HistoryChecker is the explorer surface discovery needs.
type HistoryChecker interface {
	History(ctx context.Context,
		address string) ([]chainclient.HistoryItem, error)
}

// AccountSyncer runs a wallet sync for a newly discovered account. Sync
// failures keep the account.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, account *walletdb.Account,
		keys *keychain.AccountKeys) error
}

// Config carries the collaborators of a Discoverer.
type Config struct {
	DB      *walletdb.DB
	Checker HistoryChecker

	// Syncer may be nil; discovered accounts are then left for the next
	// background sync.
	Syncer AccountSyncer

	// SealKeys encrypts account key material for storage.
	SealKeys func(keys *keychain.AccountKeys) ([]byte, error)

	// retrySleep is the back-off hook, replaceable in tests.
	retrySleep func(d time.Duration)
}

// Discoverer walks derivation indices looking for accounts with on-chain
// activity.
type Discoverer struct {
	cfg Config
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(cfg Config) *Discoverer {
	if cfg.retrySleep == nil {
		cfg.retrySleep = time.Sleep
	}
	return &Discoverer{cfg: cfg}
}

// addressState classifies one index's chain probe.
type addressState int

const (
	stateUnknown addressState = iota
	stateActive
	stateEmpty
)

// Discover walks indices 1 through MaxAccountDiscovery, creating and
// syncing an account for every index with history. The walk stops after
// GapLimit consecutive confirmed-empty indices beyond the last active one.
// When excludeID is non-zero and anything was found, that account is
// re-activated afterwards, since account creation activates the newcomer.
func (d *Discoverer) Discover(ctx context.Context, mnemonic, password string,
	excludeID int64) (int, error) {

	found := 0
	gap := 0

	for index := uint32(1); index <= MaxAccountDiscovery; index++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		keys, err := keychain.DeriveAccount(mnemonic, password, index)
		if err != nil {
			return found, err
		}

		state := d.probeIndex(ctx, keys)
		switch state {
		case stateActive:
			gap = 0

			created, err := d.adoptIndex(ctx, index, keys)
			if err != nil {
				log.Errorf("Stopping walk, unable to create "+
					"account for index %d: %v", index, err)
				return found, err
			}
			if created {
				found++
			}

		case stateEmpty:
			gap++

		case stateUnknown:
			// Persistent API failure: the index counts as
			// neither active nor empty.
			log.Warnf("Index %d unreachable, ignoring", index)
		}

		if gap >= GapLimit {
			log.Infof("Gap limit reached at index %d", index)
			break
		}
	}

	if excludeID != 0 && found > 0 {
		err := d.cfg.DB.SetActiveAccount(ctx, excludeID)
		if err != nil {
			log.Errorf("Unable to re-activate account %d: %v",
				excludeID, err)
		}
	}

	log.Infof("Discovery finished: %d account(s) found", found)
	return found, nil
}

// probeIndex checks the three account addresses serially in the order
// wallet, ordinal, identity, short-circuiting on the first non-empty
// history.
func (d *Discoverer) probeIndex(ctx context.Context,
	keys *keychain.AccountKeys) addressState {

	sawEmpty := 0

	for _, key := range []*keychain.Key{
		keys.Wallet, keys.Ordinal, keys.Identity,
	} {
		addr, err := key.Address()
		if err != nil {
			return stateUnknown
		}

		history, err := d.historyWithRetry(ctx, addr)
		if err != nil {
			return stateUnknown
		}
		if len(history) > 0 {
			return stateActive
		}
		sawEmpty++
	}

	if sawEmpty == 3 {
		return stateEmpty
	}
	return stateUnknown
}

// historyWithRetry retries a failing history check with linear back-off.
func (d *Discoverer) historyWithRetry(ctx context.Context,
	address string) ([]chainclient.HistoryItem, error) {

	var lastErr error
	for attempt := 1; attempt <= historyRetries; attempt++ {
		history, err := d.cfg.Checker.History(ctx, address)
		if err == nil {
			return history, nil
		}
		lastErr = err

		if attempt < historyRetries {
			d.cfg.retrySleep(retryDelay * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

// adoptIndex creates and syncs the account at an active index. An index
// whose account already exists is left alone; it still resets the gap but
// adds nothing to the found count.
func (d *Discoverer) adoptIndex(ctx context.Context, index uint32,
	keys *keychain.AccountKeys) (bool, error) {

	existing, err := d.cfg.DB.GetAccountByIndex(ctx, index)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	var sealed []byte
	if d.cfg.SealKeys != nil {
		sealed, err = d.cfg.SealKeys(keys)
		if err != nil {
			return false, err
		}
	}

	name := fmt.Sprintf("Account %d", index+1)
	account, err := d.cfg.DB.CreateAccount(ctx, name, index, sealed)
	if err != nil {
		return false, err
	}

	if d.cfg.Syncer != nil {
		if err := d.cfg.Syncer.SyncAccount(ctx, account,
			keys); err != nil {

			// Sync failures keep the account; the next
			// background sync will pick it up.
			log.Warnf("Initial sync of %q failed: %v", name, err)
		}
	}

	return true, nil
}
