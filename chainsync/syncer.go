package chainsync

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/sync/errgroup"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/syncctl"
	"github.com/simplysats/simplysats/walletdb"
)

const (
	// stuckPendingAge is how long a pending reservation may go
	// unconfirmed before sync start releases it.
	stuckPendingAge = 5 * time.Minute

	// defaultMaxConcurrent bounds parallel address reconciliations per
	// batch.
	defaultMaxConcurrent = 3

	// defaultHistoryLimit caps how many history entries are processed
	// per address.
	defaultHistoryLimit = 30
)

// Config carries the collaborators and limits of a Syncer.
type Config struct {
	DB     *walletdb.DB
	Client *chainclient.Client

	// Mutex serialises sync and spend per account.
	Mutex *syncctl.SyncMutex

	// Controller owns the global sync token; starting a sync cancels the
	// previous one.
	Controller *syncctl.Controller

	// MaxConcurrent bounds parallel address requests in one batch.
	MaxConcurrent int

	// BatchDelay is the pause between address batches.
	BatchDelay time.Duration

	// HistoryLimit caps history entries fetched per address.
	HistoryLimit int
}

// Syncer reconciles on-chain state with the local store.
type Syncer struct {
	cfg Config
}

// NewSyncer creates a syncer, applying defaults for unset limits.
func NewSyncer(cfg Config) *Syncer {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Mutex == nil {
		cfg.Mutex = syncctl.NewSyncMutex()
	}
	if cfg.Controller == nil {
		cfg.Controller = syncctl.NewController()
	}
	return &Syncer{cfg: cfg}
}

// Params identifies the account being synced and its principal addresses.
type Params struct {
	AccountID       int64
	WalletAddress   string
	OrdAddress      string
	IdentityAddress string

	// WalletPubKey recognises timelock outputs addressed to the wallet.
	WalletPubKey *btcec.PublicKey
}

// target pairs an address with the basket its new UTXOs inherit.
type target struct {
	address string
	basket  walletdb.Basket
}

// SyncWallet runs a full reconciliation for one account: stuck-pending
// recovery, per-address UTXO diff (derived addresses first), history and
// lock processing, then amount backfill. Cancellation unwinds silently.
func (s *Syncer) SyncWallet(params Params) error {
	token := s.cfg.Controller.StartNewSync()
	ctx := token.Context()

	release, err := s.cfg.Mutex.Acquire(ctx, params.AccountID)
	if err != nil {
		return nil
	}
	defer release()

	cache := newTxDetailCache(s.cfg.Client)
	defer cache.Clear()

	err = s.syncLocked(ctx, cache, params)
	if errors.Is(err, syncctl.ErrCancelled) ||
		errors.Is(err, context.Canceled) {

		log.Debugf("Sync of account %d cancelled",
			params.AccountID)
		return nil
	}
	return err
}

func (s *Syncer) syncLocked(ctx context.Context, cache *txDetailCache,
	params Params) error {

	start := time.Now()
	log.Infof("Starting sync for account %d", params.AccountID)

	_, err := s.cfg.DB.RollbackStuckPending(ctx, params.AccountID,
		stuckPendingAge)
	if err != nil {
		return err
	}

	derived, err := s.cfg.DB.ListDerivedAddresses(ctx, params.AccountID)
	if err != nil {
		return err
	}

	// Derived addresses reconcile first so principal-address history can
	// attribute their funds.
	targets := make([]target, 0, len(derived)+3)
	for _, d := range derived {
		targets = append(targets, target{
			address: d.Address,
			basket:  walletdb.BasketDerived,
		})
	}
	targets = append(targets,
		target{params.WalletAddress, walletdb.BasketDefault},
		target{params.OrdAddress, walletdb.BasketOrdinals},
		target{params.IdentityAddress, walletdb.BasketIdentity},
	)

	reported, err := s.reconcileBatched(ctx, params.AccountID, targets)
	if err != nil {
		return err
	}

	// History for the wallet address and every derived address, carrying
	// lock and unlock detection.
	walletPKH := keychain.PubKeyHash(params.WalletPubKey)
	historyAddrs := append([]string{params.WalletAddress},
		addressesOf(derived)...)
	for _, addr := range historyAddrs {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		s.syncHistory(ctx, cache, params.AccountID, addr, walletPKH)
	}

	if err := s.backfillAmounts(ctx, cache, params, derived); err != nil {
		return err
	}

	var touched []string
	for _, d := range derived {
		if reported[d.Address] {
			touched = append(touched, d.Address)
		}
	}
	if err := s.cfg.DB.TouchDerivedAddresses(ctx, params.AccountID,
		touched); err != nil {

		return err
	}

	log.Infof("Sync for account %d finished in %v", params.AccountID,
		time.Since(start))
	return nil
}

// reconcileBatched fans syncAddress out in batches of MaxConcurrent with a
// delay between batches. It returns the set of addresses that reported a
// result.
func (s *Syncer) reconcileBatched(ctx context.Context, accountID int64,
	targets []target) (map[string]bool, error) {

	reported := make(map[string]bool, len(targets))

	for i := 0; i < len(targets); i += s.cfg.MaxConcurrent {
		if err := ctxErr(ctx); err != nil {
			return reported, err
		}

		end := i + s.cfg.MaxConcurrent
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[i:end]

		results := make([]bool, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for j, tgt := range batch {
			j, tgt := j, tgt
			g.Go(func() error {
				results[j] = s.syncAddress(gctx, accountID,
					tgt.address, tgt.basket)
				return nil
			})
		}
		g.Wait()

		for j, tgt := range batch {
			if results[j] {
				reported[tgt.address] = true
			}
		}

		if end < len(targets) && s.cfg.BatchDelay > 0 {
			err := syncctl.CancellableDelay(ctx, s.cfg.BatchDelay)
			if err != nil {
				return reported, err
			}
		}
	}

	return reported, nil
}

func addressesOf(derived []*walletdb.DerivedAddress) []string {
	out := make([]string, len(derived))
	for i, d := range derived {
		out[i] = d.Address
	}
	return out
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return syncctl.ErrCancelled
	default:
		return nil
	}
}
