package simplysats

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/davecgh/go-spew/spew"

	"github.com/simplysats/simplysats/autolock"
	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/chainsync"
	"github.com/simplysats/simplysats/discovery"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/ratelimit"
	"github.com/simplysats/simplysats/syncctl"
	"github.com/simplysats/simplysats/txbuilder"
	"github.com/simplysats/simplysats/walletdb"
)

// ErrWalletLocked is returned by operations that need key material while
// the wallet is locked.
var ErrWalletLocked = errors.New("wallet is locked")

// Engine wires the wallet subsystems together behind one handle. Key
// material only lives on it between UnlockWallet and LockWallet.
type Engine struct {
	cfg *Config

	db         *walletdb.DB
	client     *chainclient.Client
	fees       *chainfee.Estimator
	mutex      *syncctl.SyncMutex
	controller *syncctl.Controller
	syncer     *chainsync.Syncer
	builder    *txbuilder.Builder
	limiter    *ratelimit.Limiter
	locker     *autolock.Locker

	keys *keychain.AccountKeys
}

// NewEngine opens the store and assembles the subsystems.
func NewEngine(cfg *Config) (*Engine, error) {
	db, err := walletdb.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	client := chainclient.NewClient(cfg.ExplorerURL,
		float64(cfg.MaxConcurrentRequests))
	miner := chainclient.NewMinerClient(cfg.MinerAPIURL)

	fees := chainfee.NewEstimator(miner, db)
	if cfg.FeeRate > 0 {
		if err := fees.SetOverride(cfg.FeeRate); err != nil {
			db.Close()
			return nil, err
		}
	}

	mutex := syncctl.NewSyncMutex()
	controller := syncctl.NewController()

	e := &Engine{
		cfg:        cfg,
		db:         db,
		client:     client,
		fees:       fees,
		mutex:      mutex,
		controller: controller,
		syncer: chainsync.NewSyncer(chainsync.Config{
			DB:            db,
			Client:        client,
			Mutex:         mutex,
			Controller:    controller,
			MaxConcurrent: cfg.MaxConcurrentRequests,
			BatchDelay:    cfg.AddressSyncDelay,
			HistoryLimit:  cfg.HistoryLimit,
		}),
		builder: txbuilder.NewBuilder(txbuilder.Config{
			DB:     db,
			Client: client,
			Fees:   fees,
			Mutex:  mutex,
		}),
		limiter: ratelimit.NewLimiter(settingsStore{db: db}),
	}

	if cfg.AutoLockMinutes > 0 {
		e.locker = autolock.New(e.LockWallet,
			time.Duration(cfg.AutoLockMinutes)*time.Minute)
	}

	return e, nil
}

// Close shuts the engine down, clearing key material.
func (e *Engine) Close() error {
	e.controller.Cancel()
	if e.locker != nil {
		e.locker.Cleanup()
	}
	e.LockWallet()
	return e.db.Close()
}

// DB exposes the store for read queries.
func (e *Engine) DB() *walletdb.DB {
	return e.db
}

// UnlockWallet derives the active account's keys from the mnemonic,
// consulting the failed-unlock limiter. Mnemonic validation counts as the
// unlock check: a bad mnemonic is a failed attempt.
func (e *Engine) UnlockWallet(ctx context.Context, mnemonic,
	password string) error {

	status, err := e.limiter.CheckLimit()
	if err != nil {
		return err
	}
	if status.IsLimited {
		return errors.New("too many failed unlock attempts")
	}

	account, err := e.db.GetActiveAccount(ctx)
	if err != nil {
		return err
	}
	accountIndex := uint32(0)
	if account != nil {
		accountIndex = account.Index
	}

	keys, err := keychain.DeriveAccount(mnemonic, password,
		accountIndex)
	if err != nil {
		if _, recErr := e.limiter.RecordFailed(); recErr != nil {
			walLog.Errorf("Unable to record failed unlock: %v",
				recErr)
		}
		return err
	}

	if err := e.limiter.RecordSuccess(); err != nil {
		walLog.Errorf("Unable to clear unlock counter: %v", err)
	}

	e.keys = keys
	if e.locker != nil {
		e.locker.Touch()
	}

	walLog.Infof("Wallet unlocked (account index %d)", accountIndex)
	return nil
}

// LockWallet clears the in-memory key material.
func (e *Engine) LockWallet() {
	if e.keys != nil {
		e.keys.Zero()
		e.keys = nil
		walLog.Infof("Wallet locked")
	}
}

// IsAuthenticated reports whether key material is available.
func (e *Engine) IsAuthenticated() bool {
	return e.keys != nil
}

// touch records user activity for the auto-lock and returns the keys, or
// fails when locked.
func (e *Engine) touch() (*keychain.AccountKeys, error) {
	if e.keys == nil {
		return nil, ErrWalletLocked
	}
	if e.locker != nil {
		e.locker.Touch()
	}
	return e.keys, nil
}

// syncParams derives the sync parameters of the active account.
func (e *Engine) syncParams(ctx context.Context) (chainsync.Params,
	error) {

	keys, err := e.touch()
	if err != nil {
		return chainsync.Params{}, err
	}

	accountID := int64(walletdb.DefaultAccountID)
	if account, err := e.db.GetActiveAccount(ctx); err != nil {
		return chainsync.Params{}, err
	} else if account != nil {
		accountID = account.ID
	}

	walletAddr, err := keys.Wallet.Address()
	if err != nil {
		return chainsync.Params{}, err
	}
	ordAddr, err := keys.Ordinal.Address()
	if err != nil {
		return chainsync.Params{}, err
	}
	identityAddr, err := keys.Identity.Address()
	if err != nil {
		return chainsync.Params{}, err
	}

	return chainsync.Params{
		AccountID:       accountID,
		WalletAddress:   walletAddr,
		OrdAddress:      ordAddr,
		IdentityAddress: identityAddr,
		WalletPubKey:    keys.Wallet.PubKey(),
	}, nil
}

// Sync reconciles the active account against the chain.
func (e *Engine) Sync(ctx context.Context) error {
	params, err := e.syncParams(ctx)
	if err != nil {
		return err
	}

	walLog.Tracef("Sync params: %v", newLogClosure(func() string {
		return spew.Sdump(params)
	}))
	return e.syncer.SyncWallet(params)
}

// Send pays amount satoshis to a P2PKH address.
func (e *Engine) Send(ctx context.Context, toAddress string, amount int64,
	description string) (*txbuilder.Result, error) {

	params, err := e.syncParams(ctx)
	if err != nil {
		return nil, err
	}

	return e.builder.Send(ctx, &txbuilder.SendRequest{
		AccountID:   params.AccountID,
		ToAddress:   toAddress,
		Amount:      amount,
		Description: description,
		Key:         e.keys.Wallet.Priv,
	})
}

// CreateLock locks satoshis until unlockBlock.
func (e *Engine) CreateLock(ctx context.Context, satoshis,
	unlockBlock int64, ordinalOrigin string) (*txbuilder.Result,
	error) {

	params, err := e.syncParams(ctx)
	if err != nil {
		return nil, err
	}

	return e.builder.Lock(ctx, &txbuilder.LockRequest{
		AccountID:     params.AccountID,
		Satoshis:      satoshis,
		UnlockBlock:   unlockBlock,
		OrdinalOrigin: ordinalOrigin,
		Key:           e.keys.Wallet.Priv,
	})
}

// SpendLock unlocks a matured timelock output back to the wallet address.
func (e *Engine) SpendLock(ctx context.Context,
	outpoint walletdb.Outpoint) (*txbuilder.Result, error) {

	params, err := e.syncParams(ctx)
	if err != nil {
		return nil, err
	}

	return e.builder.Unlock(ctx, &txbuilder.UnlockRequest{
		AccountID: params.AccountID,
		Outpoint:  outpoint,
		ToAddress: params.WalletAddress,
		Key:       e.keys.Wallet.Priv,
	})
}

// TransferOrdinal moves a 1-sat ordinal to a new owner.
func (e *Engine) TransferOrdinal(ctx context.Context,
	outpoint walletdb.Outpoint,
	toAddress string) (*txbuilder.Result, error) {

	params, err := e.syncParams(ctx)
	if err != nil {
		return nil, err
	}

	return e.builder.TransferOrdinal(ctx,
		&txbuilder.TransferOrdinalRequest{
			AccountID:  params.AccountID,
			Outpoint:   outpoint,
			ToAddress:  toAddress,
			OrdinalKey: e.keys.Ordinal.Priv,
			FundingKey: e.keys.Wallet.Priv,
		})
}

// Discover walks derivation indices for accounts with on-chain history.
func (e *Engine) Discover(ctx context.Context, mnemonic,
	password string) (int, error) {

	var excludeID int64
	if account, err := e.db.GetActiveAccount(ctx); err != nil {
		return 0, err
	} else if account != nil {
		excludeID = account.ID
	}

	disc := discovery.NewDiscoverer(discovery.Config{
		DB:      e.db,
		Checker: e.client,
		Syncer:  discoverySyncer{engine: e},
	})
	return disc.Discover(ctx, mnemonic, password, excludeID)
}

// HandleDeepLink parses and executes a simplysats:// request, returning a
// string result suitable for the calling app.
func (e *Engine) HandleDeepLink(ctx context.Context,
	raw string) (string, error) {

	action, err := ParseDeepLink(raw)
	if err != nil {
		return "", err
	}

	switch action.Kind {
	case ActionAuth:
		if e.IsAuthenticated() {
			return "authenticated", nil
		}
		return "locked", nil

	case ActionConnect:
		keys, err := e.touch()
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(
			keys.Identity.PubKey().SerializeCompressed()), nil

	case ActionSign:
		return e.signData(action)

	case ActionCreate:
		var total int64
		for _, out := range action.Outputs {
			total += out.Satoshis
		}
		if len(action.Outputs) != 1 {
			return "", errors.New("multi-output payments are " +
				"not supported")
		}
		result, err := e.Send(ctx, action.Outputs[0].Address, total,
			action.Description)
		if err != nil {
			return "", err
		}
		return result.Txid, nil

	default:
		return "", ErrUnknownDeepLink
	}
}

// signData signs the requested payload with a protocol-scoped tagged key.
func (e *Engine) signData(action *Action) (string, error) {
	keys, err := e.touch()
	if err != nil {
		return "", err
	}

	tagged, err := keychain.DeriveTaggedKey(keys.Identity.Priv,
		keychain.KeyTag{
			Label: action.Protocol,
			ID:    action.KeyID,
		})
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(action.Data))
	sig := ecdsa.Sign(tagged.Priv, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// CheckUnlockRateLimit is the trusted-domain bridge command backing the
// unlock prompt.
func (e *Engine) CheckUnlockRateLimit() (ratelimit.Status, error) {
	return e.limiter.CheckLimit()
}

// RemainingUnlockAttempts reports attempts left before lockout.
func (e *Engine) RemainingUnlockAttempts() (int, error) {
	return e.limiter.RemainingAttempts()
}

// settingsStore adapts the walletdb settings table to the trusted-storage
// interface of the rate limiter.
type settingsStore struct {
	db *walletdb.DB
}

func (s settingsStore) Get(key string) (string, bool, error) {
	return s.db.GetSetting(context.Background(), key)
}

func (s settingsStore) Set(key, value string) error {
	return s.db.SetSetting(context.Background(), key, value)
}

func (s settingsStore) Delete(key string) error {
	return s.db.DeleteSetting(context.Background(), key)
}

// discoverySyncer runs a full wallet sync for a newly discovered account.
type discoverySyncer struct {
	engine *Engine
}

func (d discoverySyncer) SyncAccount(_ context.Context,
	account *walletdb.Account, keys *keychain.AccountKeys) error {

	walletAddr, err := keys.Wallet.Address()
	if err != nil {
		return err
	}
	ordAddr, err := keys.Ordinal.Address()
	if err != nil {
		return err
	}
	identityAddr, err := keys.Identity.Address()
	if err != nil {
		return err
	}

	return d.engine.syncer.SyncWallet(chainsync.Params{
		AccountID:       account.ID,
		WalletAddress:   walletAddr,
		OrdAddress:      ordAddr,
		IdentityAddress: identityAddr,
		WalletPubKey:    keys.Wallet.PubKey(),
	})
}
