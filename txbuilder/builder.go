package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/syncctl"
	"github.com/simplysats/simplysats/walletdb"
)

// txVersion is the transaction version emitted by every builder path.
const txVersion = 1

// Config carries the collaborators of a Builder.
type Config struct {
	DB     *walletdb.DB
	Client *chainclient.Client
	Fees   *chainfee.Estimator

	// Mutex is the per-account lock shared with the sync engine, so a
	// reconciliation never observes a half-applied pending state.
	Mutex *syncctl.SyncMutex
}

// Builder assembles, signs and broadcasts wallet transactions. Every path
// follows the same contract around broadcast: reserve inputs, broadcast,
// then confirm or roll back, and finally record the transaction.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Mutex == nil {
		cfg.Mutex = syncctl.NewSyncMutex()
	}
	return &Builder{cfg: cfg}
}

// Result reports a successful broadcast.
type Result struct {
	Txid  string
	RawTx string
	Fee   int64
}

// SendRequest describes a P2PKH payment.
type SendRequest struct {
	AccountID   int64
	ToAddress   string
	Amount      int64
	Description string

	// Key signs the inputs; change returns to its address.
	Key *btcec.PrivateKey
}

// Send builds, signs and broadcasts a P2PKH payment funded by ascending
// coin selection over the account's spendable set.
func (b *Builder) Send(ctx context.Context,
	req *SendRequest) (*Result, error) {

	release, err := b.cfg.Mutex.Acquire(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	rate := b.cfg.Fees.Rate(ctx)
	spendable, err := b.cfg.DB.GetSpendableUTXOs(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	selected, fee, change, err := selectForAmount(spendable, req.Amount,
		0, rate)
	if err != nil {
		return nil, err
	}

	recipientScript, err := lockscript.PayToAddress(req.ToAddress)
	if err != nil {
		return nil, err
	}

	changeAddr, err := keychain.AddressForPubKey(req.Key.PubKey())
	if err != nil {
		return nil, err
	}
	changeScript, err := lockscript.PayToAddress(changeAddr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	if err := addInputs(tx, selected); err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(req.Amount, recipientScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	if err := b.signAll(tx, selected, req.Key); err != nil {
		return nil, err
	}

	amount := -(req.Amount + fee)
	result, err := b.broadcastAndRecord(ctx, broadcastParams{
		accountID:   req.AccountID,
		tx:          tx,
		inputs:      outpointsOf(selected),
		fee:         fee,
		amount:      amount,
		description: req.Description,
		labels:      nil,
	})
	if err != nil {
		return nil, err
	}

	b.recordChange(ctx, req.AccountID, tx, result.Txid, changeAddr,
		changeScript)
	return result, nil
}

// broadcastParams bundles what the broadcast contract needs to finish a
// transaction.
type broadcastParams struct {
	accountID   int64
	tx          *wire.MsgTx
	inputs      []walletdb.Outpoint
	fee         int64
	amount      int64
	description string
	labels      []string
}

// broadcastAndRecord executes the broadcast contract: mark the inputs
// pending under the signed txid, broadcast, confirm or roll back, then
// record the transaction.
func (b *Builder) broadcastAndRecord(ctx context.Context,
	p broadcastParams) (*Result, error) {

	pendingTxid := p.tx.TxHash().String()
	rawTx, err := serializeTx(p.tx)
	if err != nil {
		return nil, err
	}

	if err := b.reserve(ctx, p.accountID, p.inputs,
		pendingTxid); err != nil {

		return nil, err
	}

	txid, err := b.cfg.Client.Broadcast(ctx, rawTx)
	if err != nil {
		log.Warnf("Broadcast of %s failed, rolling back: %v",
			pendingTxid, err)
		if rbErr := b.cfg.DB.RollbackPending(ctx, p.accountID,
			p.inputs); rbErr != nil {

			log.Errorf("Rollback after failed broadcast: %v",
				rbErr)
		}
		return nil, &ErrBroadcastRejected{Err: err}
	}

	if err := b.cfg.DB.ConfirmSpent(ctx, p.accountID, p.inputs,
		txid); err != nil {

		return nil, err
	}

	if err := b.record(ctx, p, txid, rawTx); err != nil {
		return nil, err
	}

	log.Infof("Broadcast %s (fee %d)", txid, p.fee)
	return &Result{Txid: txid, RawTx: rawTx, Fee: p.fee}, nil
}

// record upserts the wallet transaction row for a finished broadcast.
func (b *Builder) record(ctx context.Context, p broadcastParams,
	txid, rawTx string) error {

	amount := p.amount
	return b.cfg.DB.UpsertTransaction(ctx, &walletdb.TxRecord{
		AccountID:   p.accountID,
		Txid:        txid,
		RawTx:       rawTx,
		Description: p.description,
		Status:      walletdb.TxStatusPending,
		Amount:      &amount,
		Labels:      p.labels,
	})
}

// reserve marks the inputs pending, translating a reservation conflict into
// the builder's coin-selection error.
func (b *Builder) reserve(ctx context.Context, accountID int64,
	outpoints []walletdb.Outpoint, pendingTxid string) error {

	err := b.cfg.DB.MarkPending(ctx, accountID, outpoints, pendingTxid)
	if err == nil {
		return nil
	}

	var conflict *walletdb.ErrPendingConflict
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w (%s:%d)", ErrCoinSelectionConflict,
			conflict.Outpoint.Txid, conflict.Outpoint.Vout)
	}
	return err
}

// recordChange best-effort inserts the change output so the balance
// reflects it immediately; reconciliation would repair a miss.
func (b *Builder) recordChange(ctx context.Context, accountID int64,
	tx *wire.MsgTx, txid, changeAddr string, changeScript []byte) {

	for i, out := range tx.TxOut {
		if !bytes.Equal(out.PkScript, changeScript) {
			continue
		}

		err := b.cfg.DB.AddUTXO(ctx, &walletdb.UTXO{
			AccountID:     accountID,
			Txid:          txid,
			Vout:          uint32(i),
			Satoshis:      out.Value,
			LockingScript: hex.EncodeToString(out.PkScript),
			Address:       changeAddr,
			Basket:        walletdb.BasketDefault,
			Spendable:     true,
		})
		if err != nil {
			log.Warnf("Unable to record change output: %v", err)
		}
		return
	}
}

// signAll signs every input of a homogeneous P2PKH spend.
func (b *Builder) signAll(tx *wire.MsgTx, selected []*walletdb.UTXO,
	key *btcec.PrivateKey) error {

	for i, u := range selected {
		script, err := prevScript(u)
		if err != nil {
			return err
		}
		if err := signP2PKHInput(tx, i, script, u.Satoshis,
			key); err != nil {

			return err
		}
	}
	return nil
}

// addInputs appends one input per selected UTXO.
func addInputs(tx *wire.MsgTx, selected []*walletdb.UTXO) error {
	for _, u := range selected {
		op, err := outpoint(u.Txid, u.Vout)
		if err != nil {
			return err
		}
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
	}
	return nil
}

func outpoint(txid string, vout uint32) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(hash, vout), nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
