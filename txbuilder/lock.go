package txbuilder

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

// LockRequest describes the creation of a timelock output paying back to
// the wallet at a future height.
type LockRequest struct {
	AccountID   int64
	Satoshis    int64
	UnlockBlock int64

	// OrdinalOrigin, when set, is carried in a wrootz OP_RETURN output
	// tying the lock to an ordinal.
	OrdinalOrigin string

	// Key signs the inputs; the timelock and change pay to its hash.
	Key *btcec.PrivateKey
}

// Lock builds, signs and broadcasts a timelock transaction: output 0 is the
// lock, an optional data output follows, and change comes last.
func (b *Builder) Lock(ctx context.Context,
	req *LockRequest) (*Result, error) {

	release, err := b.cfg.Mutex.Acquire(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	pkh := keychain.PubKeyHash(req.Key.PubKey())
	lockScript, err := lockscript.BuildTimelock(pkh, req.UnlockBlock)
	if err != nil {
		return nil, err
	}

	var dataScript []byte
	if req.OrdinalOrigin != "" {
		dataScript, err = lockscript.BuildOpReturn("lock",
			[]byte(req.OrdinalOrigin))
		if err != nil {
			return nil, err
		}
	}

	rate := b.cfg.Fees.Rate(ctx)
	spendable, err := b.cfg.DB.GetSpendableUTXOs(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	// The lock and data outputs replace the recipient output of a plain
	// send; bill their actual sizes on top of the change output.
	extraBytes := lockOutputSize(len(lockScript)) +
		dataOutputSize(dataScript) - chainfee.P2PKHOutputSize
	selected, fee, change, err := selectForAmount(spendable,
		req.Satoshis, extraBytes, rate)
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
	tx.AddTxOut(wire.NewTxOut(req.Satoshis, lockScript))
	if dataScript != nil {
		tx.AddTxOut(wire.NewTxOut(0, dataScript))
	}
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	if err := b.signAll(tx, selected, req.Key); err != nil {
		return nil, err
	}

	result, err := b.broadcastAndRecord(ctx, broadcastParams{
		accountID: req.AccountID,
		tx:        tx,
		inputs:    outpointsOf(selected),
		fee:       fee,
		amount:    -(req.Satoshis + fee),
		labels:    []string{"lock"},
	})
	if err != nil {
		return nil, err
	}

	b.recordLockOutput(ctx, req, result.Txid, lockScript)
	b.recordChange(ctx, req.AccountID, tx, result.Txid, changeAddr,
		changeScript)

	return result, nil
}

// recordLockOutput best-effort stores the new lock output and its lock row
// so the locked balance reflects immediately; sync would repair a miss.
func (b *Builder) recordLockOutput(ctx context.Context, req *LockRequest,
	txid string, lockScript []byte) {

	err := b.cfg.DB.AddUTXO(ctx, &walletdb.UTXO{
		AccountID:     req.AccountID,
		Txid:          txid,
		Vout:          0,
		Satoshis:      req.Satoshis,
		LockingScript: hex.EncodeToString(lockScript),
		Basket:        walletdb.BasketLocks,
		Spendable:     false,
	})
	if err != nil {
		log.Warnf("Unable to record lock output: %v", err)
		return
	}

	stored, err := b.cfg.DB.GetUTXO(ctx, req.AccountID,
		walletdb.Outpoint{Txid: txid, Vout: 0})
	if err != nil || stored == nil {
		return
	}

	err = b.cfg.DB.UpsertLock(ctx, &walletdb.Lock{
		AccountID:     req.AccountID,
		UtxoID:        stored.ID,
		UnlockBlock:   req.UnlockBlock,
		OrdinalOrigin: req.OrdinalOrigin,
	})
	if err != nil {
		log.Warnf("Unable to record lock row: %v", err)
	}
}

// lockOutputSize is the serialized size of the timelock output.
func lockOutputSize(scriptLen int) int {
	return 8 + varIntSize(scriptLen) + scriptLen
}

// dataOutputSize is the serialized size of the optional OP_RETURN output.
func dataOutputSize(script []byte) int {
	if script == nil {
		return 0
	}
	return 8 + varIntSize(len(script)) + len(script)
}

func varIntSize(n int) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}
