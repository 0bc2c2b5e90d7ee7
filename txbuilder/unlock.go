package txbuilder

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

const (
	// unlockSequence opts the unlock input into locktime enforcement.
	unlockSequence = 0xfffffffe

	// unlockScriptEstimate pre-sizes the unlocking script for fee
	// calculation; its actual length is only known after signing.
	unlockScriptEstimate = 300
)

// UnlockRequest describes the spend of a matured timelock output back to a
// wallet address.
type UnlockRequest struct {
	AccountID int64

	// Outpoint identifies the lock output being spent.
	Outpoint walletdb.Outpoint

	// ToAddress receives the unlocked funds.
	ToAddress string

	// Key is the receiver key the lock was built for.
	Key *btcec.PrivateKey
}

// Unlock spends a matured lock using the OP_PUSH_TX solution: the unlocking
// script carries the signature, the public key and the BIP-143 preimage of
// the spending transaction. A rejection is probed against the chain to
// recognise a previous broadcast of the same unlock, which resolves as
// success.
func (b *Builder) Unlock(ctx context.Context,
	req *UnlockRequest) (*Result, error) {

	release, err := b.cfg.Mutex.Acquire(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	lockUtxo, err := b.cfg.DB.GetUTXO(ctx, req.AccountID, req.Outpoint)
	if err != nil {
		return nil, err
	}
	if lockUtxo == nil {
		return nil, ErrInvalidScript
	}

	lockScript, err := hex.DecodeString(lockUtxo.LockingScript)
	if err != nil {
		return nil, err
	}
	parsed := lockscript.ParseTimelock(lockScript)
	if parsed == nil {
		return nil, ErrInvalidScript
	}

	// Maturity check happens before anything is signed.
	height, err := b.cfg.Client.BlockHeight(ctx)
	if err != nil {
		return nil, err
	}
	if height < parsed.UnlockBlock {
		return nil, &ErrLockNotMature{
			CurrentHeight: height,
			UnlockBlock:   parsed.UnlockBlock,
		}
	}

	rate := b.cfg.Fees.Rate(ctx)
	inputSize := 36 + varIntSize(unlockScriptEstimate) +
		unlockScriptEstimate + 4
	fee := chainfee.CalculateTxFee(0, 1, inputSize, rate)

	outValue := lockUtxo.Satoshis - fee
	if outValue <= 0 {
		return nil, &ErrInsufficientFunds{
			Available: lockUtxo.Satoshis,
			Needed:    fee,
		}
	}

	outScript, err := lockscript.PayToAddress(req.ToAddress)
	if err != nil {
		return nil, err
	}

	prevOut, err := outpoint(req.Outpoint.Txid, req.Outpoint.Vout)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = uint32(parsed.UnlockBlock)
	txIn := wire.NewTxIn(prevOut, nil, nil)
	txIn.Sequence = unlockSequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(outValue, outScript))

	// The OP_PUSH_TX solution: signature, key, then the preimage the
	// contract re-validates on chain.
	preimage := sighashPreimage(tx, 0, lockScript, lockUtxo.Satoshis)
	sig := rawSignature(tx, 0, lockScript, lockUtxo.Satoshis, req.Key)

	unlockScript, err := txscript.NewScriptBuilder().
		AddData(sig).
		AddData(req.Key.PubKey().SerializeCompressed()).
		AddData(preimage).
		Script()
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = unlockScript

	pendingTxid := tx.TxHash().String()
	rawTx, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}

	inputs := []walletdb.Outpoint{req.Outpoint}
	if err := b.reserve(ctx, req.AccountID, inputs,
		pendingTxid); err != nil {

		return nil, err
	}

	txid, err := b.cfg.Client.Broadcast(ctx, rawTx)
	if err != nil {
		// The lock may already have been unlocked by an earlier
		// attempt that never resolved locally.
		spend, probeErr := b.cfg.Client.OutputSpent(ctx,
			req.Outpoint.Txid, req.Outpoint.Vout)
		if probeErr == nil && spend != nil {
			log.Infof("Unlock of %s:%d already on chain as %s",
				req.Outpoint.Txid, req.Outpoint.Vout,
				spend.SpendingTxid)
			return b.resolveUnlock(ctx, req, lockUtxo,
				spend.SpendingTxid, "", outValue, fee)
		}

		log.Warnf("Unlock broadcast failed, rolling back: %v", err)
		if rbErr := b.cfg.DB.RollbackPending(ctx, req.AccountID,
			inputs); rbErr != nil {

			log.Errorf("Rollback after failed unlock: %v", rbErr)
		}
		return nil, &ErrBroadcastRejected{Err: err}
	}

	return b.resolveUnlock(ctx, req, lockUtxo, txid, rawTx, outValue,
		fee)
}

// resolveUnlock finalises an unlock known to be on chain under txid:
// confirm the spend, close the lock row, record the transaction and credit
// the received output.
func (b *Builder) resolveUnlock(ctx context.Context, req *UnlockRequest,
	lockUtxo *walletdb.UTXO, txid, rawTx string, outValue,
	fee int64) (*Result, error) {

	inputs := []walletdb.Outpoint{req.Outpoint}
	if err := b.cfg.DB.ConfirmSpent(ctx, req.AccountID, inputs,
		txid); err != nil {

		return nil, err
	}

	if err := b.cfg.DB.MarkLockUnlocked(ctx, lockUtxo.ID,
		txid); err != nil {

		log.Errorf("Unable to close lock row: %v", err)
	}

	amount := outValue
	err := b.cfg.DB.UpsertTransaction(ctx, &walletdb.TxRecord{
		AccountID: req.AccountID,
		Txid:      txid,
		RawTx:     rawTx,
		Status:    walletdb.TxStatusPending,
		Amount:    &amount,
		Labels:    []string{"unlock"},
	})
	if err != nil {
		return nil, err
	}

	// Credit the unlocked funds immediately; sync would repair a miss.
	outScript, scriptErr := lockscript.PayToAddress(req.ToAddress)
	if scriptErr == nil {
		err := b.cfg.DB.AddUTXO(ctx, &walletdb.UTXO{
			AccountID:     req.AccountID,
			Txid:          txid,
			Vout:          0,
			Satoshis:      outValue,
			LockingScript: hex.EncodeToString(outScript),
			Address:       req.ToAddress,
			Basket:        walletdb.BasketDefault,
			Spendable:     true,
		})
		if err != nil {
			log.Warnf("Unable to credit unlocked output: %v",
				err)
		}
	}

	log.Infof("Unlocked %s:%d via %s (fee %d)", req.Outpoint.Txid,
		req.Outpoint.Vout, txid, fee)
	return &Result{Txid: txid, RawTx: rawTx, Fee: fee}, nil
}
