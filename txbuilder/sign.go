package txbuilder

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

// rawSignature signs the FORKID sighash of input idx and appends the hash
// type byte, yielding the wire form pushed in unlocking scripts.
func rawSignature(tx *wire.MsgTx, idx int, subScript []byte, value int64,
	key *btcec.PrivateKey) []byte {

	digest := sighashDigest(sighashPreimage(tx, idx, subScript, value))
	sig := ecdsa.Sign(key, digest)
	return append(sig.Serialize(), byte(SigHashAllForkID))
}

// signP2PKHInput attaches the standard <sig> <pubkey> unlocking script to
// input idx.
func signP2PKHInput(tx *wire.MsgTx, idx int, subScript []byte, value int64,
	key *btcec.PrivateKey) error {

	sig := rawSignature(tx, idx, subScript, value, key)

	sigScript, err := txscript.NewScriptBuilder().
		AddData(sig).
		AddData(key.PubKey().SerializeCompressed()).
		Script()
	if err != nil {
		return err
	}

	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}

// prevScript resolves the locking script of a stored UTXO, preferring the
// recorded script and falling back to rebuilding it from the address.
func prevScript(u *walletdb.UTXO) ([]byte, error) {
	if u.LockingScript != "" {
		script, err := hex.DecodeString(u.LockingScript)
		if err == nil && len(script) > 0 {
			return script, nil
		}
	}

	if u.Address != "" {
		return lockscript.PayToAddress(u.Address)
	}

	return nil, ErrInvalidScript
}
