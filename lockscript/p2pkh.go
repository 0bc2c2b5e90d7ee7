package lockscript

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// chainParams are the address encoding parameters. BSV shares the base58
// version bytes with Bitcoin mainnet.
var chainParams = &chaincfg.MainNetParams

// PayToPubKeyHash builds the standard P2PKH locking script for the given
// 20-byte pubkey hash.
func PayToPubKeyHash(pkh []byte) ([]byte, error) {
	if len(pkh) != 20 {
		return nil, ErrInvalidPubKeyHash
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkh).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// PayToAddress builds the P2PKH locking script for a base58 address.
func PayToAddress(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, chainParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// ExtractPubKeyHash returns the 20-byte hash of a P2PKH locking script, or
// nil when the script is not P2PKH.
func ExtractPubKeyHash(script []byte) []byte {
	if len(script) != 25 ||
		script[0] != txscript.OP_DUP ||
		script[1] != txscript.OP_HASH160 ||
		script[2] != 20 ||
		script[23] != txscript.OP_EQUALVERIFY ||
		script[24] != txscript.OP_CHECKSIG {

		return nil
	}
	return script[3:23]
}

// AddressFromScript resolves a P2PKH locking script to its base58 address.
// It returns an empty string for non-P2PKH scripts.
func AddressFromScript(script []byte) string {
	pkh := ExtractPubKeyHash(script)
	if pkh == nil {
		return ""
	}
	addr, err := btcutil.NewAddressPubKeyHash(pkh, chainParams)
	if err != nil {
		return ""
	}
	return addr.EncodeAddress()
}

// AddressToPubKeyHash decodes a base58 P2PKH address to its 20-byte hash.
func AddressToPubKeyHash(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, chainParams)
	if err != nil {
		return nil, err
	}
	pkhAddr, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok {
		return nil, ErrInvalidPubKeyHash
	}
	return pkhAddr.Hash160()[:], nil
}
