package lockscript

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// BSV re-enabled opcode values that the btcd constant set only knows under
// their pre-fork names.
const (
	opCat     = 0x7e
	opSplit   = 0x7f
	opNum2Bin = 0x80
	opBin2Num = 0x81
	opMul     = 0x95
)

// The timelock locking script is a fixed template with two variable fields:
// the receiver's 20-byte pubkey hash and the little-endian minimally encoded
// unlock height. The surrounding fragments implement the OP_PUSH_TX
// validator: the unlocking script pushes the spending transaction's BIP-143
// sighash preimage as its last operand, the contract re-hashes it, verifies
// it against the signature check, extracts nLockTime from the trailing bytes
// and requires it to reach the unlock height.
var (
	// lockScriptPrefix precedes the receiver hash push.
	lockScriptPrefix = []byte{
		txscript.OP_NOP,
	}

	// lockScriptMid sits between the receiver hash push and the unlock
	// height push.
	lockScriptMid = []byte{
		txscript.OP_TOALTSTACK,
	}

	// lockScriptSuffix is the validator body following the unlock height
	// push.
	lockScriptSuffix = []byte{
		txscript.OP_TOALTSTACK,

		// Verify the pushed preimage binds the spending transaction:
		// hash it and check the signature over it.
		txscript.OP_DUP,
		txscript.OP_HASH256,
		txscript.OP_ROT,
		txscript.OP_ROT,
		txscript.OP_3,
		txscript.OP_ROLL,
		txscript.OP_DROP,

		// Split nLockTime (the 8 trailing bytes hold locktime and the
		// sighash type) out of the preimage.
		txscript.OP_SIZE,
		txscript.OP_8,
		txscript.OP_SUB,
		opSplit,
		txscript.OP_NIP,
		txscript.OP_4,
		opSplit,
		txscript.OP_DROP,
		opBin2Num,

		// nLockTime >= unlock height.
		txscript.OP_FROMALTSTACK,
		txscript.OP_GREATERTHANOREQUAL,
		txscript.OP_VERIFY,

		// Standard key check against the stashed receiver hash.
		txscript.OP_DUP,
		txscript.OP_HASH160,
		txscript.OP_FROMALTSTACK,
		txscript.OP_EQUALVERIFY,
		txscript.OP_CHECKSIG,
	}
)

// Timelock describes a parsed timelock output.
type Timelock struct {
	// PKH is the 20-byte pubkey hash of the receiver allowed to unlock.
	PKH []byte

	// UnlockBlock is the block height at which the output becomes
	// spendable.
	UnlockBlock int64
}

// BuildTimelock assembles the locking script paying to pkh, spendable at
// unlockBlock.
func BuildTimelock(pkh []byte, unlockBlock int64) ([]byte, error) {
	if len(pkh) != 20 {
		return nil, ErrInvalidPubKeyHash
	}
	if unlockBlock <= 0 {
		return nil, ErrInvalidUnlockBlock
	}

	height := scriptNumBytes(unlockBlock)

	script := make([]byte, 0, timelockSize(len(height)))
	script = append(script, lockScriptPrefix...)
	script = append(script, byte(len(pkh)))
	script = append(script, pkh...)
	script = append(script, lockScriptMid...)
	script = append(script, byte(len(height)))
	script = append(script, height...)
	script = append(script, lockScriptSuffix...)

	return script, nil
}

// ParseTimelock matches scriptBytes against the timelock template and
// returns the embedded fields. It returns nil on any mismatch.
func ParseTimelock(script []byte) *Timelock {
	rest := script
	if !bytes.HasPrefix(rest, lockScriptPrefix) {
		return nil
	}
	rest = rest[len(lockScriptPrefix):]

	if len(rest) < 21 || rest[0] != 20 {
		return nil
	}
	pkh := rest[1:21]
	rest = rest[21:]

	if !bytes.HasPrefix(rest, lockScriptMid) {
		return nil
	}
	rest = rest[len(lockScriptMid):]

	if len(rest) == 0 {
		return nil
	}
	heightLen := int(rest[0])
	// Heights are direct pushes of at most five bytes; anything else is
	// not this template.
	if heightLen == 0 || heightLen > 5 || len(rest) < 1+heightLen {
		return nil
	}
	height, err := parseScriptNum(rest[1 : 1+heightLen])
	if err != nil || height <= 0 {
		return nil
	}
	rest = rest[1+heightLen:]

	if !bytes.Equal(rest, lockScriptSuffix) {
		return nil
	}

	out := &Timelock{PKH: make([]byte, 20), UnlockBlock: height}
	copy(out.PKH, pkh)
	return out
}

// EstimateTimelockSize returns the byte length of the locking script for the
// given unlock height, used by the fee estimator before the script is built.
func EstimateTimelockSize(unlockBlock int64) int {
	return timelockSize(len(scriptNumBytes(unlockBlock)))
}

func timelockSize(heightLen int) int {
	return len(lockScriptPrefix) + 1 + 20 + len(lockScriptMid) +
		1 + heightLen + len(lockScriptSuffix)
}
