package txbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Sighash flags. BSV transactions sign with SIGHASH_ALL combined with the
// fork id bit.
const (
	SigHashAll       = 0x01
	SigHashForkID    = 0x40
	SigHashAllForkID = SigHashAll | SigHashForkID
)

// sighashPreimage serialises the BIP-143 preimage of input idx signing with
// SIGHASH_ALL|FORKID: the digest covers every input outpoint and sequence,
// every output, the subscript and the value of the spent output. The
// OP_PUSH_TX unlock pushes this preimage as its final operand.
func sighashPreimage(tx *wire.MsgTx, idx int, subScript []byte,
	value int64) []byte {

	var buf bytes.Buffer

	writeUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeUint64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}

	// nVersion.
	writeUint32(uint32(tx.Version))

	// hashPrevouts.
	var prevouts bytes.Buffer
	for _, in := range tx.TxIn {
		prevouts.Write(in.PreviousOutPoint.Hash[:])
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:],
			in.PreviousOutPoint.Index)
		prevouts.Write(b[:])
	}
	buf.Write(chainhash.DoubleHashB(prevouts.Bytes()))

	// hashSequence.
	var sequences bytes.Buffer
	for _, in := range tx.TxIn {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], in.Sequence)
		sequences.Write(b[:])
	}
	buf.Write(chainhash.DoubleHashB(sequences.Bytes()))

	// The outpoint being signed.
	in := tx.TxIn[idx]
	buf.Write(in.PreviousOutPoint.Hash[:])
	writeUint32(in.PreviousOutPoint.Index)

	// The subscript: the locking script of the output being spent,
	// length prefixed.
	wire.WriteVarBytes(&buf, 0, subScript)

	// The value of the output being spent and this input's sequence.
	writeUint64(uint64(value))
	writeUint32(in.Sequence)

	// hashOutputs.
	var outputs bytes.Buffer
	for _, out := range tx.TxOut {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(out.Value))
		outputs.Write(b[:])
		wire.WriteVarBytes(&outputs, 0, out.PkScript)
	}
	buf.Write(chainhash.DoubleHashB(outputs.Bytes()))

	// nLockTime and the sighash type.
	writeUint32(tx.LockTime)
	writeUint32(SigHashAllForkID)

	return buf.Bytes()
}

// sighashDigest is the 32-byte digest signatures commit to.
func sighashDigest(preimage []byte) []byte {
	return chainhash.DoubleHashB(preimage)
}
