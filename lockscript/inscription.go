package lockscript

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// ordMarker tags the standard inscription envelope.
var ordMarker = []byte("ord")

// Inscription describes a recognised inscription envelope.
type Inscription struct {
	// ContentType is the MIME type declared by the envelope.
	ContentType string

	// PKH is the 20-byte hash of the P2PKH lock that follows the
	// envelope.
	PKH []byte
}

// ParseInscription recognises the standard ord envelope
//
//	OP_FALSE OP_IF "ord" OP_1 <content-type> OP_0 <data> OP_ENDIF <p2pkh>
//
// and returns the content type and trailing pubkey hash. Any other layout,
// including non-standard envelope variants, returns nil.
func ParseInscription(script []byte) *Inscription {
	if len(script) < 2 || script[0] != txscript.OP_FALSE ||
		script[1] != txscript.OP_IF {

		return nil
	}

	i := 2

	marker, next, ok := readPush(script, i)
	if !ok || !bytes.Equal(marker, ordMarker) {
		return nil
	}
	i = next

	if i >= len(script) || script[i] != txscript.OP_1 {
		return nil
	}
	i++

	contentType, next, ok := readPush(script, i)
	if !ok {
		return nil
	}
	i = next

	if i >= len(script) || script[i] != txscript.OP_0 {
		return nil
	}
	i++

	// The payload push; its contents are opaque here.
	_, next, ok = readPush(script, i)
	if !ok {
		return nil
	}
	i = next

	if i >= len(script) || script[i] != txscript.OP_ENDIF {
		return nil
	}
	i++

	pkh := ExtractPubKeyHash(script[i:])
	if pkh == nil {
		return nil
	}

	out := &Inscription{
		ContentType: string(contentType),
		PKH:         make([]byte, 20),
	}
	copy(out.PKH, pkh)
	return out
}

// BuildInscription assembles a standard ord envelope followed by a P2PKH
// lock to pkh.
func BuildInscription(contentType string, payload, pkh []byte) ([]byte,
	error) {

	if len(pkh) != 20 {
		return nil, ErrInvalidPubKeyHash
	}

	script := []byte{txscript.OP_FALSE, txscript.OP_IF}

	var err error
	script, err = appendPush(script, ordMarker)
	if err != nil {
		return nil, err
	}
	script = append(script, txscript.OP_1)
	script, err = appendPush(script, []byte(contentType))
	if err != nil {
		return nil, err
	}
	script = append(script, txscript.OP_0)
	script, err = appendPush(script, payload)
	if err != nil {
		return nil, err
	}
	script = append(script, txscript.OP_ENDIF)

	p2pkh, err := PayToPubKeyHash(pkh)
	if err != nil {
		return nil, err
	}
	return append(script, p2pkh...), nil
}

// readPush reads a single direct or OP_PUSHDATA push starting at offset i,
// returning the data and the offset of the following opcode.
func readPush(script []byte, i int) ([]byte, int, bool) {
	if i >= len(script) {
		return nil, 0, false
	}

	op := script[i]
	i++

	var length int
	switch {
	case op == txscript.OP_0:
		length = 0

	case op <= 75:
		length = int(op)

	case op == txscript.OP_PUSHDATA1:
		if i >= len(script) {
			return nil, 0, false
		}
		length = int(script[i])
		i++

	case op == txscript.OP_PUSHDATA2:
		if i+2 > len(script) {
			return nil, 0, false
		}
		length = int(script[i]) | int(script[i+1])<<8
		i += 2

	default:
		return nil, 0, false
	}

	if i+length > len(script) {
		return nil, 0, false
	}
	return script[i : i+length], i + length, true
}
