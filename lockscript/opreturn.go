package lockscript

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
)

// WrootzProtocol is the protocol marker carried as the first push of the
// wallet's OP_RETURN outputs.
const WrootzProtocol = "wrootz"

// BuildOpReturn emits an unspendable data output of the form
// OP_FALSE OP_RETURN "wrootz" <action> <data...> using minimal pushdata
// encoding for every element.
func BuildOpReturn(action string, data ...[]byte) ([]byte, error) {
	script := []byte{txscript.OP_FALSE, txscript.OP_RETURN}

	var err error
	script, err = appendPush(script, []byte(WrootzProtocol))
	if err != nil {
		return nil, err
	}
	script, err = appendPush(script, []byte(action))
	if err != nil {
		return nil, err
	}
	for _, d := range data {
		script, err = appendPush(script, d)
		if err != nil {
			return nil, err
		}
	}

	return script, nil
}

// ParseOpReturn returns the pushes of a wrootz OP_RETURN output: the action
// and any trailing data elements. Non-wrootz outputs return empty results
// and ok = false.
func ParseOpReturn(script []byte) (action string, data [][]byte, ok bool) {
	if len(script) < 2 || script[0] != txscript.OP_FALSE ||
		script[1] != txscript.OP_RETURN {

		return "", nil, false
	}

	pushes, err := parsePushes(script[2:])
	if err != nil || len(pushes) < 2 {
		return "", nil, false
	}
	if string(pushes[0]) != WrootzProtocol {
		return "", nil, false
	}

	return string(pushes[1]), pushes[2:], true
}

// appendPush appends data with the smallest possible pushdata encoding:
// a direct length byte up to 75 bytes, then OP_PUSHDATA1/2/4 as the size
// grows.
func appendPush(script, data []byte) ([]byte, error) {
	switch {
	case len(data) == 0:
		return append(script, txscript.OP_0), nil

	case len(data) == 1 && data[0] == 0x81:
		return append(script, txscript.OP_1NEGATE), nil

	case len(data) <= 75:
		script = append(script, byte(len(data)))

	case len(data) <= 0xff:
		script = append(script, txscript.OP_PUSHDATA1,
			byte(len(data)))

	case len(data) <= 0xffff:
		script = append(script, txscript.OP_PUSHDATA2)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(len(data)))
		script = append(script, buf[:]...)

	case int64(len(data)) <= 0xffffffff:
		script = append(script, txscript.OP_PUSHDATA4)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(len(data)))
		script = append(script, buf[:]...)

	default:
		return nil, ErrDataTooLarge
	}

	return append(script, data...), nil
}

// parsePushes tokenizes a script region expected to contain only data
// pushes. Opcodes that are not pushes terminate with an error.
func parsePushes(script []byte) ([][]byte, error) {
	var pushes [][]byte

	for i := 0; i < len(script); {
		op := script[i]
		i++

		var length int
		switch {
		case op == txscript.OP_0:
			pushes = append(pushes, nil)
			continue

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			pushes = append(pushes,
				[]byte{op - txscript.OP_1 + 1})
			continue

		case op == txscript.OP_1NEGATE:
			pushes = append(pushes, []byte{0x81})
			continue

		case op <= 75:
			length = int(op)

		case op == txscript.OP_PUSHDATA1:
			if i >= len(script) {
				return nil, ErrDataTooLarge
			}
			length = int(script[i])
			i++

		case op == txscript.OP_PUSHDATA2:
			if i+2 > len(script) {
				return nil, ErrDataTooLarge
			}
			length = int(binary.LittleEndian.Uint16(script[i:]))
			i += 2

		case op == txscript.OP_PUSHDATA4:
			if i+4 > len(script) {
				return nil, ErrDataTooLarge
			}
			length = int(binary.LittleEndian.Uint32(script[i:]))
			i += 4

		default:
			return nil, ErrDataTooLarge
		}

		if i+length > len(script) {
			return nil, ErrDataTooLarge
		}
		pushes = append(pushes, script[i:i+length])
		i += length
	}

	return pushes, nil
}
