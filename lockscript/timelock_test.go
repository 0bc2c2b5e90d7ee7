package lockscript

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPKH = bytes.Repeat([]byte{0xab}, 20)

// TestTimelockRoundTrip asserts parse(build(pkh, n)) recovers the fields
// across the whole supported height range.
func TestTimelockRoundTrip(t *testing.T) {
	heights := []int64{
		1, 2, 16, 17, 127, 128, 255, 256, 32767, 32768, 65535, 65536,
		500000, 800000, 1<<23 - 1, 1 << 23, 1<<31 - 1,
	}

	for _, height := range heights {
		script, err := BuildTimelock(testPKH, height)
		require.NoError(t, err, "height %d", height)

		parsed := ParseTimelock(script)
		require.NotNil(t, parsed, "height %d", height)
		require.Equal(t, testPKH, parsed.PKH, "height %d", height)
		require.Equal(t, height, parsed.UnlockBlock, "height %d",
			height)

		require.Equal(t, EstimateTimelockSize(height), len(script),
			"height %d", height)
	}
}

// TestTimelockZeroPKH exercises the all-zero hash from the end-to-end
// scenario table.
func TestTimelockZeroPKH(t *testing.T) {
	zeroPKH := make([]byte, 20)
	script, err := BuildTimelock(zeroPKH, 800000)
	require.NoError(t, err)

	parsed := ParseTimelock(script)
	require.NotNil(t, parsed)
	require.Equal(t, zeroPKH, parsed.PKH)
	require.Equal(t, int64(800000), parsed.UnlockBlock)
	require.Equal(t, EstimateTimelockSize(800000), len(script))
}

func TestBuildTimelockRejects(t *testing.T) {
	_, err := BuildTimelock([]byte{0x01}, 1000)
	require.ErrorIs(t, err, ErrInvalidPubKeyHash)

	_, err = BuildTimelock(testPKH, 0)
	require.ErrorIs(t, err, ErrInvalidUnlockBlock)

	_, err = BuildTimelock(testPKH, -5)
	require.ErrorIs(t, err, ErrInvalidUnlockBlock)
}

// TestParseTimelockMismatch asserts that any deviation from the template
// yields nil rather than a partial result.
func TestParseTimelockMismatch(t *testing.T) {
	script, err := BuildTimelock(testPKH, 800000)
	require.NoError(t, err)

	require.Nil(t, ParseTimelock(nil))
	require.Nil(t, ParseTimelock(script[:len(script)-1]))
	require.Nil(t, ParseTimelock(append([]byte{0x51}, script...)))

	p2pkh, err := PayToPubKeyHash(testPKH)
	require.NoError(t, err)
	require.Nil(t, ParseTimelock(p2pkh))

	// Flip one byte at every position; no mutation may parse as the
	// original height and hash.
	for i := range script {
		mutated := make([]byte, len(script))
		copy(mutated, script)
		mutated[i] ^= 0xff

		parsed := ParseTimelock(mutated)
		if parsed != nil {
			require.False(t, bytes.Equal(parsed.PKH, testPKH) &&
				parsed.UnlockBlock == 800000,
				"mutation at %d parsed unchanged", i)
		}
	}
}

func TestScriptNumRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 127, 128, 255, 256, 65535, 65536,
		800000, 1<<31 - 1} {

		decoded, err := parseScriptNum(scriptNumBytes(n))
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, n, decoded, "n=%d", n)
	}
}

func TestScriptNumMinimal(t *testing.T) {
	// 0x8000 encodes 128: the top byte exists only to carry the sign
	// bit and is minimal.
	v, err := parseScriptNum([]byte{0x80, 0x00})
	require.NoError(t, err)
	require.Equal(t, int64(128), v)

	// A redundant zero byte is rejected.
	_, err = parseScriptNum([]byte{0x01, 0x00})
	require.ErrorIs(t, err, errNonMinimalNum)

	// Lone zero byte is the non-minimal form of empty.
	_, err = parseScriptNum([]byte{0x00})
	require.ErrorIs(t, err, errNonMinimalNum)
}
