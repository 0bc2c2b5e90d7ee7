package keychain

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

func TestDeriveAccountDeterministic(t *testing.T) {
	first, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)
	second, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	require.Equal(t, first.Wallet.Priv.Serialize(),
		second.Wallet.Priv.Serialize())
	require.Equal(t, first.Ordinal.Priv.Serialize(),
		second.Ordinal.Priv.Serialize())
	require.Equal(t, first.Identity.Priv.Serialize(),
		second.Identity.Priv.Serialize())
}

func TestDeriveAccountDistinctKeys(t *testing.T) {
	keys, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	require.NotEqual(t, keys.Wallet.Priv.Serialize(),
		keys.Ordinal.Priv.Serialize())
	require.NotEqual(t, keys.Wallet.Priv.Serialize(),
		keys.Identity.Priv.Serialize())

	require.Equal(t, "m/44'/236'/0'/1/0", keys.Wallet.Path)
	require.Equal(t, "m/44'/236'/0'/2/0", keys.Ordinal.Path)
	require.Equal(t, "m/0'/236'/0'/0/0", keys.Identity.Path)
}

func TestDeriveAccountIndexesDiffer(t *testing.T) {
	acct0, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)
	acct1, err := DeriveAccount(testMnemonic, "", 1)
	require.NoError(t, err)

	require.NotEqual(t, acct0.Wallet.Priv.Serialize(),
		acct1.Wallet.Priv.Serialize())

	// The identity root is shared across accounts of one mnemonic.
	require.Equal(t, acct0.Identity.Priv.Serialize(),
		acct1.Identity.Priv.Serialize())
}

func TestDeriveAccountPassword(t *testing.T) {
	plain, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)
	passworded, err := DeriveAccount(testMnemonic, "hunter2", 0)
	require.NoError(t, err)

	require.NotEqual(t, plain.Wallet.Priv.Serialize(),
		passworded.Wallet.Priv.Serialize())
}

func TestDeriveAccountInvalidMnemonic(t *testing.T) {
	_, err := DeriveAccount("definitely not a mnemonic", "", 0)
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestAddressesDecode(t *testing.T) {
	keys, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	for _, key := range []*Key{keys.Wallet, keys.Ordinal, keys.Identity} {
		addr, err := key.Address()
		require.NoError(t, err)
		decoded, err := btcutil.DecodeAddress(
			addr, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		require.Equal(t, addr, decoded.EncodeAddress())
	}
}

func TestDeriveChild(t *testing.T) {
	receiver, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)
	sender, err := DeriveAccount(testMnemonic, "", 1)
	require.NoError(t, err)

	child1, err := DeriveChild(
		receiver.Wallet.Priv, sender.Wallet.PubKey(), "invoice-1",
	)
	require.NoError(t, err)

	child1Again, err := DeriveChild(
		receiver.Wallet.Priv, sender.Wallet.PubKey(), "invoice-1",
	)
	require.NoError(t, err)
	require.Equal(t, child1.Serialize(), child1Again.Serialize())

	child2, err := DeriveChild(
		receiver.Wallet.Priv, sender.Wallet.PubKey(), "invoice-2",
	)
	require.NoError(t, err)
	require.NotEqual(t, child1.Serialize(), child2.Serialize())

	// The child must differ from the receiver key itself.
	require.NotEqual(t, receiver.Wallet.Priv.Serialize(),
		child1.Serialize())
}

// TestDeriveChildPubMatches asserts the sender-side public derivation lands
// on the same key the receiver derives privately.
func TestDeriveChildPubMatches(t *testing.T) {
	receiver, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)
	sender, err := DeriveAccount(testMnemonic, "", 1)
	require.NoError(t, err)

	const invoice = "2-payment derivation-1"

	childPriv, err := DeriveChild(
		receiver.Wallet.Priv, sender.Wallet.PubKey(), invoice,
	)
	require.NoError(t, err)

	childPub, err := DeriveChildPub(
		sender.Wallet.Priv, receiver.Wallet.PubKey(), invoice,
	)
	require.NoError(t, err)

	require.Equal(t, childPriv.PubKey().SerializeCompressed(),
		childPub.SerializeCompressed())
}

func TestDeriveTaggedKey(t *testing.T) {
	keys, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	tagged, err := DeriveTaggedKey(keys.Wallet.Priv, KeyTag{
		Label: "todo", ID: "list",
	})
	require.NoError(t, err)
	require.NotEqual(t, keys.Wallet.Priv.Serialize(),
		tagged.Priv.Serialize())

	taggedAgain, err := DeriveTaggedKey(keys.Wallet.Priv, KeyTag{
		Label: "todo", ID: "list",
	})
	require.NoError(t, err)
	require.Equal(t, tagged.Priv.Serialize(),
		taggedAgain.Priv.Serialize())

	other, err := DeriveTaggedKey(keys.Wallet.Priv, KeyTag{
		Label: "todo", ID: "list", Domain: "example.com",
	})
	require.NoError(t, err)
	require.NotEqual(t, tagged.Priv.Serialize(), other.Priv.Serialize())
}

// TestKnownTaggedKey asserts the identity tag bypasses derivation.
func TestKnownTaggedKey(t *testing.T) {
	keys, err := DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	tagged, err := DeriveTaggedKey(keys.Identity.Priv, KeyTag{
		Label: "yours", ID: "identity",
	})
	require.NoError(t, err)
	require.Equal(t, keys.Identity.Priv.Serialize(),
		tagged.Priv.Serialize())
	require.Equal(t, "root", tagged.Path)
}

func TestInvoiceNumbers(t *testing.T) {
	today := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	first := InvoiceNumbers(today)
	second := InvoiceNumbers(today)
	require.Equal(t, first, second)

	// 30 days x 3 suffixes, 21 numerics, 2 protocols x 3 ids.
	require.Len(t, first, 30*3+21+2*3)

	// No duplicates.
	seen := make(map[string]struct{}, len(first))
	for _, inv := range first {
		_, dup := seen[inv]
		require.False(t, dup, "duplicate invoice number %q", inv)
		seen[inv] = struct{}{}
	}

	// Numeric candidates are present verbatim.
	require.Contains(t, first, "0")
	require.Contains(t, first, "20")

	// Dated candidates carry the base64 of today's date.
	require.True(t, strings.HasPrefix(first[0], "MjAyNC0wMy0xNQ=="),
		"first dated candidate %q not derived from today", first[0])

	// A different date yields a different dated window.
	shifted := InvoiceNumbers(today.AddDate(0, 0, -1))
	require.NotEqual(t, first[0], shifted[0])
}
