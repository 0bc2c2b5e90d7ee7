package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/tyler-smith/go-bip39"
)

const (
	// Bip44Purpose is the BIP-44 purpose field of the derivation path.
	Bip44Purpose = 44

	// Bip44CoinType is the BSV coin type of the derivation path.
	Bip44CoinType = 236

	// walletBranch and ordinalBranch select the external chains holding
	// spendable funds and ordinals respectively.
	walletBranch  = 1
	ordinalBranch = 2
)

var (
	// ErrInvalidMnemonic is returned when the provided mnemonic fails
	// BIP-39 validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// chainParams are the address encoding parameters. BSV shares the
	// base58 P2PKH version byte with Bitcoin mainnet.
	chainParams = &chaincfg.MainNetParams
)

// Key bundles a derived private key with its derivation path.
type Key struct {
	Priv *btcec.PrivateKey
	Path string
}

// PubKey returns the compressed public key for this key.
func (k *Key) PubKey() *btcec.PublicKey {
	return k.Priv.PubKey()
}

// Address returns the base58 P2PKH address for this key.
func (k *Key) Address() (string, error) {
	return AddressForPubKey(k.PubKey())
}

// Zero clears the private key material from memory.
func (k *Key) Zero() {
	if k.Priv != nil {
		k.Priv.Zero()
		k.Priv = nil
	}
}

// AccountKeys holds the three principal keys of an account.
type AccountKeys struct {
	// Wallet holds spendable funds: m/44'/236'/account'/1/0.
	Wallet *Key

	// Ordinal holds 1-sat ordinal outputs: m/44'/236'/account'/2/0.
	Ordinal *Key

	// Identity is the identity root, shared by every account of a given
	// mnemonic: m/0'/236'/0'/0/0.
	Identity *Key
}

// Zero clears all private key material of the account.
func (a *AccountKeys) Zero() {
	a.Wallet.Zero()
	a.Ordinal.Zero()
	a.Identity.Zero()
}

// DeriveAccount derives the wallet, ordinal and identity keys for the given
// account index from a BIP-39 mnemonic.
func DeriveAccount(mnemonic, password string,
	accountIndex uint32) (*AccountKeys, error) {

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, password)
	master, err := hdkeychain.NewMaster(seed, chainParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	defer master.Zero()

	wallet, err := derivePath(master, []uint32{
		hardened(Bip44Purpose), hardened(Bip44CoinType),
		hardened(accountIndex), walletBranch, 0,
	})
	if err != nil {
		return nil, err
	}

	ordinal, err := derivePath(master, []uint32{
		hardened(Bip44Purpose), hardened(Bip44CoinType),
		hardened(accountIndex), ordinalBranch, 0,
	})
	if err != nil {
		return nil, err
	}

	identity, err := derivePath(master, []uint32{
		hardened(0), hardened(Bip44CoinType), hardened(0), 0, 0,
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Derived account keys for index %d", accountIndex)

	return &AccountKeys{
		Wallet: &Key{
			Priv: wallet,
			Path: fmt.Sprintf("m/44'/236'/%d'/1/0", accountIndex),
		},
		Ordinal: &Key{
			Priv: ordinal,
			Path: fmt.Sprintf("m/44'/236'/%d'/2/0", accountIndex),
		},
		Identity: &Key{
			Priv: identity,
			Path: "m/0'/236'/0'/0/0",
		},
	}, nil
}

// AddressForPubKey returns the base58 P2PKH address of a compressed public
// key.
func AddressForPubKey(pub *btcec.PublicKey) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), chainParams,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// PubKeyHash returns the hash160 of a compressed public key, the form that
// appears in P2PKH and timelock outputs.
func PubKeyHash(pub *btcec.PublicKey) []byte {
	return btcutil.Hash160(pub.SerializeCompressed())
}

func derivePath(master *hdkeychain.ExtendedKey,
	path []uint32) (*btcec.PrivateKey, error) {

	key := master
	for _, child := range path {
		var err error
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", child,
				err)
		}
	}
	return key.ECPrivKey()
}

func hardened(i uint32) uint32 {
	return hdkeychain.HardenedKeyStart + i
}
