package keychain

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrInvalidChildKey is returned in the astronomically unlikely case the
// BRC-42 offset lands the child key on zero.
var ErrInvalidChildKey = errors.New("derived child key is invalid")

// DeriveChild implements BRC-42 key derivation on the receiver side: the
// HMAC-SHA256 of the invoice number keyed by the compressed ECDH shared
// point is added to the receiver key mod n.
func DeriveChild(receiverPriv *btcec.PrivateKey, senderPub *btcec.PublicKey,
	invoiceNumber string) (*btcec.PrivateKey, error) {

	offset, err := invoiceOffset(receiverPriv, senderPub, invoiceNumber)
	if err != nil {
		return nil, err
	}

	offset.Add(&receiverPriv.Key)
	if offset.IsZero() {
		return nil, ErrInvalidChildKey
	}

	return secp256k1.NewPrivateKey(offset), nil
}

// DeriveChildPub derives the public key of the BRC-42 child a counterparty
// will pay to, without access to the receiver's private key. The sender
// computes the same shared secret from its own private key and the
// receiver's public key.
func DeriveChildPub(senderPriv *btcec.PrivateKey,
	receiverPub *btcec.PublicKey,
	invoiceNumber string) (*btcec.PublicKey, error) {

	offset, err := invoiceOffset(senderPriv, receiverPub, invoiceNumber)
	if err != nil {
		return nil, err
	}

	// Child pubkey is receiverPub + offset*G.
	var offsetPoint, receiverPoint, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(offset, &offsetPoint)
	receiverPub.AsJacobian(&receiverPoint)
	secp256k1.AddNonConst(&offsetPoint, &receiverPoint, &sum)
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, ErrInvalidChildKey
	}
	sum.ToAffine()

	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// invoiceOffset computes the shared BRC-42 scalar offset for an invoice
// number: HMAC-SHA256 over the invoice string keyed by the compressed ECDH
// point, reduced mod n.
func invoiceOffset(priv *btcec.PrivateKey, pub *btcec.PublicKey,
	invoiceNumber string) (*secp256k1.ModNScalar, error) {

	shared, err := sharedPoint(priv, pub)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(invoiceNumber))

	var offset secp256k1.ModNScalar
	offset.SetByteSlice(mac.Sum(nil))
	return &offset, nil
}

// sharedPoint returns the compressed serialisation of priv*pub.
func sharedPoint(priv *btcec.PrivateKey,
	pub *btcec.PublicKey) ([]byte, error) {

	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	if result.Z.IsZero() {
		return nil, ErrInvalidChildKey
	}
	result.ToAffine()

	return secp256k1.NewPublicKey(&result.X, &result.Y).
		SerializeCompressed(), nil
}

// KeyTag identifies an application-scoped key. Label and ID follow BRC-43;
// Domain optionally namespaces third-party apps.
type KeyTag struct {
	Label  string
	ID     string
	Domain string
}

// invoiceNumber renders the tag as a BRC-43 invoice number at security
// level 2.
func (t KeyTag) invoiceNumber() string {
	label := t.Label
	if t.Domain != "" {
		label = t.Domain + "-" + label
	}
	return fmt.Sprintf("2-%s-%s", label, t.ID)
}

// TaggedKey is a deterministic per-app key derived from a root key.
type TaggedKey struct {
	Priv    *btcec.PrivateKey
	Pub     *btcec.PublicKey
	Address string
	Path    string
}

// knownTaggedKeys lists tags that bypass derivation and resolve directly to
// the wallet's principal keys.
var knownTaggedKeys = map[string]struct{}{
	"yours/identity": {},
}

// DeriveTaggedKey derives an isolated key for the given tag from the root
// key using the BRC-42 construction with the root's own public key as the
// counterparty. Known tags short-circuit to the root key itself.
func DeriveTaggedKey(root *btcec.PrivateKey,
	tag KeyTag) (*TaggedKey, error) {

	if _, ok := knownTaggedKeys[tag.Label+"/"+tag.ID]; ok {
		addr, err := AddressForPubKey(root.PubKey())
		if err != nil {
			return nil, err
		}
		return &TaggedKey{
			Priv:    root,
			Pub:     root.PubKey(),
			Address: addr,
			Path:    "root",
		}, nil
	}

	invoice := tag.invoiceNumber()
	child, err := DeriveChild(root, root.PubKey(), invoice)
	if err != nil {
		return nil, err
	}

	addr, err := AddressForPubKey(child.PubKey())
	if err != nil {
		return nil, err
	}

	log.Tracef("Derived tagged key for invoice %q", invoice)

	return &TaggedKey{
		Priv:    child,
		Pub:     child.PubKey(),
		Address: addr,
		Path:    "tagged/" + invoice,
	}, nil
}
