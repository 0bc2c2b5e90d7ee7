package walletdb

// Basket labels partition UTXOs by role, not by ownership.
type Basket string

// The recognised baskets.
const (
	BasketDefault  Basket = "default"
	BasketOrdinals Basket = "ordinals"
	BasketIdentity Basket = "identity"
	BasketDerived  Basket = "derived"
	BasketLocks    Basket = "locks"
)

// SpendingStatus tracks a UTXO through the pending-spend state machine.
type SpendingStatus string

// The spending states. The empty status is equivalent to unspent for
// selection purposes.
const (
	StatusUnspent SpendingStatus = "unspent"
	StatusPending SpendingStatus = "pending"
	StatusSpent   SpendingStatus = "spent"
)

// TxStatus is the lifecycle state of a wallet transaction record.
type TxStatus string

// The transaction states.
const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// SpentTxidUnknown is the sentinel recorded when reconciliation knows an
// output is gone but cannot attribute the spending transaction. Downstream
// consumers must tolerate it.
const SpentTxidUnknown = "unknown"

// Account is a wallet account. Exactly one account is active at a time;
// account id 1 is the default account.
type Account struct {
	ID            int64
	Name          string
	Index         uint32
	CreatedAt     int64
	Active        bool
	EncryptedKeys []byte
}

// UTXO is a transaction output tracked by the wallet. The
// (AccountID, Txid, Vout) triple is unique.
type UTXO struct {
	ID        int64
	AccountID int64
	Txid      string
	Vout      uint32
	Satoshis  int64

	// LockingScript is the hex encoded output script.
	LockingScript string

	Address   string
	Basket    Basket
	Spendable bool
	CreatedAt int64

	SpentAt   *int64
	SpentTxid string

	SpendingStatus      SpendingStatus
	PendingSpendingTxid string
	PendingSince        *int64

	Tags []string
}

// Outpoint identifies a transaction output.
type Outpoint struct {
	Txid string
	Vout uint32
}

// Outpoint returns the outpoint of this UTXO.
func (u *UTXO) Outpoint() Outpoint {
	return Outpoint{Txid: u.Txid, Vout: u.Vout}
}

// TxRecord is a wallet-relevant transaction. The (AccountID, Txid) pair is
// unique. Amount is nil until reconstruction succeeds; positive amounts are
// received satoshis, negative amounts are sent value plus fee.
type TxRecord struct {
	ID          int64
	AccountID   int64
	Txid        string
	RawTx       string
	Description string
	CreatedAt   int64
	ConfirmedAt *int64
	BlockHeight *int64
	Status      TxStatus
	Amount      *int64
	Labels      []string
}

// Lock tracks a timelock output owned by the wallet. A lock is active while
// UnlockedAt is nil.
type Lock struct {
	ID            int64
	AccountID     int64
	UtxoID        int64
	UnlockBlock   int64
	LockBlock     *int64
	OrdinalOrigin string
	CreatedAt     int64
	UnlockedAt    *int64
	UnlockTxid    string
}

// DerivedAddress is a BRC-42 receive address. The
// (AccountID, SenderPublicKey, InvoiceNumber) triple is unique and fully
// determines the address.
type DerivedAddress struct {
	Address         string
	AccountID       int64
	SenderPublicKey string
	InvoiceNumber   string
	LastSyncedAt    *int64
}
