package txbuilder

import (
	"context"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

// TransferOrdinalRequest describes moving a 1-satoshi ordinal output to a
// new owner.
type TransferOrdinalRequest struct {
	AccountID int64

	// Outpoint is the ordinal being transferred.
	Outpoint walletdb.Outpoint

	// ToAddress receives the ordinal.
	ToAddress string

	// OrdinalKey signs the ordinal input; FundingKey signs the fee
	// inputs and receives change.
	OrdinalKey *btcec.PrivateKey
	FundingKey *btcec.PrivateKey
}

// TransferOrdinal builds, signs and broadcasts an ordinal transfer: the
// ordinal travels as input 0 to output 0, funding inputs pay the fee.
func (b *Builder) TransferOrdinal(ctx context.Context,
	req *TransferOrdinalRequest) (*Result, error) {

	release, err := b.cfg.Mutex.Acquire(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	ordinal, err := b.cfg.DB.GetUTXO(ctx, req.AccountID, req.Outpoint)
	if err != nil {
		return nil, err
	}
	if ordinal == nil {
		return nil, ErrInvalidScript
	}

	rate := b.cfg.Fees.Rate(ctx)
	spendable, err := b.cfg.DB.GetSpendableUTXOs(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	// Funding never selects from the ordinals basket.
	var funding []*walletdb.UTXO
	for _, u := range spendable {
		if u.Basket != walletdb.BasketOrdinals {
			funding = append(funding, u)
		}
	}
	sort.Slice(funding, func(i, j int) bool {
		return funding[i].Satoshis < funding[j].Satoshis
	})

	// The ordinal input and output cancel out value-wise; funding
	// covers the fee of the whole transaction.
	var selected []*walletdb.UTXO
	var total, fee int64
	for n, u := range funding {
		total += u.Satoshis
		fee = chainfee.CalculateTxFee(n+2, 2, 0, rate)
		if total >= fee {
			selected = funding[:n+1]
			break
		}
	}
	if selected == nil {
		return nil, &ErrInsufficientFunds{
			Available: total,
			Needed:    chainfee.CalculateTxFee(len(funding)+2, 2,
				0, rate),
		}
	}
	change := total - fee

	recipientScript, err := lockscript.PayToAddress(req.ToAddress)
	if err != nil {
		return nil, err
	}
	changeAddr, err := keychain.AddressForPubKey(
		req.FundingKey.PubKey())
	if err != nil {
		return nil, err
	}
	changeScript, err := lockscript.PayToAddress(changeAddr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	if err := addInputs(tx, append([]*walletdb.UTXO{ordinal},
		selected...)); err != nil {

		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(ordinal.Satoshis, recipientScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	// The ordinal input signs with the ordinal key, funding inputs with
	// the funding key.
	ordinalScript, err := prevScript(ordinal)
	if err != nil {
		return nil, err
	}
	if err := signP2PKHInput(tx, 0, ordinalScript, ordinal.Satoshis,
		req.OrdinalKey); err != nil {

		return nil, err
	}
	for i, u := range selected {
		script, err := prevScript(u)
		if err != nil {
			return nil, err
		}
		if err := signP2PKHInput(tx, i+1, script, u.Satoshis,
			req.FundingKey); err != nil {

			return nil, err
		}
	}

	inputs := append([]walletdb.Outpoint{req.Outpoint},
		outpointsOf(selected)...)

	result, err := b.broadcastAndRecord(ctx, broadcastParams{
		accountID: req.AccountID,
		tx:        tx,
		inputs:    inputs,
		fee:       fee,
		amount:    -(ordinal.Satoshis + fee),
		labels:    []string{"ordinal", "transfer"},
	})
	if err != nil {
		return nil, err
	}

	b.recordChange(ctx, req.AccountID, tx, result.Txid, changeAddr,
		changeScript)
	return result, nil
}
