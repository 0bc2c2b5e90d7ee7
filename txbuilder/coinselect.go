package txbuilder

import (
	"sort"

	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/walletdb"
)

// selectForAmount picks UTXOs ascending by value until they cover amount
// plus the fee of a transaction with two outputs, re-estimating the fee as
// inputs are added. It returns the selection, the fee and the change.
func selectForAmount(utxos []*walletdb.UTXO, amount int64,
	extraBytes int, rate float64) ([]*walletdb.UTXO, int64, int64,
	error) {

	sorted := make([]*walletdb.UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Satoshis < sorted[j].Satoshis
	})

	var total int64
	for n, u := range sorted {
		total += u.Satoshis

		fee := chainfee.CalculateTxFee(n+1, 2, extraBytes, rate)
		if total >= amount+fee {
			change := total - amount - fee
			return sorted[:n+1], fee, change, nil
		}
	}

	needed := amount +
		chainfee.CalculateTxFee(len(sorted), 2, extraBytes, rate)
	return nil, 0, 0, &ErrInsufficientFunds{
		Available: total,
		Needed:    needed,
	}
}

// outpointsOf projects a selection onto its outpoints.
func outpointsOf(utxos []*walletdb.UTXO) []walletdb.Outpoint {
	out := make([]walletdb.Outpoint, len(utxos))
	for i, u := range utxos {
		out[i] = u.Outpoint()
	}
	return out
}

// totalValue sums a selection.
func totalValue(utxos []*walletdb.UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Satoshis
	}
	return total
}
