package chainsync

import (
	"context"
	"encoding/hex"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

// syncAddress reconciles one address against the chain and reports whether
// the API returned a usable result. API failures skip the address entirely:
// no UTXO is ever marked spent on a failed fetch.
func (s *Syncer) syncAddress(ctx context.Context, accountID int64,
	address string, basket walletdb.Basket) bool {

	if address == "" {
		return false
	}

	chainUtxos, err := s.cfg.Client.Utxos(ctx, address)
	if err != nil {
		log.Warnf("Skipping %s: UTXO fetch failed: %v", address, err)
		return false
	}

	local, err := s.cfg.DB.GetUTXOsByAddress(ctx, accountID, address)
	if err != nil {
		log.Errorf("Skipping %s: local read failed: %v", address,
			err)
		return false
	}

	var localUnspent []*walletdb.UTXO
	for _, u := range local {
		if u.SpentAt == nil {
			localUnspent = append(localUnspent, u)
		}
	}

	// An empty result against a non-empty local view is ambiguous: the
	// funds may have been swept, or the API may be lying through an
	// outage. History disambiguates; when it is empty or failing too,
	// the address is skipped untouched.
	if len(chainUtxos) == 0 && len(localUnspent) > 0 {
		history, err := s.cfg.Client.History(ctx, address)
		if err != nil || len(history) == 0 {
			log.Warnf("Suspected outage for %s, skipping "+
				"(history err=%v, entries=%d)", address, err,
				len(history))
			return false
		}
	}

	chainSet := make(map[walletdb.Outpoint]struct{}, len(chainUtxos))
	for _, cu := range chainUtxos {
		chainSet[walletdb.Outpoint{
			Txid: cu.Txid, Vout: cu.Vout,
		}] = struct{}{}

		if err := s.upsertChainUTXO(ctx, accountID, address, basket,
			cu); err != nil {

			log.Errorf("Unable to store %s:%d: %v", cu.Txid,
				cu.Vout, err)
		}
	}

	pending, err := s.cfg.DB.PendingTxids(ctx, accountID)
	if err != nil {
		log.Errorf("Unable to load pending txids: %v", err)
		pending = nil
	}

	for _, u := range localUnspent {
		if _, onChain := chainSet[u.Outpoint()]; onChain {
			continue
		}

		// The creating transaction may simply not have propagated
		// yet; our own pending broadcasts are never declared spent.
		if _, isPending := pending[u.Txid]; isPending {
			continue
		}

		// Rows reserved by an in-flight broadcast belong to the
		// spender, not to reconciliation.
		if u.SpendingStatus == walletdb.StatusPending {
			continue
		}

		log.Debugf("Output %s:%d gone from chain view, marking "+
			"spent", u.Txid, u.Vout)
		err := s.cfg.DB.MarkUTXOSpent(ctx, accountID, u.Outpoint(),
			walletdb.SpentTxidUnknown)
		if err != nil {
			log.Errorf("Unable to mark %s:%d spent: %v", u.Txid,
				u.Vout, err)
		}
	}

	if height, err := s.cfg.Client.BlockHeight(ctx); err == nil {
		err := s.cfg.DB.SetLastSyncedHeight(ctx, address, height)
		if err != nil {
			log.Errorf("Unable to record sync height for %s: %v",
				address, err)
		}
	}

	return true
}

// upsertChainUTXO stores one chain-reported output under the caller's
// basket. One-satoshi outputs in the ordinals basket are tagged as
// ordinals.
func (s *Syncer) upsertChainUTXO(ctx context.Context, accountID int64,
	address string, basket walletdb.Basket,
	cu chainclient.UTXOResult) error {

	var tags []string
	if basket == walletdb.BasketOrdinals && cu.Satoshis == 1 {
		tags = []string{"ordinal"}
	}

	var scriptHex string
	if script, err := lockscript.PayToAddress(address); err == nil {
		scriptHex = hex.EncodeToString(script)
	}

	return s.cfg.DB.AddUTXO(ctx, &walletdb.UTXO{
		AccountID:     accountID,
		Txid:          cu.Txid,
		Vout:          cu.Vout,
		Satoshis:      cu.Satoshis,
		LockingScript: scriptHex,
		Address:       address,
		Basket:        basket,
		Spendable:     true,
		Tags:          tags,
	})
}
