package chainsync

import (
	"context"
	"encoding/hex"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

// backfillAmounts reconstructs the signed amount of transactions whose
// amount is still unknown, refetching parent transactions through the
// per-sync cache.
func (s *Syncer) backfillAmounts(ctx context.Context, cache *txDetailCache,
	params Params, derived []*walletdb.DerivedAddress) error {

	records, err := s.cfg.DB.TransactionsWithUnknownAmount(ctx,
		params.AccountID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	addrSet := s.walletAddressSet(params, derived)

	for _, rec := range records {
		if err := ctxErr(ctx); err != nil {
			return err
		}

		detail, err := cache.Get(ctx, rec.Txid)
		if err != nil {
			log.Debugf("Amount backfill for %s skipped: %v",
				rec.Txid, err)
			continue
		}

		amount, ok := s.calculateTxAmount(ctx, cache,
			params.AccountID, detail, addrSet)
		if !ok || amount == 0 {
			continue
		}

		err = s.cfg.DB.BackfillAmount(ctx, params.AccountID,
			rec.Txid, amount)
		if err != nil {
			log.Errorf("Unable to backfill amount of %s: %v",
				rec.Txid, err)
		}
	}

	return nil
}

// calculateTxAmount reconstructs the net satoshi effect of a transaction on
// the wallet: value received by wallet addresses minus value spent from
// them. Parent outputs absent from the local store are resolved through the
// cache; an unresolvable parent makes the result unreliable, reported via
// ok = false.
func (s *Syncer) calculateTxAmount(ctx context.Context,
	cache *txDetailCache, accountID int64,
	detail *chainclient.TxDetail,
	addrSet map[string]struct{}) (int64, bool) {

	var received int64
	for _, out := range detail.Vout {
		if outputPaysSet(out, addrSet) {
			received += chainclient.BTCToSatoshis(out.Value)
		}
	}

	var spent int64
	ok := true
	for _, in := range detail.Vin {
		if in.Txid == "" {
			continue
		}

		local, err := s.cfg.DB.GetUTXO(ctx, accountID,
			walletdb.Outpoint{Txid: in.Txid, Vout: in.Vout})
		if err == nil && local != nil {
			spent += local.Satoshis
			continue
		}

		parent, err := cache.Get(ctx, in.Txid)
		if err != nil {
			ok = false
			continue
		}
		if int(in.Vout) >= len(parent.Vout) {
			continue
		}

		parentOut := parent.Vout[in.Vout]
		if outputPaysSet(parentOut, addrSet) {
			spent += chainclient.BTCToSatoshis(parentOut.Value)
		}
	}

	return received - spent, ok
}

// outputPaysSet reports whether an output pays any address in the set,
// falling back to script decoding when the explorer omits addresses.
func outputPaysSet(out chainclient.Vout,
	addrSet map[string]struct{}) bool {

	for _, addr := range out.ScriptPubKey.Addresses {
		if _, ok := addrSet[addr]; ok {
			return true
		}
	}

	if len(out.ScriptPubKey.Addresses) == 0 {
		script, err := hex.DecodeString(out.ScriptPubKey.Hex)
		if err == nil {
			if addr := lockscript.AddressFromScript(
				script); addr != "" {

				_, ok := addrSet[addr]
				return ok
			}
		}
	}

	return false
}

// walletAddressSet collects the wallet's full address set: the three
// principal addresses plus every derived address.
func (s *Syncer) walletAddressSet(params Params,
	derived []*walletdb.DerivedAddress) map[string]struct{} {

	set := make(map[string]struct{}, len(derived)+3)
	for _, addr := range []string{
		params.WalletAddress, params.OrdAddress,
		params.IdentityAddress,
	} {
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	for _, d := range derived {
		set[d.Address] = struct{}{}
	}
	return set
}
