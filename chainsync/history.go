package chainsync

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/walletdb"
)

const (
	// unlockLocktimeThreshold separates height locktimes from timestamp
	// locktimes; unlock transactions carry a height above this.
	unlockLocktimeThreshold = 500000

	// unlockSequence is the input sequence an unlock uses so its
	// locktime is enforced.
	unlockSequence = 0xfffffffe
)

// syncHistory processes the recent history of one address: it persists the
// transactions, detects timelock outputs addressed to the wallet and labels
// unlock transactions.
func (s *Syncer) syncHistory(ctx context.Context, cache *txDetailCache,
	accountID int64, address string, walletPKH []byte) {

	items, err := s.cfg.Client.History(ctx, address)
	if err != nil {
		log.Warnf("History fetch for %s failed: %v", address, err)
		return
	}
	if len(items) > s.cfg.HistoryLimit {
		items = items[:s.cfg.HistoryLimit]
	}

	for _, item := range items {
		if err := ctxErr(ctx); err != nil {
			return
		}

		detail, err := cache.Get(ctx, item.TxHash)
		if err != nil {
			log.Debugf("Detail fetch for %s failed: %v",
				item.TxHash, err)
			continue
		}

		labels := s.processLocks(ctx, accountID, detail, walletPKH)

		var amount *int64
		if isUnlockTx(detail) {
			labels = append(labels, "unlock")
			total := totalOutputValue(detail)
			amount = &total
			s.processUnlock(ctx, accountID, detail)
		}

		status := walletdb.TxStatusPending
		var blockHeight *int64
		if item.Height > 0 {
			status = walletdb.TxStatusConfirmed
			h := item.Height
			blockHeight = &h
		}

		err = s.cfg.DB.UpsertTransaction(ctx, &walletdb.TxRecord{
			AccountID:   accountID,
			Txid:        item.TxHash,
			Status:      status,
			BlockHeight: blockHeight,
			Amount:      amount,
			Labels:      labels,
		})
		if err != nil {
			log.Errorf("Unable to store tx %s: %v", item.TxHash,
				err)
		}
	}
}

// processLocks scans the outputs of a transaction for timelocks addressed
// to the wallet. Each match is stored as an unspendable UTXO in the locks
// basket with an idempotent lock row, and immediately probed for an unlock
// already on chain.
func (s *Syncer) processLocks(ctx context.Context, accountID int64,
	detail *chainclient.TxDetail, walletPKH []byte) []string {

	var labels []string

	for _, out := range detail.Vout {
		script, err := hex.DecodeString(out.ScriptPubKey.Hex)
		if err != nil {
			continue
		}

		tl := lockscript.ParseTimelock(script)
		if tl == nil || !bytes.Equal(tl.PKH, walletPKH) {
			continue
		}

		labels = append(labels, "lock")

		sats := chainclient.BTCToSatoshis(out.Value)
		utxo := &walletdb.UTXO{
			AccountID:     accountID,
			Txid:          detail.Txid,
			Vout:          out.N,
			Satoshis:      sats,
			LockingScript: out.ScriptPubKey.Hex,
			Basket:        walletdb.BasketLocks,
			Spendable:     false,
		}
		if err := s.cfg.DB.AddUTXO(ctx, utxo); err != nil {
			log.Errorf("Unable to store lock output %s:%d: %v",
				detail.Txid, out.N, err)
			continue
		}

		stored, err := s.cfg.DB.GetUTXO(ctx, accountID,
			walletdb.Outpoint{Txid: detail.Txid, Vout: out.N})
		if err != nil || stored == nil {
			continue
		}

		var lockBlock *int64
		if detail.BlockHeight > 0 {
			h := detail.BlockHeight
			lockBlock = &h
		}
		err = s.cfg.DB.UpsertLock(ctx, &walletdb.Lock{
			AccountID:   accountID,
			UtxoID:      stored.ID,
			UnlockBlock: tl.UnlockBlock,
			LockBlock:   lockBlock,
		})
		if err != nil {
			log.Errorf("Unable to store lock for %s:%d: %v",
				detail.Txid, out.N, err)
			continue
		}

		log.Infof("Observed lock %s:%d until height %d", detail.Txid,
			out.N, tl.UnlockBlock)

		// The lock may already have been unlocked elsewhere.
		spend, err := s.cfg.Client.OutputSpent(ctx, detail.Txid,
			out.N)
		if err == nil && spend != nil {
			s.markLockUnlocked(ctx, accountID, stored.ID,
				stored.Outpoint(), spend.SpendingTxid)
		}
	}

	return labels
}

// processUnlock marks the lock rows behind an unlock transaction's inputs
// as unlocked.
func (s *Syncer) processUnlock(ctx context.Context, accountID int64,
	detail *chainclient.TxDetail) {

	for _, in := range detail.Vin {
		parent, err := s.cfg.DB.GetUTXO(ctx, accountID,
			walletdb.Outpoint{Txid: in.Txid, Vout: in.Vout})
		if err != nil || parent == nil {
			continue
		}

		lock, err := s.cfg.DB.GetLockByUtxoID(ctx, parent.ID)
		if err != nil || lock == nil {
			continue
		}

		s.markLockUnlocked(ctx, accountID, parent.ID,
			parent.Outpoint(), detail.Txid)
	}
}

func (s *Syncer) markLockUnlocked(ctx context.Context, accountID int64,
	utxoID int64, op walletdb.Outpoint, spendingTxid string) {

	err := s.cfg.DB.MarkLockUnlocked(ctx, utxoID, spendingTxid)
	if err != nil {
		log.Errorf("Unable to mark lock %d unlocked: %v", utxoID,
			err)
		return
	}
	err = s.cfg.DB.MarkUTXOSpent(ctx, accountID, op, spendingTxid)
	if err != nil {
		log.Errorf("Unable to mark lock output %s:%d spent: %v",
			op.Txid, op.Vout, err)
	}

	log.Infof("Lock output %s:%d unlocked by %s", op.Txid, op.Vout,
		spendingTxid)
}

// isUnlockTx recognises an unlock: a height locktime with at least one
// input opting into locktime enforcement.
func isUnlockTx(detail *chainclient.TxDetail) bool {
	if detail.LockTime <= unlockLocktimeThreshold {
		return false
	}
	for _, in := range detail.Vin {
		if in.Sequence == unlockSequence {
			return true
		}
	}
	return false
}

func totalOutputValue(detail *chainclient.TxDetail) int64 {
	var total int64
	for _, out := range detail.Vout {
		total += chainclient.BTCToSatoshis(out.Value)
	}
	return total
}
