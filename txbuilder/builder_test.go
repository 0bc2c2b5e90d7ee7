package txbuilder

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/simplysats/simplysats/chainclient"
	"github.com/simplysats/simplysats/chainfee"
	"github.com/simplysats/simplysats/keychain"
	"github.com/simplysats/simplysats/lockscript"
	"github.com/simplysats/simplysats/syncctl"
	"github.com/simplysats/simplysats/walletdb"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// fakeNode backs the explorer endpoints the builder touches: broadcast, the
// chain tip and the spent probe.
type fakeNode struct {
	mu sync.Mutex

	height          int64
	rejectBroadcast bool
	broadcasts      []string
	spent           map[string]string

	// broadcastGate, when set, is received from before a broadcast
	// returns, letting tests hold the builder mid-contract.
	broadcastGate chan struct{}
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		height: 900000,
		spent:  make(map[string]string),
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/tx/raw":
		f.mu.Lock()
		gate := f.broadcastGate
		reject := f.rejectBroadcast
		f.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if reject {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("tx rejected"))
			return
		}

		body, _ := io.ReadAll(r.Body)
		var req struct {
			TxHex string `json:"txhex"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		raw, err := hex.DecodeString(req.TxHex)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.broadcasts = append(f.broadcasts, req.TxHex)
		f.mu.Unlock()

		payload, _ := json.Marshal(map[string]string{
			"txid": tx.TxHash().String(),
		})
		w.Write(payload)

	case len(parts) == 5 && parts[0] == "tx" && parts[2] == "out" &&
		parts[4] == "spent":

		f.mu.Lock()
		spender, ok := f.spent[parts[1]+":"+parts[3]]
		f.mu.Unlock()
		if ok {
			payload, _ := json.Marshal(chainclient.SpendInfo{
				SpendingTxid: spender,
			})
			w.Write(payload)
			return
		}
		w.Write([]byte("null"))

	case len(parts) == 2 && parts[0] == "chain" && parts[1] == "info":
		f.mu.Lock()
		height := f.height
		f.mu.Unlock()
		payload, _ := json.Marshal(map[string]int64{
			"blocks": height,
		})
		w.Write(payload)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type builderHarness struct {
	t       *testing.T
	db      *walletdb.DB
	node    *fakeNode
	builder *Builder
	mutex   *syncctl.SyncMutex
	keys    *keychain.AccountKeys

	walletAddr string
}

func newBuilderHarness(t *testing.T) *builderHarness {
	t.Helper()

	db, err := walletdb.Open(
		filepath.Join(t.TempDir(), "simplysats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	node := newFakeNode()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	keys, err := keychain.DeriveAccount(testMnemonic, "", 0)
	require.NoError(t, err)

	walletAddr, err := keys.Wallet.Address()
	require.NoError(t, err)

	mutex := syncctl.NewSyncMutex()
	builder := NewBuilder(Config{
		DB:     db,
		Client: chainclient.NewClient(server.URL, 0),
		Fees:   chainfee.NewEstimator(nil, nil),
		Mutex:  mutex,
	})

	return &builderHarness{
		t:          t,
		db:         db,
		node:       node,
		builder:    builder,
		mutex:      mutex,
		keys:       keys,
		walletAddr: walletAddr,
	}
}

// padTxid left-pads a short marker into a valid 64-char txid.
func padTxid(txid string) string {
	return strings.Repeat("0", 64-len(txid)) + txid
}

// fund inserts a spendable wallet UTXO.
func (h *builderHarness) fund(txid string, vout uint32, sats int64) {
	h.t.Helper()

	script, err := lockscript.PayToAddress(h.walletAddr)
	require.NoError(h.t, err)

	txidHex := padTxid(txid)
	require.NoError(h.t, h.db.AddUTXO(context.Background(),
		&walletdb.UTXO{
			AccountID:     1,
			Txid:          txidHex,
			Vout:          vout,
			Satoshis:      sats,
			LockingScript: hex.EncodeToString(script),
			Address:       h.walletAddr,
			Basket:        walletdb.BasketDefault,
			Spendable:     true,
		}))
}

const destAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

// TestSelectForAmount exercises the ascending selection loop.
func TestSelectForAmount(t *testing.T) {
	mk := func(sats int64) *walletdb.UTXO {
		return &walletdb.UTXO{Satoshis: sats}
	}

	utxos := []*walletdb.UTXO{mk(10000), mk(500), mk(2000)}

	// 500 + 2000 cover 1500 plus the 2-in/2-out fee of 374.
	selected, fee, change, err := selectForAmount(utxos, 1500, 0, 1.0)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.Equal(t, int64(500), selected[0].Satoshis)
	require.Equal(t, int64(2000), selected[1].Satoshis)
	require.Equal(t, int64(374), fee)
	require.Equal(t, int64(2500-1500-374), change)

	// Everything combined cannot cover the target.
	_, _, _, err = selectForAmount(utxos, 50000, 0, 1.0)
	var insufficient *ErrInsufficientFunds
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(12500), insufficient.Available)
}

// TestSighashPreimageLayout pins the field layout of the FORKID preimage.
func TestSighashPreimageLayout(t *testing.T) {
	prev, err := outpoint(strings.Repeat("ab", 32), 1)
	require.NoError(t, err)

	tx := wire.NewMsgTx(1)
	tx.LockTime = 860000
	in := wire.NewTxIn(prev, nil, nil)
	in.Sequence = unlockSequence
	tx.AddTxIn(in)

	script := bytes.Repeat([]byte{0x51}, 30)
	tx.AddTxOut(wire.NewTxOut(9000, script))

	subScript := bytes.Repeat([]byte{0x52}, 80)
	preimage := sighashPreimage(tx, 0, subScript, 10000)

	// version(4) + hashPrevouts(32) + hashSequence(32) + outpoint(36) +
	// varint(1) + script(80) + value(8) + sequence(4) +
	// hashOutputs(32) + locktime(4) + sighash(4).
	require.Len(t, preimage, 4+32+32+36+1+80+8+4+32+4+4)

	require.Equal(t, uint32(1),
		binary.LittleEndian.Uint32(preimage[:4]))

	// The outpoint follows the two hashes.
	require.Equal(t, prev.Hash[:], preimage[68:100])
	require.Equal(t, uint32(1),
		binary.LittleEndian.Uint32(preimage[100:104]))

	// Subscript is length-prefixed.
	require.Equal(t, byte(80), preimage[104])
	require.Equal(t, subScript, preimage[105:185])

	// Value, sequence, then the trailing locktime and sighash type.
	require.Equal(t, uint64(10000),
		binary.LittleEndian.Uint64(preimage[185:193]))
	require.Equal(t, uint32(unlockSequence),
		binary.LittleEndian.Uint32(preimage[193:197]))

	tail := preimage[len(preimage)-8:]
	require.Equal(t, uint32(860000),
		binary.LittleEndian.Uint32(tail[:4]))
	require.Equal(t, uint32(SigHashAllForkID),
		binary.LittleEndian.Uint32(tail[4:]))
}

// TestSendHappyPath exercises the full broadcast contract.
func TestSendHappyPath(t *testing.T) {
	h := newBuilderHarness(t)
	ctx := context.Background()

	h.fund("aa", 0, 10000)

	result, err := h.builder.Send(ctx, &SendRequest{
		AccountID:   1,
		ToAddress:   destAddress,
		Amount:      5000,
		Description: "coffee",
		Key:         h.keys.Wallet.Priv,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Txid)
	require.NotEmpty(t, result.RawTx)

	// Input confirmed spent under the broadcast txid.
	spent, err := h.db.GetUTXO(ctx, 1, walletdb.Outpoint{
		Txid: padTxid("aa"), Vout: 0,
	})
	require.NoError(t, err)
	require.Equal(t, walletdb.StatusSpent, spent.SpendingStatus)
	require.Equal(t, result.Txid, spent.SpentTxid)
	require.NotNil(t, spent.SpentAt)

	// Transaction recorded with the signed amount.
	rec, err := h.db.GetTransaction(ctx, 1, result.Txid)
	require.NoError(t, err)
	require.Equal(t, walletdb.TxStatusPending, rec.Status)
	require.Equal(t, "coffee", rec.Description)
	require.NotNil(t, rec.Amount)
	require.Equal(t, -(5000 + result.Fee), *rec.Amount)
	require.Equal(t, result.RawTx, rec.RawTx)

	// Change credited so the balance reflects immediately.
	balance, err := h.db.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 10000-5000-result.Fee, balance)

	// The broadcast transaction decodes and pays the recipient.
	raw, err := hex.DecodeString(result.RawTx)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(5000), tx.TxOut[0].Value)
	require.Equal(t, destAddress,
		lockscript.AddressFromScript(tx.TxOut[0].PkScript))
	require.Equal(t, h.walletAddr,
		lockscript.AddressFromScript(tx.TxOut[1].PkScript))

	// Inputs carry the <sig> <pubkey> unlocking script.
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
}

// TestSendInsufficientFunds asserts no state changes when selection fails.
func TestSendInsufficientFunds(t *testing.T) {
	h := newBuilderHarness(t)
	h.fund("aa", 0, 1000)

	_, err := h.builder.Send(context.Background(), &SendRequest{
		AccountID: 1,
		ToAddress: destAddress,
		Amount:    5000,
		Key:       h.keys.Wallet.Priv,
	})

	var insufficient *ErrInsufficientFunds
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, h.node.broadcasts)

	spendable, err := h.db.GetSpendableUTXOs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, spendable, 1)
}

// TestSendBroadcastRejected asserts a rejection rolls the reservation back
// and records nothing.
func TestSendBroadcastRejected(t *testing.T) {
	h := newBuilderHarness(t)
	ctx := context.Background()

	h.fund("aa", 0, 10000)
	h.node.rejectBroadcast = true

	_, err := h.builder.Send(ctx, &SendRequest{
		AccountID: 1,
		ToAddress: destAddress,
		Amount:    5000,
		Key:       h.keys.Wallet.Priv,
	})

	var rejected *ErrBroadcastRejected
	require.ErrorAs(t, err, &rejected)

	spendable, err := h.db.GetSpendableUTXOs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, spendable, 1, "inputs not released after rejection")

	recs, err := h.db.ListTransactions(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, recs)
}

// TestReserveConflict asserts a reserved input aborts as a coin-selection
// conflict.
func TestReserveConflict(t *testing.T) {
	h := newBuilderHarness(t)
	ctx := context.Background()

	h.fund("aa", 0, 10000)
	op := walletdb.Outpoint{Txid: padTxid("aa"), Vout: 0}
	require.NoError(t, h.db.MarkPending(ctx, 1,
		[]walletdb.Outpoint{op}, "racer"))

	err := h.builder.reserve(ctx, 1, []walletdb.Outpoint{op}, "mine")
	require.ErrorIs(t, err, ErrCoinSelectionConflict)
}

// TestSendHoldsAccountMutex covers the concurrent send-and-sync ordering:
// a waiter on the same account only proceeds after the send completes.
func TestSendHoldsAccountMutex(t *testing.T) {
	h := newBuilderHarness(t)
	ctx := context.Background()

	h.fund("aa", 0, 10000)

	gate := make(chan struct{})
	h.node.broadcastGate = gate

	sendDone := make(chan error, 1)
	go func() {
		_, err := h.builder.Send(ctx, &SendRequest{
			AccountID: 1,
			ToAddress: destAddress,
			Amount:    5000,
			Key:       h.keys.Wallet.Priv,
		})
		sendDone <- err
	}()

	// Wait until the send holds the account lock; the gate then keeps
	// it inside the broadcast.
	require.Eventually(t, func() bool {
		return h.mutex.IsSyncInProgress(1)
	}, time.Second, 5*time.Millisecond)

	acquired := make(chan struct{})
	go func() {
		release, err := h.mutex.Acquire(ctx, 1)
		require.NoError(t, err)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("sync acquired the account lock mid-send")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-sendDone)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after send completed")
	}

	// After the send, no pending rows remain for the sync to observe.
	utxos, err := h.db.ListUTXOs(ctx, 1)
	require.NoError(t, err)
	for _, u := range utxos {
		require.NotEqual(t, walletdb.StatusPending,
			u.SpendingStatus)
	}
}
