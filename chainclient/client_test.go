package chainclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T,
	handler http.Handler) (*Client, *httptest.Server) {

	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 0), server
}

func TestUtxos(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/address/1Addr/unspent", r.URL.Path)
			w.Write([]byte(`[
				{"txid":"aa","vout":0,"satoshis":1000},
				{"txid":"bb","vout":2,"satoshis":50}
			]`))
		}))

	utxos, err := client.Utxos(context.Background(), "1Addr")
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Equal(t, "aa", utxos[0].Txid)
	require.Equal(t, uint32(2), utxos[1].Vout)
	require.Equal(t, int64(50), utxos[1].Satoshis)

	balance, err := client.Balance(context.Background(), "1Addr")
	require.NoError(t, err)
	require.Equal(t, int64(1050), balance)
}

func TestHistory(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/address/1Addr/history", r.URL.Path)
			w.Write([]byte(`[{"tx_hash":"aa","height":850000}]`))
		}))

	history, err := client.History(context.Background(), "1Addr")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "aa", history[0].TxHash)
	require.Equal(t, int64(850000), history[0].Height)
}

func TestTxDetails(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/tx/aa", r.URL.Path)
			w.Write([]byte(`{
				"txid": "aa",
				"vin": [{"txid":"pp","vout":1}],
				"vout": [{
					"value": 0.00012345,
					"n": 0,
					"scriptPubKey": {
						"hex": "76a914",
						"addresses": ["1Dest"]
					}
				}],
				"locktime": 850123,
				"blockheight": 850200
			}`))
		}))

	detail, err := client.TxDetails(context.Background(), "aa")
	require.NoError(t, err)
	require.Equal(t, "aa", detail.Txid)
	require.Len(t, detail.Vin, 1)
	require.Len(t, detail.Vout, 1)
	require.Equal(t, int64(12345),
		BTCToSatoshis(detail.Vout[0].Value))
	require.Equal(t, uint32(850123), detail.LockTime)
}

// TestBTCToSatoshis asserts float amounts round rather than truncate.
func TestBTCToSatoshis(t *testing.T) {
	require.Equal(t, int64(12345), BTCToSatoshis(0.00012345))
	require.Equal(t, int64(1), BTCToSatoshis(0.00000001))
	require.Equal(t, int64(2100000000000000), BTCToSatoshis(21000000))
	// 0.1 BTC is not representable exactly; rounding must fix it.
	require.Equal(t, int64(10000000), BTCToSatoshis(0.1))
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"not found", http.StatusNotFound, "", KindNotFound},
		{"rate limited", http.StatusTooManyRequests, "",
			KindRateLimited},
		{"server error", http.StatusInternalServerError, "oops",
			KindOther},
		{"malformed", http.StatusOK, "{not json", KindMalformed},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tc.status)
					w.Write([]byte(tc.body))
				}))

			_, err := client.Utxos(context.Background(), "1Addr")
			require.Error(t, err)
			require.True(t, IsKind(err, tc.kind),
				"expected kind %v, got %v", tc.kind, err)
		})
	}
}

func TestErrorKindNetwork(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := NewClient(server.URL, 0)
	_, err := client.Utxos(context.Background(), "1Addr")
	require.True(t, IsKind(err, KindNetwork), "got %v", err)

	clientErr := AsError(err)
	require.NotNil(t, clientErr)
	require.Equal(t, KindNetwork, clientErr.Kind)
	require.Equal(t, "utxos", clientErr.Op)
}

func TestOutputSpent(t *testing.T) {
	var spent atomic.Bool
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/tx/aa/out/0/spent", r.URL.Path)
			if spent.Load() {
				w.Write([]byte(`{"spendingTxid":"bb"}`))
				return
			}
			w.Write([]byte(`null`))
		}))

	info, err := client.OutputSpent(context.Background(), "aa", 0)
	require.NoError(t, err)
	require.Nil(t, info)

	spent.Store(true)
	info, err = client.OutputSpent(context.Background(), "aa", 0)
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "bb", info.SpendingTxid)
}

// TestOutputSpentNotFound asserts a 404 from the spent probe reads as
// unspent rather than an error.
func TestOutputSpentNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

	info, err := client.OutputSpent(context.Background(), "aa", 0)
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestBlockHeight(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/chain/info", r.URL.Path)
			w.Write([]byte(`{"blocks": 850321}`))
		}))

	height, err := client.BlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(850321), height)
}

func TestBroadcast(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/tx/raw", r.URL.Path)
			w.Write([]byte(`{"txid":"deadbeef"}`))
		}))

	txid, err := client.Broadcast(context.Background(), "0100abcd")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", txid)
}

func TestTxDetailsBatch(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	client, _ := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			defer func() {
				mu.Lock()
				inFlight--
				mu.Unlock()
			}()

			if r.URL.Path == "/tx/bad" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"txid":"` + r.URL.Path[4:] + `"}`))
		}))

	txids := []string{"t1", "t2", "bad", "t3", "t4", "t5"}
	details := client.TxDetailsBatch(context.Background(), txids, 2)

	// Only successes are returned.
	require.Len(t, details, 5)
	require.NotContains(t, details, "bad")
	require.Equal(t, "t1", details["t1"].Txid)

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxInFlight, 2)
}
