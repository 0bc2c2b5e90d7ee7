package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultTimeout bounds a single API request.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// UTXOResult is one unspent output reported for an address.
type UTXOResult struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Satoshis int64  `json:"satoshis"`
}

// HistoryItem is one entry of an address's transaction history.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// ScriptPubKey is the output script of a transaction detail.
type ScriptPubKey struct {
	Hex       string   `json:"hex"`
	Addresses []string `json:"addresses"`
}

// Vin is one input of a transaction detail.
type Vin struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

// Vout is one output of a transaction detail. Value is in BTC units as
// served by the explorer.
type Vout struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// TxDetail is the full transaction view served by the explorer.
type TxDetail struct {
	Txid        string `json:"txid"`
	Vin         []Vin  `json:"vin"`
	Vout        []Vout `json:"vout"`
	LockTime    uint32 `json:"locktime"`
	BlockHeight int64  `json:"blockheight"`
	Time        int64  `json:"time"`
}

// SpendInfo reports the transaction spending a queried output.
type SpendInfo struct {
	SpendingTxid string `json:"spendingTxid"`
}

// BTCToSatoshis converts an explorer BTC float amount to satoshis.
func BTCToSatoshis(value float64) int64 {
	return int64(math.Round(value * 1e8))
}

// Client talks to the block-explorer REST API. Requests are paced by a
// shared limiter so sync fan-out respects the API's rate limits.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the explorer at baseURL. requestsPerSec
// bounds the request rate; zero disables pacing.
func NewClient(baseURL string, requestsPerSec float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: limiter,
	}
}

// Utxos returns the current unspent outputs of an address.
func (c *Client) Utxos(ctx context.Context,
	address string) ([]UTXOResult, error) {

	var out []UTXOResult
	err := c.get(ctx, "utxos",
		"/address/"+url.PathEscape(address)+"/unspent", &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the transaction history of an address, newest first as
// served by the explorer.
func (c *Client) History(ctx context.Context,
	address string) ([]HistoryItem, error) {

	var out []HistoryItem
	err := c.get(ctx, "history",
		"/address/"+url.PathEscape(address)+"/history", &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the confirmed satoshi balance of an address, derived from
// its unspent outputs.
func (c *Client) Balance(ctx context.Context,
	address string) (int64, error) {

	utxos, err := c.Utxos(ctx, address)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, u := range utxos {
		total += u.Satoshis
	}
	return total, nil
}

// TxDetails returns the full view of a transaction.
func (c *Client) TxDetails(ctx context.Context,
	txid string) (*TxDetail, error) {

	var out TxDetail
	err := c.get(ctx, "tx-details", "/tx/"+url.PathEscape(txid), &out)
	if err != nil {
		return nil, err
	}
	if out.Txid == "" {
		out.Txid = txid
	}
	return &out, nil
}

// OutputSpent reports the transaction spending the given output, or nil
// when it is still unspent. A NotFound from the API also means unspent.
func (c *Client) OutputSpent(ctx context.Context, txid string,
	vout uint32) (*SpendInfo, error) {

	var out *SpendInfo
	err := c.get(ctx, "output-spent",
		fmt.Sprintf("/tx/%s/out/%d/spent", url.PathEscape(txid),
			vout), &out)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if out != nil && out.SpendingTxid == "" {
		return nil, nil
	}
	return out, nil
}

// BlockHeight returns the current chain tip height.
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	var out struct {
		Blocks int64 `json:"blocks"`
	}
	if err := c.get(ctx, "block-height", "/chain/info", &out); err != nil {
		return 0, err
	}
	return out.Blocks, nil
}

// Broadcast submits a raw transaction and returns the accepted txid.
func (c *Client) Broadcast(ctx context.Context,
	rawTxHex string) (string, error) {

	const op = "broadcast"

	body, err := json.Marshal(map[string]string{"txhex": rawTxHex})
	if err != nil {
		return "", &Error{Kind: KindOther, Op: op, Err: err}
	}

	var out struct {
		Txid string `json:"txid"`
	}
	err = c.do(ctx, op, http.MethodPost, "/tx/raw",
		bytes.NewReader(body), &out)
	if err != nil {
		return "", err
	}
	if out.Txid == "" {
		return "", &Error{Kind: KindMalformed, Op: op,
			Err: fmt.Errorf("empty txid in response")}
	}
	return out.Txid, nil
}

func (c *Client) get(ctx context.Context, op, path string,
	into interface{}) error {

	return c.do(ctx, op, http.MethodGet, path, nil, into)
}

func (c *Client) do(ctx context.Context, op, method, path string,
	body io.Reader, into interface{}) error {

	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method,
		c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindOther, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body,
		maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Op: op}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &Error{Kind: KindOther, Op: op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode,
				truncate(payload))}
	}

	if into == nil {
		return nil
	}

	// An empty or literal-null body decodes to the zero value, which the
	// spent probe relies on.
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(trimmed, into); err != nil {
		return &Error{Kind: KindMalformed, Op: op, Err: err}
	}
	return nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
