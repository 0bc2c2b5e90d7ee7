package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// MinerClient fetches fee quotes from a miner merchant API.
type MinerClient struct {
	baseURL string
	http    *http.Client
}

// NewMinerClient creates a client for the merchant API at baseURL.
func NewMinerClient(baseURL string) *MinerClient {
	return &MinerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// feeQuoteEnvelope is the mAPI response wrapper. The payload is served
// either as a JSON string or inlined as an object, depending on the miner.
type feeQuoteEnvelope struct {
	Payload json.RawMessage `json:"payload"`
}

type feeQuotePayload struct {
	Fees []struct {
		FeeType   string `json:"feeType"`
		MiningFee struct {
			Satoshis int64 `json:"satoshis"`
			Bytes    int64 `json:"bytes"`
		} `json:"miningFee"`
	} `json:"fees"`
}

// FeeQuote returns the miner's standard mining rate in satoshis per byte.
// It implements chainfee.QuoteFetcher.
func (m *MinerClient) FeeQuote(ctx context.Context) (float64, error) {
	const op = "fee-quote"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.baseURL+"/mapi/feeQuote", nil)
	if err != nil {
		return 0, &Error{Kind: KindOther, Op: op, Err: err}
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &Error{Kind: KindOther, Op: op,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var envelope feeQuoteEnvelope
	err = json.NewDecoder(resp.Body).Decode(&envelope)
	if err != nil {
		return 0, &Error{Kind: KindMalformed, Op: op, Err: err}
	}

	payload, err := decodeFeePayload(envelope.Payload)
	if err != nil {
		return 0, &Error{Kind: KindMalformed, Op: op, Err: err}
	}

	for _, fee := range payload.Fees {
		if fee.FeeType != "standard" {
			continue
		}
		if fee.MiningFee.Bytes <= 0 {
			break
		}
		rate := float64(fee.MiningFee.Satoshis) /
			float64(fee.MiningFee.Bytes)
		log.Debugf("Miner standard rate: %.4f sat/byte", rate)
		return rate, nil
	}

	return 0, &Error{Kind: KindMalformed, Op: op,
		Err: fmt.Errorf("no standard fee in quote")}
}

// decodeFeePayload accepts both payload encodings: a JSON string holding
// the payload document, or the document inlined as an object.
func decodeFeePayload(raw json.RawMessage) (*feeQuotePayload, error) {
	var payload feeQuotePayload

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if err := json.Unmarshal([]byte(asString),
			&payload); err != nil {

			return nil, err
		}
		return &payload, nil
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
