package chainclient

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TxDetailsBatch fetches many transactions under a bounded worker pool and
// returns the successful fetches only. Individual failures are logged and
// dropped; the caller sees a partial map rather than an error.
func (c *Client) TxDetailsBatch(ctx context.Context, txids []string,
	concurrency int) map[string]*TxDetail {

	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	out := make(map[string]*TxDetail, len(txids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, txid := range txids {
		txid := txid
		g.Go(func() error {
			detail, err := c.TxDetails(gctx, txid)
			if err != nil {
				log.Debugf("Batch fetch of tx %s failed: %v",
					txid, err)
				return nil
			}

			mu.Lock()
			out[txid] = detail
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return out
}
