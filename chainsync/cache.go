package chainsync

import (
	"context"
	"sync"

	"github.com/simplysats/simplysats/chainclient"
)

// txDetailCache memoizes transaction detail fetches for the duration of one
// sync. It is bound to the sync session and cleared when the sync finishes;
// nothing outlives it.
type txDetailCache struct {
	client *chainclient.Client

	mu sync.Mutex
	m  map[string]*chainclient.TxDetail
}

func newTxDetailCache(client *chainclient.Client) *txDetailCache {
	return &txDetailCache{
		client: client,
		m:      make(map[string]*chainclient.TxDetail),
	}
}

// Get returns the cached detail for txid, fetching and memoizing it on the
// first request. Failed fetches are not cached so a later step may retry.
func (c *txDetailCache) Get(ctx context.Context,
	txid string) (*chainclient.TxDetail, error) {

	c.mu.Lock()
	if detail, ok := c.m[txid]; ok {
		c.mu.Unlock()
		return detail, nil
	}
	c.mu.Unlock()

	detail, err := c.client.TxDetails(ctx, txid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.m[txid] = detail
	c.mu.Unlock()
	return detail, nil
}

// Put seeds the cache, letting batch prefetches feed later lookups.
func (c *txDetailCache) Put(detail *chainclient.TxDetail) {
	c.mu.Lock()
	c.m[detail.Txid] = detail
	c.mu.Unlock()
}

// Clear drops every cached entry.
func (c *txDetailCache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]*chainclient.TxDetail)
	c.mu.Unlock()
}
