package rpcclient

import (
	"context"
	"log"

	"github.com/cockroachdb/pebble/v2"

	json "github.com/goccy/go-json"
)

type quietLogger struct{}

func (quietLogger) Infof(format string, args ...interface{}) {}
func (quietLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[pebble] "+format, args...)
}
func (quietLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf("[pebble] "+format, args...)
}

// CachedClient wraps Client with a persistent, content-addressed cache of
// decoded blocks: a block hash never changes meaning once minted, so
// GetBlock results are cached forever. GetBlockHash is never cached here —
// height-to-hash is exactly what a reorg invalidates.
type CachedClient struct {
	*Client
	cache *pebble.DB
}

// NewCachedClient opens (or creates) a pebble cache at cacheDir and wraps
// client. The cache directory may be deleted at rest to force a full
// re-fetch; it repopulates on demand.
func NewCachedClient(client *Client, cacheDir string) (*CachedClient, error) {
	cache, err := pebble.Open(cacheDir, &pebble.Options{Logger: quietLogger{}})
	if err != nil {
		return nil, err
	}
	return &CachedClient{Client: client, cache: cache}, nil
}

// Close closes the underlying cache database.
func (c *CachedClient) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

// GetBlock returns the decoded block for hash, consulting the on-disk cache
// before falling back to the node.
func (c *CachedClient) GetBlock(ctx context.Context, hash string) (*RawBlock, error) {
	key := []byte("block:" + hash)

	if val, closer, err := c.cache.Get(key); err == nil {
		var block RawBlock
		decodeErr := json.Unmarshal(val, &block)
		closer.Close()
		if decodeErr == nil {
			return &block, nil
		}
	}

	block, err := c.Client.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	if encoded, encErr := json.Marshal(block); encErr == nil {
		c.cache.Set(key, encoded, pebble.NoSync)
	}

	return block, nil
}
