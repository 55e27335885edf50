package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TaniLedger/internal/core"

	"github.com/allegro/bigcache/v3"
)

const defaultReceiptTTL = 24 * time.Hour

// ReceiptCache keeps recently issued receipts keyed by request id so a retried
// command can be answered with its original receipt instead of a bare
// DuplicateRequest.
type ReceiptCache struct {
	cache *bigcache.BigCache
}

func NewReceiptCache(ctx context.Context, ttl time.Duration) (*ReceiptCache, error) {
	if ttl <= 0 {
		ttl = defaultReceiptTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 256
	cfg.CleanWindow = time.Minute
	cfg.MaxEntrySize = 1024
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create receipt cache: %w", err)
	}
	return &ReceiptCache{cache: cache}, nil
}

func (rc *ReceiptCache) Put(r *core.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return rc.cache.Set(r.RequestID, data)
}

// Get returns the cached receipt, or nil when the request id is unknown or
// has expired.
func (rc *ReceiptCache) Get(requestID string) (*core.Receipt, error) {
	data, err := rc.cache.Get(requestID)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt %s: %w", requestID, err)
	}
	return &r, nil
}

func (rc *ReceiptCache) Len() int {
	return rc.cache.Len()
}

func (rc *ReceiptCache) Close() error {
	return rc.cache.Close()
}
