package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/store"
)

// CacheKey is the key of the snapshot inside the replica partition.
const CacheKey = "inventory"

// KV is the slice of the durable store the cache needs.
type KV interface {
	Get(ctx context.Context, partition, key string) ([]byte, error)
	Put(ctx context.Context, partition, key string, value []byte) error
}

// Cache persists snapshots as snappy-compressed JSON.
type Cache struct {
	kv KV
}

// NewCache returns a cache backed by kv.
func NewCache(kv KV) *Cache {
	return &Cache{kv: kv}
}

type cachedSnapshot struct {
	Layout int              `json:"layout"`
	Items  []inventory.Item `json:"items"`
}

// Save writes s to the store.
func (c *Cache) Save(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(cachedSnapshot{Layout: inventory.LayoutVersion, Items: s.Items()})
	if err != nil {
		return fmt.Errorf("encode replica cache: %w", err)
	}
	return c.kv.Put(ctx, store.PartitionReplica, CacheKey, snappy.Encode(nil, data))
}

// Load restores the cached snapshot. It returns a nil snapshot and no error
// when nothing is cached or the cache was written with another row layout.
func (c *Cache) Load(ctx context.Context) (*Snapshot, error) {
	raw, err := c.kv.Get(ctx, store.PartitionReplica, CacheKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress replica cache: %w", err)
	}
	var cs cachedSnapshot
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decode replica cache: %w", err)
	}
	if cs.Layout != inventory.LayoutVersion {
		return nil, nil
	}
	return NewSnapshot(cs.Items), nil
}
