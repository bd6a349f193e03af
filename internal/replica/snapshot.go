package replica

import (
	"sort"
	"sync/atomic"

	"github.com/roach88/stockroom/internal/inventory"
)

var versions atomic.Uint64

// Snapshot is an immutable view of the replica keyed by SKU.
//
// A Snapshot is never modified after construction; every merge builds a new
// one with a higher Version. A nil *Snapshot is a valid empty snapshot.
type Snapshot struct {
	version uint64
	items   map[string]inventory.Item
}

// NewSnapshot builds a snapshot from items. Later items win on duplicate
// SKUs; items without a SKU are dropped.
func NewSnapshot(items []inventory.Item) *Snapshot {
	m := make(map[string]inventory.Item, len(items))
	for _, it := range items {
		if it.SKU == "" {
			continue
		}
		m[it.SKU] = it
	}
	return &Snapshot{version: versions.Add(1), items: m}
}

// Version is strictly greater for snapshots built later.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Get returns the record for sku.
func (s *Snapshot) Get(sku string) (inventory.Item, bool) {
	if s == nil {
		return inventory.Item{}, false
	}
	it, ok := s.items[sku]
	return it, ok
}

// Items returns a copy of the records ordered by SKU.
func (s *Snapshot) Items() []inventory.Item {
	if s == nil {
		return nil
	}
	out := make([]inventory.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}
