package replica

import "github.com/roach88/stockroom/internal/inventory"

// Merge applies delta to current and returns the resulting snapshot.
//
// Each delta record replaces the whole stored record with the same SKU
// (later records in delta win). Records without a SKU are skipped. When
// delta is empty, current is returned unchanged.
func Merge(current *Snapshot, delta []inventory.Item) *Snapshot {
	if len(delta) == 0 {
		return current
	}
	m := make(map[string]inventory.Item, current.Len()+len(delta))
	if current != nil {
		for k, v := range current.items {
			m[k] = v
		}
	}
	applied := 0
	for _, it := range delta {
		if it.SKU == "" {
			continue
		}
		m[it.SKU] = it
		applied++
	}
	if applied == 0 {
		return current
	}
	return &Snapshot{version: versions.Add(1), items: m}
}

// Watermark returns the newest lastUpdated of s in unix milliseconds, or 0
// when s is empty or no record carries a parsable timestamp.
func Watermark(s *Snapshot) int64 {
	if s == nil {
		return 0
	}
	var max int64
	for _, it := range s.items {
		if ts := inventory.ParseTimestamp(it.LastUpdated); ts > max {
			max = ts
		}
	}
	return max
}
