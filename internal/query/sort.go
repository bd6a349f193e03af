package query

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/stockroom/internal/inventory"
)

// Direction orders a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortSpec orders a result by one field. An empty Key keeps base order.
type SortSpec struct {
	Key       string    `json:"key,omitempty" yaml:"key,omitempty"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// sorter compares field values. The collator is not safe for concurrent
// use; a sorter belongs to the engine goroutine.
type sorter struct {
	collator *collate.Collator
}

func newSorter() *sorter {
	return &sorter{collator: collate.New(language.Vietnamese, collate.Numeric, collate.IgnoreCase)}
}

// sortByWeight orders items by ascending weight, keeping ties in place.
func sortByWeight(items []inventory.Item) {
	slices.SortStableFunc(items, func(a, b inventory.Item) int {
		return cmp.Compare(a.Weight, b.Weight)
	})
}

// sort orders items in place by spec. The sort is stable.
func (s *sorter) sort(items []inventory.Item, spec SortSpec) {
	if spec.Key == "" {
		return
	}
	dir := 1
	if spec.Direction == Desc {
		dir = -1
	}

	field, known := inventory.LookupField(spec.Key)
	if known && field.Kind == inventory.KindDate {
		keys := make(map[string]int64, len(items))
		for i := range items {
			keys[items[i].SKU] = inventory.ParseTimestamp(items[i].Text(spec.Key))
		}
		slices.SortStableFunc(items, func(a, b inventory.Item) int {
			return cmp.Compare(keys[a.SKU], keys[b.SKU]) * dir
		})
		return
	}

	slices.SortStableFunc(items, func(a, b inventory.Item) int {
		return s.compare(a.Get(spec.Key), b.Get(spec.Key), dir)
	})
}

// compare orders two field values. Missing values sort last regardless of
// direction; numbers and numeric-looking strings compare numerically;
// other strings use Vietnamese collation with numeric digit runs.
func (s *sorter) compare(a, b any, dir int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if a == b {
		return 0
	}
	na, okA := numeric(a)
	nb, okB := numeric(b)
	if okA && okB {
		return cmp.Compare(na, nb) * dir
	}
	sa := strings.ToLower(inventory.FormatValue(a))
	sb := strings.ToLower(inventory.FormatValue(b))
	return s.collator.CompareString(sa, sb) * dir
}

// numeric reports the numeric value of v when v is a number or a
// non-blank string that parses as one.
func numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		t := strings.TrimSpace(val)
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
