package query

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/stockroom/internal/inventory"
)

// Result is the answer to one Filter request.
//
// The matching rows travel as a CBOR buffer. The engine keeps no reference
// to Buffer once the Result is delivered, so the caller owns it.
type Result struct {
	// Seq is the request's sequence number; a higher Seq answers a newer
	// request.
	Seq int64
	// Count is the number of matching rows.
	Count int
	// TotalWeight is the summed weight of the matching rows divided by 1000.
	TotalWeight float64
	Buffer      []byte
}

// Rows decodes the buffer.
func (r *Result) Rows() ([]inventory.Item, error) {
	if len(r.Buffer) == 0 {
		return nil, nil
	}
	var items []inventory.Item
	if err := cbor.Unmarshal(r.Buffer, &items); err != nil {
		return nil, fmt.Errorf("decode result rows: %w", err)
	}
	return items, nil
}

func encodeRows(items []inventory.Item) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	buf, err := cbor.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode result rows: %w", err)
	}
	return buf, nil
}

func totalWeight(items []inventory.Item) float64 {
	var sum float64
	for i := range items {
		sum += items[i].Weight
	}
	return sum / 1000
}
