package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/stockroom/internal/inventory"
)

// Kind is the wire command type.
type Kind string

const (
	KindImport      Kind = "IMPORT"
	KindUpdate      Kind = "UPDATE"
	KindImportBatch Kind = "IMPORT_BATCH"
)

// Status is the optional delivery status carried on the wire.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSynced  Status = "SYNCED"
	StatusFailed  Status = "FAILED"
)

// ErrInvalidCommand is returned for commands missing fields their kind requires.
var ErrInvalidCommand = errors.New("invalid command")

// Payload is the kind-specific body of a command.
type Payload interface {
	Kind() Kind
	// Items returns the records the command writes.
	Items() []inventory.Item
	validate() error
}

// ImportPayload creates one record.
type ImportPayload struct {
	Item inventory.Item
}

func (ImportPayload) Kind() Kind { return KindImport }
func (p ImportPayload) Items() []inventory.Item { return []inventory.Item{p.Item} }
func (p ImportPayload) validate() error { return requireSKU(p.Item) }

// UpdatePayload replaces one record with a fully populated copy.
type UpdatePayload struct {
	Item inventory.Item
}

func (UpdatePayload) Kind() Kind { return KindUpdate }
func (p UpdatePayload) Items() []inventory.Item { return []inventory.Item{p.Item} }
func (p UpdatePayload) validate() error { return requireSKU(p.Item) }

// ImportBatchPayload creates several records in one command.
type ImportBatchPayload struct {
	Records []inventory.Item
}

func (ImportBatchPayload) Kind() Kind { return KindImportBatch }

func (p ImportBatchPayload) Items() []inventory.Item {
	return append([]inventory.Item(nil), p.Records...)
}

func (p ImportBatchPayload) validate() error {
	if len(p.Records) == 0 {
		return fmt.Errorf("%w: %s with no records", ErrInvalidCommand, KindImportBatch)
	}
	for _, it := range p.Records {
		if err := requireSKU(it); err != nil {
			return err
		}
	}
	return nil
}

func requireSKU(it inventory.Item) error {
	if it.SKU == "" {
		return fmt.Errorf("%w: record without sku", ErrInvalidCommand)
	}
	return nil
}

// Command is one queued mutation awaiting delivery.
type Command struct {
	ID         string
	Payload    Payload
	Timestamp  int64 // unix milliseconds
	Status     Status
	RetryCount int
}

// Type returns the payload's kind, or "" when the command has no payload.
func (c Command) Type() Kind {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Kind()
}

// Validate reports whether c carries everything its kind requires.
func (c Command) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCommand)
	}
	if c.Payload == nil {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidCommand, c.ID)
	}
	return c.Payload.validate()
}

type wireCommand struct {
	ID         string          `json:"id"`
	Type       Kind            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
	Status     Status          `json:"status,omitempty"`
	RetryCount int             `json:"retryCount,omitempty"`
}

// MarshalJSON encodes the backend wire shape: payload is a record for
// IMPORT and UPDATE, and an array of records for IMPORT_BATCH.
func (c Command) MarshalJSON() ([]byte, error) {
	var body any
	switch p := c.Payload.(type) {
	case ImportPayload:
		body = p.Item
	case UpdatePayload:
		body = p.Item
	case ImportBatchPayload:
		body = p.Records
	default:
		return nil, fmt.Errorf("%w: unknown payload %T", ErrInvalidCommand, c.Payload)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCommand{
		ID:         c.ID,
		Type:       c.Type(),
		Payload:    raw,
		Timestamp:  c.Timestamp,
		Status:     c.Status,
		RetryCount: c.RetryCount,
	})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var p Payload
	switch w.Type {
	case KindImport, KindUpdate:
		var it inventory.Item
		if err := json.Unmarshal(w.Payload, &it); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		if w.Type == KindImport {
			p = ImportPayload{Item: it}
		} else {
			p = UpdatePayload{Item: it}
		}
	case KindImportBatch:
		var items []inventory.Item
		if err := json.Unmarshal(w.Payload, &items); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
		p = ImportBatchPayload{Records: items}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, w.Type)
	}
	*c = Command{
		ID:         w.ID,
		Payload:    p,
		Timestamp:  w.Timestamp,
		Status:     w.Status,
		RetryCount: w.RetryCount,
	}
	return nil
}
