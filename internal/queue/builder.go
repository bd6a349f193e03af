package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/stockroom/internal/inventory"
)

// Builder turns user edits into commands stamped with the acting user and
// the current time.
type Builder struct {
	IDs   IDGenerator
	Actor string
	Now   func() time.Time
}

// NewBuilder returns a Builder using UUIDv7 ids and the wall clock.
func NewBuilder(actor string) *Builder {
	return &Builder{IDs: UUIDv7Generator{}, Actor: actor, Now: time.Now}
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Builder) command(p Payload, at time.Time) Command {
	ids := b.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return Command{
		ID:        ids.Generate(),
		Payload:   p,
		Timestamp: at.UnixMilli(),
		Status:    StatusPending,
	}
}

// AnnotatePending stamps a pending-out note with the actor and time:
// "<text> - <actor> DD/MM/YYYY HH:MM:SS". Blank text yields "".
func (b *Builder) AnnotatePending(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return fmt.Sprintf("%s - %s %s", text, b.Actor, inventory.FormatDateTime(b.now()))
}

// NewImport creates a record. The actor becomes its importer and the
// current time its lastUpdated.
func (b *Builder) NewImport(item inventory.Item) (Command, error) {
	at := b.now()
	item.Importer = b.Actor
	item.LastUpdated = inventory.FormatDateTime(at)
	item.PendingOut = b.AnnotatePending(item.PendingOut)
	cmd := b.command(ImportPayload{Item: item}, at)
	return cmd, cmd.Validate()
}

// NewUpdate edits original through mutate and returns a command carrying
// the complete edited record. Provenance (importer, lastUpdated) is kept
// from original unless mutate sets it. A changed pendingOut is annotated.
func (b *Builder) NewUpdate(original inventory.Item, mutate func(*inventory.Item)) (Command, error) {
	at := b.now()
	edited := original
	if mutate != nil {
		mutate(&edited)
	}
	if edited.SKU != original.SKU {
		return Command{}, fmt.Errorf("%w: sku is immutable (%q -> %q)", ErrInvalidCommand, original.SKU, edited.SKU)
	}
	if edited.PendingOut != original.PendingOut {
		edited.PendingOut = b.AnnotatePending(edited.PendingOut)
	}
	cmd := b.command(UpdatePayload{Item: edited}, at)
	return cmd, cmd.Validate()
}

// NewBulkUpdate applies mutate to every known sku and returns one UPDATE
// per record, each carrying that record's full contents. Unknown and
// repeated skus are skipped.
func (b *Builder) NewBulkUpdate(skus []string, lookup func(string) (inventory.Item, bool), mutate func(*inventory.Item)) ([]Command, error) {
	seen := make(map[string]struct{}, len(skus))
	var cmds []Command
	for _, sku := range skus {
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		original, ok := lookup(sku)
		if !ok {
			continue
		}
		cmd, err := b.NewUpdate(original, mutate)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// BulkPending sets (or, with blank text, clears) the pending-out note on
// every known sku.
func (b *Builder) BulkPending(skus []string, lookup func(string) (inventory.Item, bool), text string) ([]Command, error) {
	return b.NewBulkUpdate(skus, lookup, func(it *inventory.Item) {
		it.PendingOut = strings.TrimSpace(text)
	})
}

// ImportBatch creates several records in one command, each stamped like
// NewImport.
func (b *Builder) ImportBatch(items []inventory.Item) (Command, error) {
	at := b.now()
	stamp := inventory.FormatDateTime(at)
	records := make([]inventory.Item, len(items))
	for i, it := range items {
		it.Importer = b.Actor
		it.LastUpdated = stamp
		it.PendingOut = b.AnnotatePending(it.PendingOut)
		records[i] = it
	}
	cmd := b.command(ImportBatchPayload{Records: records}, at)
	return cmd, cmd.Validate()
}
