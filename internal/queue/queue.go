package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/store"
)

// StorageKey is the key of the command list inside the queue partition.
const StorageKey = "pendingCommands"

// ErrNotDurable is returned when a command was applied to the replica but
// could not be written to the store. It stays queued in memory only and is
// lost if the process exits before the next successful write.
var ErrNotDurable = errors.New("command not persisted")

// KV is the slice of the durable store the queue needs.
type KV interface {
	Get(ctx context.Context, partition, key string) ([]byte, error)
	Put(ctx context.Context, partition, key string, value []byte) error
}

// Applier makes queued edits visible locally before they are delivered.
type Applier interface {
	Apply(ctx context.Context, items []inventory.Item) error
}

const (
	persistAttempts = 3
	persistBackoff  = 50 * time.Millisecond
)

// Queue is the ordered list of commands awaiting delivery. It is the only
// writer of the persisted command list, which is replaced as a whole on
// every change.
type Queue struct {
	mu       sync.Mutex
	commands []Command
	kv       KV
	applier  Applier
	unsaved  map[string]struct{} // ids whose last write failed
}

// New returns an empty queue persisting to kv and applying edits through
// applier. Either may be nil.
func New(kv KV, applier Applier) *Queue {
	return &Queue{kv: kv, applier: applier, unsaved: make(map[string]struct{})}
}

// Load replaces the in-memory list with the persisted one and returns it.
func (q *Queue) Load(ctx context.Context) ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.kv == nil {
		return q.snapshotLocked(), nil
	}
	raw, err := q.kv.Get(ctx, store.PartitionQueue, StorageKey)
	if errors.Is(err, store.ErrNotFound) {
		q.commands = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var cmds []Command
	if err := json.Unmarshal(raw, &cmds); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	q.commands = cmds
	q.unsaved = make(map[string]struct{})
	return q.snapshotLocked(), nil
}

// Refresh re-reads the persisted list, which another process may have
// shortened by delivering commands. Commands that never reached the store
// are kept and written again.
func (q *Queue) Refresh(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.kv == nil {
		return nil
	}
	raw, err := q.kv.Get(ctx, store.PartitionQueue, StorageKey)
	var stored []Command
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("refresh queue: %w", err)
	default:
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode queue: %w", err)
		}
	}

	present := make(map[string]struct{}, len(stored))
	for _, c := range stored {
		present[c.ID] = struct{}{}
	}
	for _, c := range q.commands {
		if _, lost := q.unsaved[c.ID]; !lost {
			continue
		}
		if _, ok := present[c.ID]; !ok {
			stored = append(stored, c)
		}
	}
	q.commands = stored
	if len(q.unsaved) == 0 {
		return nil
	}
	return q.persistLocked(ctx)
}

// Enqueue appends cmd, persists the list, then applies cmd's records to
// the replica. When persistence fails the records are still applied and
// the returned error wraps ErrNotDurable.
func (q *Queue) Enqueue(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Status == "" {
		cmd.Status = StatusPending
	}

	q.mu.Lock()
	q.commands = append(q.commands, cmd)
	persistErr := q.persistLocked(ctx)
	if persistErr != nil {
		q.unsaved[cmd.ID] = struct{}{}
	}
	q.mu.Unlock()

	if persistErr != nil {
		slog.Error("queue write failed, command kept in memory only",
			"command_id", cmd.ID,
			"error", persistErr,
		)
		persistErr = fmt.Errorf("%w: %s: %w", ErrNotDurable, cmd.ID, persistErr)
	}

	var applyErr error
	if q.applier != nil {
		if err := q.applier.Apply(ctx, cmd.Payload.Items()); err != nil {
			applyErr = fmt.Errorf("apply %s: %w", cmd.ID, err)
		}
	}

	slog.Debug("command enqueued", "command_id", cmd.ID, "type", cmd.Type())
	return errors.Join(persistErr, applyErr)
}

// Commands returns a copy of the queued commands in enqueue order.
func (q *Queue) Commands() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Remove drops the commands with the given ids and persists the rest.
// Commands enqueued after a batch was taken are not affected.
func (q *Queue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.commands[:0:0]
	for _, c := range q.commands {
		if _, ok := drop[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	q.commands = kept
	return q.persistLocked(ctx)
}

// Clear drops every queued command.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commands = nil
	return q.persistLocked(ctx)
}

func (q *Queue) snapshotLocked() []Command {
	return append([]Command(nil), q.commands...)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if q.kv == nil {
		return nil
	}
	cmds := q.commands
	if cmds == nil {
		cmds = []Command{}
	}
	data, err := json.Marshal(cmds)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(persistBackoff * time.Duration(attempt)):
			}
		}
		if lastErr = q.kv.Put(ctx, store.PartitionQueue, StorageKey, data); lastErr == nil {
			clear(q.unsaved)
			return nil
		}
	}
	return lastErr
}
