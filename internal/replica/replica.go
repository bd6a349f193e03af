package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/transport"
)

// DeltaSource fetches records changed after a watermark.
type DeltaSource interface {
	FetchDelta(ctx context.Context, since int64) (*transport.DeltaResponse, error)
}

// Sink receives every new snapshot. The query engine is the usual sink.
type Sink interface {
	SetData(ctx context.Context, s *Snapshot) error
}

// Replica owns the current snapshot and is its only writer. Both the delta
// pull and optimistic local edits go through Merge here.
type Replica struct {
	mu      sync.Mutex
	current *Snapshot
	source  DeltaSource
	cache   *Cache
	sink    Sink
}

// Option configures a Replica.
type Option func(*Replica)

// WithCache persists every new snapshot.
func WithCache(c *Cache) Option {
	return func(r *Replica) { r.cache = c }
}

// WithSink forwards every new snapshot to s.
func WithSink(s Sink) Option {
	return func(r *Replica) { r.sink = s }
}

// New returns an empty replica pulling from source (which may be nil for a
// replica that only receives local edits).
func New(source DeltaSource, opts ...Option) *Replica {
	r := &Replica{source: source}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the latest snapshot.
func (r *Replica) Current() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Restore loads the cached snapshot, if any, and publishes it.
func (r *Replica) Restore(ctx context.Context) (*Snapshot, error) {
	if r.cache == nil {
		return r.Current(), nil
	}
	cached, err := r.cache.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore replica: %w", err)
	}
	if cached == nil {
		return r.Current(), nil
	}
	r.mu.Lock()
	r.current = Merge(r.current, cached.Items())
	snap := r.current
	r.mu.Unlock()

	slog.Debug("replica restored from cache", "records", snap.Len())
	return snap, r.publish(ctx, snap, false)
}

// Pull fetches the delta since the current watermark and merges it. changed
// is false when the delta held nothing to apply.
func (r *Replica) Pull(ctx context.Context) (*Snapshot, bool, error) {
	if r.source == nil {
		return r.Current(), false, nil
	}
	watermark := Watermark(r.Current())

	resp, err := r.source.FetchDelta(ctx, watermark)
	if err != nil {
		return r.Current(), false, fmt.Errorf("pull since %d: %w", watermark, err)
	}
	delta := Transform(resp.Data)

	r.mu.Lock()
	prev := r.current
	r.current = Merge(prev, delta)
	snap := r.current
	r.mu.Unlock()

	if snap == prev {
		slog.Debug("replica pull: no changes", "watermark", watermark)
		return snap, false, nil
	}
	slog.Info("replica pulled",
		"rows", len(resp.Data),
		"records", snap.Len(),
		"watermark", watermark,
		"server_timestamp", resp.ServerTimestamp,
	)
	return snap, true, r.publish(ctx, snap, true)
}

// Apply merges locally edited records into the replica so they are visible
// before the backend confirms them.
func (r *Replica) Apply(ctx context.Context, items []inventory.Item) error {
	r.mu.Lock()
	prev := r.current
	r.current = Merge(prev, items)
	snap := r.current
	r.mu.Unlock()

	if snap == prev {
		return nil
	}
	return r.publish(ctx, snap, true)
}

// publish hands snap to the sink and, when persist is set, the cache.
// Cache failures are logged, not returned.
func (r *Replica) publish(ctx context.Context, snap *Snapshot, persist bool) error {
	if persist && r.cache != nil {
		if err := r.cache.Save(ctx, snap); err != nil {
			slog.Warn("replica cache write failed", "error", err)
		}
	}
	if r.sink == nil {
		return nil
	}
	if err := r.sink.SetData(ctx, snap); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}
