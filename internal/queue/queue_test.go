package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/store"
)

var fixedNow = time.Date(2024, time.May, 6, 7, 8, 9, 0, time.Local)

func testBuilder(ids ...string) *Builder {
	return &Builder{
		IDs:   NewFixedGenerator(ids...),
		Actor: "lan",
		Now:   func() time.Time { return fixedNow },
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingApplier struct {
	mu    sync.Mutex
	items []inventory.Item
}

func (a *recordingApplier) Apply(_ context.Context, items []inventory.Item) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, items...)
	return nil
}

type failingKV struct{ puts int }

func (f *failingKV) Get(context.Context, string, string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (f *failingKV) Put(context.Context, string, string, []byte) error {
	f.puts++
	return errors.New("disk full")
}

func TestBuilder_NewImportStampsProvenance(t *testing.T) {
	b := testBuilder("c1")

	cmd, err := b.NewImport(inventory.Item{SKU: "S1", Importer: "someone", PendingOut: "giữ"})
	require.NoError(t, err)

	assert.Equal(t, "c1", cmd.ID)
	assert.Equal(t, KindImport, cmd.Type())
	assert.Equal(t, fixedNow.UnixMilli(), cmd.Timestamp)
	it := cmd.Payload.Items()[0]
	assert.Equal(t, "lan", it.Importer)
	assert.Equal(t, "06/05/2024 07:08:09", it.LastUpdated)
	assert.Equal(t, "giữ - lan 06/05/2024 07:08:09", it.PendingOut)
}

func TestBuilder_NewUpdatePreservesProvenance(t *testing.T) {
	b := testBuilder("c1", "c2")
	original := inventory.Item{SKU: "S1", Location: "K1", Importer: "minh", LastUpdated: "01/01/2024 00:00:00"}

	cmd, err := b.NewUpdate(original, func(it *inventory.Item) { it.Location = "K2" })
	require.NoError(t, err)
	it := cmd.Payload.Items()[0]
	assert.Equal(t, "K2", it.Location)
	assert.Equal(t, "minh", it.Importer)
	assert.Equal(t, "01/01/2024 00:00:00", it.LastUpdated)
	assert.Empty(t, it.PendingOut)

	// Editing provenance explicitly is honoured.
	cmd, err = b.NewUpdate(original, func(it *inventory.Item) { it.Importer = "hoa" })
	require.NoError(t, err)
	assert.Equal(t, "hoa", cmd.Payload.Items()[0].Importer)
}

func TestBuilder_NewUpdateRejectsSKUChange(t *testing.T) {
	_, err := testBuilder("c1").NewUpdate(inventory.Item{SKU: "S1"}, func(it *inventory.Item) { it.SKU = "S2" })
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestBuilder_AnnotatePending(t *testing.T) {
	b := testBuilder()
	assert.Equal(t, "", b.AnnotatePending("   "))
	assert.Equal(t, "xuất - lan 06/05/2024 07:08:09", b.AnnotatePending(" xuất "))
}

func TestBuilder_BulkPendingOnePayloadPerSKU(t *testing.T) {
	b := testBuilder("c1", "c2")
	db := map[string]inventory.Item{
		"A": {SKU: "A", Weight: 100, Importer: "minh"},
		"B": {SKU: "B", Weight: 200, Importer: "hoa"},
	}
	lookup := func(sku string) (inventory.Item, bool) {
		it, ok := db[sku]
		return it, ok
	}

	cmds, err := b.BulkPending([]string{"A", "missing", "B", "A"}, lookup, "giao")
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	a := cmds[0].Payload.Items()[0]
	bb := cmds[1].Payload.Items()[0]
	assert.Equal(t, 100.0, a.Weight)
	assert.Equal(t, "minh", a.Importer)
	assert.Equal(t, 200.0, bb.Weight)
	assert.Equal(t, "hoa", bb.Importer)
	assert.Equal(t, "giao - lan 06/05/2024 07:08:09", a.PendingOut)
	assert.Equal(t, a.PendingOut, bb.PendingOut)
}

func TestBuilder_ImportBatch(t *testing.T) {
	cmd, err := testBuilder("c1").ImportBatch([]inventory.Item{{SKU: "A"}, {SKU: "B"}})
	require.NoError(t, err)
	assert.Equal(t, KindImportBatch, cmd.Type())
	for _, it := range cmd.Payload.Items() {
		assert.Equal(t, "lan", it.Importer)
	}

	_, err = testBuilder("c2").ImportBatch(nil)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestCommand_WireShape(t *testing.T) {
	cmd := Command{
		ID:        "c1",
		Payload:   ImportBatchPayload{Records: []inventory.Item{{SKU: "A"}}},
		Timestamp: 10,
	}
	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "IMPORT_BATCH", wire["type"])
	assert.IsType(t, []any{}, wire["payload"])
	assert.NotContains(t, wire, "status")

	var back Command
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cmd, back)

	err = json.Unmarshal([]byte(`{"id":"x","type":"DELETE","payload":{}}`), &back)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestQueue_EnqueuePersistsThenApplies(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	applier := &recordingApplier{}
	q := New(st, applier)

	cmd, err := testBuilder("c1").NewImport(inventory.Item{SKU: "A"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, cmd))

	assert.Equal(t, 1, q.Len())
	require.Len(t, applier.items, 1)
	assert.Equal(t, "A", applier.items[0].SKU)

	raw, err := st.Get(ctx, store.PartitionQueue, StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"c1"`)
}

func TestQueue_NotDurableStillApplies(t *testing.T) {
	kv := &failingKV{}
	applier := &recordingApplier{}
	q := New(kv, applier)

	cmd, err := testBuilder("c1").NewImport(inventory.Item{SKU: "A"})
	require.NoError(t, err)

	err = q.Enqueue(context.Background(), cmd)
	require.ErrorIs(t, err, ErrNotDurable)
	assert.Equal(t, persistAttempts, kv.puts)
	assert.Len(t, applier.items, 1, "optimistic mutation still applied")
	assert.Equal(t, 1, q.Len())
}

func TestQueue_RejectsInvalid(t *testing.T) {
	q := New(nil, nil)
	err := q.Enqueue(context.Background(), Command{ID: "x", Payload: UpdatePayload{}})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RemoveKeepsLaterCommands(t *testing.T) {
	ctx := context.Background()
	q := New(openStore(t), nil)
	b := testBuilder("c1", "c2", "c3")

	for _, sku := range []string{"A", "B"} {
		cmd, err := b.NewImport(inventory.Item{SKU: sku})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, cmd))
	}
	inFlight := q.Commands()

	// Arrives while the batch is in flight.
	late, err := b.NewImport(inventory.Item{SKU: "C"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, late))

	require.NoError(t, q.Remove(ctx, []string{inFlight[0].ID, inFlight[1].ID}))

	left := q.Commands()
	require.Len(t, left, 1)
	assert.Equal(t, "c3", left[0].ID)
}

func TestQueue_LoadAfterRestart(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	q1 := New(st, nil)
	cmd, err := testBuilder("c1").NewImport(inventory.Item{SKU: "A", Weight: 5})
	require.NoError(t, err)
	require.NoError(t, q1.Enqueue(ctx, cmd))

	q2 := New(st, nil)
	cmds, err := q2.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmd, cmds[0])

	require.NoError(t, q2.Clear(ctx))
	cmds, err = New(st, nil).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

type flakyKV struct {
	inner KV
	fail  bool
}

func (f *flakyKV) Get(ctx context.Context, p, k string) ([]byte, error) {
	return f.inner.Get(ctx, p, k)
}

func (f *flakyKV) Put(ctx context.Context, p, k string, v []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.inner.Put(ctx, p, k, v)
}

func TestQueue_RefreshDropsDeliveredKeepsUnsaved(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	kv := &flakyKV{inner: st}
	b := testBuilder("c1", "c2", "c3")

	ours := New(kv, nil)
	theirs := New(st, nil)

	c1, _ := b.NewImport(inventory.Item{SKU: "A"})
	require.NoError(t, ours.Enqueue(ctx, c1))

	kv.fail = true
	c2, _ := b.NewImport(inventory.Item{SKU: "B"})
	require.ErrorIs(t, ours.Enqueue(ctx, c2), ErrNotDurable)
	kv.fail = false

	// Another process delivers c1 and clears it from the store.
	_, err := theirs.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, theirs.Remove(ctx, []string{"c1"}))

	require.NoError(t, ours.Refresh(ctx))
	left := ours.Commands()
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].ID)

	persisted, err := New(st, nil).Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1, "unsaved command written on refresh")
	assert.Equal(t, "c2", persisted[0].ID)
}
