package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/replica"
)

// ErrStopped is returned for requests made after the engine stopped.
var ErrStopped = errors.New("query engine stopped")

type requestKind int

const (
	requestSetData requestKind = iota + 1
	requestFilter
	requestExport
)

type request struct {
	kind     requestKind
	seq      int64
	snapshot *replica.Snapshot
	filter   FilterSpec
	sort     SortSpec
	columns  []Column
	reply    chan response
}

type response struct {
	result *Result
	data   []byte
	err    error
}

// Engine answers filter, sort, and export requests over the latest
// snapshot on a goroutine of its own.
//
// CRITICAL: the snapshot, the last result, and the text helpers are touched
// only by the Run loop goroutine. Callers talk to it through SetData,
// Filter, and Export, which are safe from any goroutine.
type Engine struct {
	requests *requestQueue
	clock    *Clock

	// Owned by the Run loop.
	snapshot *replica.Snapshot
	base     []inventory.Item
	last     []inventory.Item
	folder   *inventory.Folder
	sorter   *sorter
	exporter *exporter
}

// New returns an engine with no data. Call Run (or Start) before making
// requests.
func New() *Engine {
	return &Engine{
		requests: newRequestQueue(),
		clock:    NewClock(),
		folder:   inventory.NewFolder(),
		sorter:   newSorter(),
		exporter: newExporter(),
	}
}

// Start runs the engine on a new goroutine until ctx is cancelled or Stop
// is called.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("query engine stopped with error", "error", err)
		}
	}()
}

// Run processes requests in arrival order. Blocks until ctx is cancelled
// or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Debug("query engine starting")

	for {
		req, ok := e.requests.TryDequeue()
		if ok {
			e.process(req)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("query engine stopping: context cancelled")
			e.Stop()
			return ctx.Err()

		case <-e.requests.Wait():
			if e.requests.Drained() {
				slog.Debug("query engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the request queue. Waiting requests are answered with
// ErrStopped.
func (e *Engine) Stop() {
	for _, req := range e.requests.Close() {
		req.reply <- response{err: ErrStopped}
	}
}

// SetData replaces the engine's snapshot and forgets the last result.
func (e *Engine) SetData(ctx context.Context, s *replica.Snapshot) error {
	resp, err := e.call(ctx, request{kind: requestSetData, snapshot: s})
	if err != nil {
		return err
	}
	return resp.err
}

// Filter selects and orders rows of the current snapshot. The result also
// becomes the input of the next Export.
func (e *Engine) Filter(ctx context.Context, f FilterSpec, s SortSpec) (*Result, error) {
	resp, err := e.call(ctx, request{kind: requestFilter, filter: f, sort: s})
	if err != nil {
		return nil, err
	}
	return resp.result, resp.err
}

// Export renders the last Filter result. Nil cols means DefaultColumns.
func (e *Engine) Export(ctx context.Context, cols []Column) ([]byte, error) {
	if cols == nil {
		cols = DefaultColumns
	}
	resp, err := e.call(ctx, request{kind: requestExport, columns: cols})
	if err != nil {
		return nil, err
	}
	return resp.data, resp.err
}

func (e *Engine) call(ctx context.Context, req request) (response, error) {
	req.seq = e.clock.Next()
	req.reply = make(chan response, 1)
	if !e.requests.Enqueue(req) {
		return response{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case resp := <-req.reply:
		return resp, nil
	}
}

// process handles one request.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(req request) {
	var resp response
	switch req.kind {
	case requestSetData:
		e.snapshot = req.snapshot
		e.base = req.snapshot.Items()
		e.last = nil
		slog.Debug("query engine data set", "records", len(e.base), "version", req.snapshot.Version())

	case requestFilter:
		resp.result, resp.err = e.filter(req.seq, req.filter, req.sort)

	case requestExport:
		resp.data = e.exporter.render(e.last, req.columns)

	default:
		resp.err = fmt.Errorf("unknown request kind %d", req.kind)
	}
	req.reply <- resp
}

func (e *Engine) filter(seq int64, f FilterSpec, s SortSpec) (*Result, error) {
	m := newMatcher(e.folder, f)
	rows := make([]inventory.Item, 0, len(e.base))
	for i := range e.base {
		if m.match(&e.base[i]) {
			rows = append(rows, e.base[i])
		}
	}

	if f.ShowOddLots {
		sortByWeight(rows)
	} else {
		e.sorter.sort(rows, s)
	}
	e.last = rows

	buf, err := encodeRows(rows)
	if err != nil {
		return nil, err
	}
	return &Result{
		Seq:         seq,
		Count:       len(rows),
		TotalWeight: totalWeight(rows),
		Buffer:      buf,
	}, nil
}
