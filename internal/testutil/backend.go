package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// BatchHandler decides the reply to one batch. It receives the decoded
// commands; the returned value is written back as JSON.
type BatchHandler func(commands []map[string]any) any

// Backend is an in-process fake of the inventory backend.
//
// By default every batch succeeds command by command and every delta fetch
// returns the configured rows.
type Backend struct {
	*httptest.Server

	mu           sync.Mutex
	rows         [][]any
	serverTS     int64
	onBatch      BatchHandler
	failures     []int
	html         bool
	gate         chan struct{}
	batches      [][]map[string]any
	deltaSince   []int64
	batchStarted chan struct{}
}

// NewBackend starts a fake backend closed at test cleanup.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{batchStarted: make(chan struct{}, 16)}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

// SetRows sets the rows returned by every delta fetch.
func (b *Backend) SetRows(serverTS int64, rows ...[]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = rows
	b.serverTS = serverTS
}

// OnBatch replaces the batch reply.
func (b *Backend) OnBatch(h BatchHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBatch = h
}

// FailNext makes the next requests answer with the given statuses, one per
// request.
func (b *Backend) FailNext(statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, statuses...)
}

// ServeHTML makes every response an HTML page.
func (b *Backend) ServeHTML(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.html = on
}

// Hold makes batch requests block until Release is called.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

// Release unblocks held batch requests.
func (b *Backend) Release() {
	b.mu.Lock()
	gate := b.gate
	b.gate = nil
	b.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// BatchStarted signals each time a batch request arrives.
func (b *Backend) BatchStarted() <-chan struct{} {
	return b.batchStarted
}

// Batches returns the command lists received so far.
func (b *Backend) Batches() [][]map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]map[string]any(nil), b.batches...)
}

// DeltaSince returns the lastUpdated parameter of every delta fetch.
func (b *Backend) DeltaSince() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.deltaSince...)
}

// AllSucceed replies with one successful result per command.
func AllSucceed(commands []map[string]any) any {
	results := make([]map[string]any, len(commands))
	for i, c := range commands {
		results[i] = map[string]any{"id": c["id"], "success": true, "message": "ok"}
	}
	return map[string]any{"success": true, "results": results}
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	var status int
	if len(b.failures) > 0 {
		status = b.failures[0]
		b.failures = b.failures[1:]
	}
	html := b.html
	b.mu.Unlock()

	if html {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<html><body>Sign in</body></html>")
		return
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch r.Method {
	case http.MethodGet:
		b.serveDelta(w, r)
	case http.MethodPost:
		b.serveBatch(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *Backend) serveDelta(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") != "getInventory" {
		writeJSON(w, map[string]any{"status": "ok"})
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("lastUpdated"), 10, 64)

	b.mu.Lock()
	b.deltaSince = append(b.deltaSince, since)
	rows := b.rows
	ts := b.serverTS
	b.mu.Unlock()

	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, map[string]any{"data": rows, "serverTimestamp": ts})
}

func (b *Backend) serveBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string           `json:"action"`
		Commands []map[string]any `json:"commands"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action != "batch" {
		writeJSON(w, map[string]any{"success": false, "message": "bad request"})
		return
	}

	b.mu.Lock()
	b.batches = append(b.batches, req.Commands)
	gate := b.gate
	h := b.onBatch
	b.mu.Unlock()

	select {
	case b.batchStarted <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if h == nil {
		h = AllSucceed
	}
	writeJSON(w, h(req.Commands))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
