package bus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RelayFile is the name of the shared event log inside the data directory.
const RelayFile = "bus.jsonl"

// FileRelay connects buses in separate processes through an append-only
// JSON-lines file. Locally published events are appended; lines written by
// other origins are delivered to the local bus.
type FileRelay struct {
	bus     *Bus
	path    string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	offset int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFileRelay starts relaying events of b through dir/bus.jsonl. Only
// lines appended after the call are delivered.
func NewFileRelay(dir string, b *Bus) (*FileRelay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create relay dir: %w", err)
	}
	path := filepath.Join(dir, RelayFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open relay file: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("stat relay file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	r := &FileRelay{
		bus:     b,
		path:    path,
		watcher: watcher,
		offset:  info.Size(),
		done:    make(chan struct{}),
	}
	b.AddForwarder(r.append)

	r.wg.Add(1)
	go r.processEvents()
	return r, nil
}

// Close stops watching. Events published afterwards are no longer appended.
func (r *FileRelay) Close() error {
	select {
	case <-r.done:
		return nil
	default:
	}
	close(r.done)
	err := r.watcher.Close()
	r.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (r *FileRelay) append(e Event) {
	select {
	case <-r.done:
		return
	default:
	}
	line, err := json.Marshal(e)
	if err != nil {
		slog.Warn("relay: encode event failed", "error", err)
		return
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("relay: open failed", "path", r.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("relay: append failed", "path", r.path, "error", err)
	}
}

func (r *FileRelay) processEvents() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.readNew()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("relay: watch error", "error", err)
		}
	}
}

// readNew delivers complete lines appended since the last read. A trailing
// partial line is left for the next call.
func (r *FileRelay) readNew() {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		slog.Warn("relay: open failed", "path", r.path, "error", err)
		return
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < r.offset {
		r.offset = 0
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		r.offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Debug("relay: skipping malformed line", "error", err)
			continue
		}
		if e.Origin == r.bus.Origin() {
			continue
		}
		r.bus.Deliver(e)
	}
}
