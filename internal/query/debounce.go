package query

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period applied to free-text search input.
const DefaultDebounce = 350 * time.Millisecond

// Debouncer delivers only the last of a burst of values, once no new value
// has arrived for the quiet period.
type Debouncer[T any] struct {
	delay   time.Duration
	deliver func(T)

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewDebouncer returns a debouncer calling deliver on its own goroutine.
func NewDebouncer[T any](delay time.Duration, deliver func(T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer[T]{delay: delay, deliver: deliver}
}

// Push records v, replacing any value still waiting.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.gen == gen
		d.mu.Unlock()
		if current {
			d.deliver(v)
		}
	})
}

// Flush delivers v immediately and drops any value still waiting. Range
// and toggle changes use it to skip the quiet period.
func (d *Debouncer[T]) Flush(v T) {
	d.Cancel()
	d.deliver(v)
}

// Cancel drops any value still waiting.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Latest filters results so that an answer to an older request never
// replaces the answer to a newer one.
type Latest struct {
	mu  sync.Mutex
	seq int64
}

// Accept reports whether r is newer than every result accepted so far.
func (l *Latest) Accept(r *Result) bool {
	if r == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Seq <= l.seq {
		return false
	}
	l.seq = r.Seq
	return true
}
