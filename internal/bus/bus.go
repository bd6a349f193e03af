// Package bus broadcasts sync outcomes to every interested party in the
// process, and through FileRelay to other processes sharing a data
// directory.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/stockroom/internal/transport"
)

// EventType names a bus message.
type EventType string

const (
	SyncComplete EventType = "SYNC_COMPLETE"
	SyncError    EventType = "SYNC_ERROR"
)

// Event reports the end of one batch attempt.
type Event struct {
	Type    EventType                 `json:"type"`
	Count   int                       `json:"count"`
	Results []transport.CommandResult `json:"results,omitempty"`
	Error   string                    `json:"error,omitempty"`
	// IDs lists the submitted command ids.
	IDs    []string `json:"ids,omitempty"`
	Origin string   `json:"origin,omitempty"`
	At     int64    `json:"at,omitempty"`
}

// Bus is a fire-and-forget publish/subscribe hub. Channel subscribers that
// fall behind lose events; handlers run synchronously on the publishing
// goroutine.
type Bus struct {
	origin string

	mu         sync.RWMutex
	nextID     int
	subs       map[int]chan Event
	handlers   map[int]func(Event)
	forwarders []func(Event)
	closed     bool
}

// New returns a bus with a fresh origin id.
func New() *Bus {
	return &Bus{
		origin:   uuid.Must(uuid.NewV7()).String(),
		subs:     make(map[int]chan Event),
		handlers: make(map[int]func(Event)),
	}
}

// Origin identifies events published on this bus.
func (b *Bus) Origin() string {
	return b.origin
}

// Publish stamps e with this bus's origin, delivers it locally, and hands it
// to every forwarder.
func (b *Bus) Publish(e Event) {
	if e.Origin == "" {
		e.Origin = b.origin
	}
	if e.At == 0 {
		e.At = time.Now().UnixMilli()
	}
	b.Deliver(e)

	b.mu.RLock()
	forwarders := append(([]func(Event))(nil), b.forwarders...)
	b.mu.RUnlock()
	for _, f := range forwarders {
		f(e)
	}
}

// Deliver passes e to local handlers and subscribers only.
func (b *Bus) Deliver(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribe returns a channel receiving events and a function that ends the
// subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Handle registers fn to run for every delivered event and returns a
// function that removes it.
func (b *Bus) Handle(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// AddForwarder registers fn to receive every locally published event.
func (b *Bus) AddForwarder(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarders = append(b.forwarders, fn)
}

// Close ends every subscription. Later events are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.handlers = map[int]func(Event){}
}
