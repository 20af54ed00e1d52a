// Package events carries run progress from pipeline stages to consumers
// (CLI progress output, dashboard SSE). Producers never block: a subscriber
// that stops draining its channel loses events rather than stalling the run.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/evident/internal/model"
)

// Level classifies an event for display purposes
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one progress notification. Seq is assigned by the bus and is
// strictly increasing, so any subscriber observes events in publish order.
type Event struct {
	Seq      int64                 `json:"seq"`
	Time     time.Time             `json:"time"`
	RunID    string                `json:"run_id,omitempty"`
	Stage    model.Stage           `json:"stage,omitempty"`
	Level    Level                 `json:"level"`
	Message  string                `json:"message"`
	Counters model.CounterSnapshot `json:"counters"`
}

// Bus is a multi-subscriber event stream
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	seq     atomic.Int64
	dropped atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a consumer with the given channel buffer and returns
// the event channel plus an unsubscribe function. The channel is closed on
// unsubscribe or bus close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
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
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}

	return ch, cancel
}

// Publish delivers the event to all subscribers without blocking. Events for
// subscribers with full buffers are dropped and counted.
func (b *Bus) Publish(e Event) {
	e.Seq = b.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus; all subscriber channels are closed and further
// publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
