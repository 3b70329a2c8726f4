package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans events out to sinks (synchronously, they must be non-blocking)
// and to channel subscribers (best-effort, slow subscribers lose events).
type Bus struct {
	mu    sync.RWMutex
	sinks []Publisher
	subs  map[int]chan Event
	next  int

	dropped uint64

	Now func() time.Time
}

func NewBus(sinks ...Publisher) *Bus {
	return &Bus{sinks: sinks, subs: map[int]chan Event{}, Now: time.Now}
}

// AddSink registers an additional sink.
func (b *Bus) AddSink(p Publisher) {
	if p == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, p)
}

func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = b.Now().UTC()
	}

	b.mu.RLock()
	sinks := b.sinks
	var missed uint64
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			missed++
		}
	}
	b.mu.RUnlock()

	if missed > 0 {
		b.mu.Lock()
		b.dropped += missed
		b.mu.Unlock()
	}
	for _, s := range sinks {
		s.Publish(e)
	}
}

// Subscribe returns a buffered channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped reports how many subscriber deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
