// Package events fans ledger changes out to in-process subscribers such as
// the SSE stream.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"cryptotrader/internal/trading"
)

type Type string

const (
	OrderUpdated    Type = "order.updated"
	PositionUpdated Type = "position.updated"
)

// Event carries a snapshot of the changed entity. Exactly one of Order and
// Position is set.
type Event struct {
	Type     Type              `json:"type"`
	At       time.Time         `json:"at"`
	Order    *trading.Order    `json:"order,omitempty"`
	Position *trading.Position `json:"position,omitempty"`
}

func OrderEvent(o trading.Order) Event {
	return Event{Type: OrderUpdated, At: o.UpdatedAt, Order: &o}
}

func PositionEvent(p trading.Position) Event {
	return Event{Type: PositionUpdated, At: p.UpdatedAt, Position: &p}
}

// Publisher is what the managers depend on.
type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	ch chan Event
}

// Bus delivers events without ever blocking the publisher: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
	onDrop  func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// OnDrop registers a callback run for every dropped delivery.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
