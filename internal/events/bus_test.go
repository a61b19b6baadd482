package events

import (
	"testing"

	"cryptotrader/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribersReceiveEvents(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(OrderEvent(trading.Order{ID: "o-1", Status: trading.OrderOpen}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, OrderUpdated, ev.Type)
		require.NotNil(t, ev.Order)
		assert.Equal(t, "o-1", ev.Order.ID)
		assert.False(t, ev.At.IsZero())
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	drops := 0
	b.OnDrop(func() { drops++ })
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(PositionEvent(trading.Position{ID: "p-1"}))
	b.Publish(PositionEvent(trading.Position{ID: "p-2"}))
	b.Publish(PositionEvent(trading.Position{ID: "p-3"}))

	assert.EqualValues(t, 2, b.Dropped())
	assert.Equal(t, 2, drops)
	ev := <-ch
	assert.Equal(t, "p-1", ev.Position.ID)
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	assert.Equal(t, 1, b.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())

	b.Publish(OrderEvent(trading.Order{ID: "late"}))
	assert.EqualValues(t, 0, b.Dropped())
}
