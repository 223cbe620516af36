package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(EventPriceTick, 1)
	b, unsubB := bus.Subscribe(EventPriceTick, 1)
	defer unsubA()
	defer unsubB()

	bus.Publish(EventPriceTick, 42)
	assert.Equal(t, 42, <-a)
	assert.Equal(t, 42, <-b)
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventRiskAlert, 1)
	defer unsub()

	bus.Publish(EventRiskAlert, "first")
	bus.Publish(EventRiskAlert, "second")
	assert.Equal(t, "first", <-ch)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderFilled, 1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(EventOrderFilled, "ignored")
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeRecorded, 1)
	bus.Close()
	unsub()

	_, ok := <-ch
	require.False(t, ok)

	late, _ := bus.Subscribe(EventTradeRecorded, 1)
	_, ok = <-late
	assert.False(t, ok)
}
