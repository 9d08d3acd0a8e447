package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New[string]()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish("hello")

	select {
	case got := <-sub.Events():
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := New[int]()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-sub.Events():
			assert.Equal(t, i, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New[string]()
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	bus.Publish("should not be received")

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishNeverBlocksOnSaturatedSubscriber(t *testing.T) {
	bus := New[int]()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueCapacity*2; i++ {
			bus.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a saturated subscriber queue")
	}

	require.Equal(t, 1, bus.SubscriberCount())
}
