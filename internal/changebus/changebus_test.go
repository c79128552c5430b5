package changebus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	b := New(nil, nil)

	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(Event{Type: Created, MemoryHash: "abc"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, Created, ev.Type)
			assert.Equal(t, "abc", ev.MemoryHash)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, nil)
	ch, unsub := b.Subscribe()
	unsub()

	b.Publish(Event{Type: Deleted, MemoryHash: "xyz"})

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBus_DropsEventsWhenSubscriberBufferFull(t *testing.T) {
	b := New(nil, nil)
	_, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: Updated, MemoryHash: "flood"})
	}
	// Publishing more than the buffer size must not block or panic.
}
