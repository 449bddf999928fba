package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var (
		mu  sync.Mutex
		got []Event
	)
	bus.Subscribe(EventLinkVerified, "test", func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	bus.Emit(context.Background(), Event{
		Type:    EventLinkVerified,
		Source:  "test",
		Payload: VerifiedPayload{PlayerID: 5},
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, got[0].Timestamp.IsZero(), "emit stamps the event")
	assert.Equal(t, int32(5), got[0].Payload.(VerifiedPayload).PlayerID)
}

func TestEventBus_SubscribeManyAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	handler := func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}
	bus.SubscribeMany(LinkEventTypes, "journal", handler)

	for _, et := range LinkEventTypes {
		assert.Equal(t, 1, bus.HandlerCount(et))
	}

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventLinkDropped}))
	assert.Equal(t, int32(1), calls.Load())

	bus.Unsubscribe(EventLinkDropped, "journal")
	assert.Zero(t, bus.HandlerCount(EventLinkDropped))
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventLinkDropped}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEventBus_EmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventLinkRemoteError, "fails", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventLinkRemoteError, "panics", func(context.Context, Event) error { panic("bad handler") })

	err := bus.EmitSync(context.Background(), Event{Type: EventLinkRemoteError})
	assert.ErrorIs(t, err, boom)
}

func TestEventBus_StopWaitsAndRejects(t *testing.T) {
	bus := NewEventBus()

	var done atomic.Bool
	bus.Subscribe(EventLinkStopped, "slow", func(context.Context, Event) error {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLinkStopped})
	bus.Stop()
	assert.True(t, done.Load(), "stop waits for in-flight handlers")

	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel should be closed")
	}

	// Ignored after stop.
	done.Store(false)
	bus.Emit(context.Background(), Event{Type: EventLinkStopped})
	time.Sleep(30 * time.Millisecond)
	assert.False(t, done.Load())
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var bus *EventBus
	bus.Emit(context.Background(), Event{Type: EventShutdown})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}))
}
