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

	"github.com/fleetglue/automation/types"
)

func testEvent(eventType types.EventType) types.Event {
	return types.Event{
		Type:     eventType,
		TenantID: "T1",
		Source:   types.SourceModel{Type: "Device", ID: "dev-1"},
		Data:     map[string]interface{}{"balance": 3},
	}
}

func TestSubscribeAndPublishSync(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var received types.Event
	bus.SubscribeFunc(types.EventDeviceAlertRaised, func(ctx context.Context, event types.Event) error {
		received = event
		return nil
	})

	errs := bus.PublishSync(context.Background(), testEvent(types.EventDeviceAlertRaised))
	assert.Empty(t, errs)
	assert.Equal(t, types.EventDeviceAlertRaised, received.Type)
	assert.Equal(t, "T1", received.TenantID)
}

func TestPublishSyncCollectsHandlerErrors(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	handlerErr := errors.New("handler failed")
	bus.SubscribeFunc(types.EventTripEnded, func(ctx context.Context, event types.Event) error {
		return handlerErr
	})
	bus.SubscribeFunc(types.EventTripEnded, func(ctx context.Context, event types.Event) error {
		return nil
	})

	errs := bus.PublishSync(context.Background(), testEvent(types.EventTripEnded))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], handlerErr)
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var count int32
	var wg sync.WaitGroup
	wg.Add(1)
	bus.SubscribeFunc(types.EventDeviceAlertRaised, func(ctx context.Context, event types.Event) error {
		atomic.AddInt32(&count, 1)
		wg.Done()
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent(types.EventDeviceAlertRaised)))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var seen []types.EventType
	var mu sync.Mutex
	bus.SubscribeAll(HandlerFunc(func(ctx context.Context, event types.Event) error {
		mu.Lock()
		seen = append(seen, event.Type)
		mu.Unlock()
		return nil
	}))

	assert.True(t, bus.HasSubscribers(types.EventTripStarted))

	bus.PublishSync(context.Background(), testEvent(types.EventTripStarted))
	bus.PublishSync(context.Background(), testEvent(types.EventGeofenceEntered))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []types.EventType{types.EventTripStarted, types.EventGeofenceEntered}, seen)
}

func TestPublishWithoutHandlers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	err := bus.Publish(context.Background(), testEvent(types.EventTripEnded))
	assert.ErrorIs(t, err, ErrNoHandler)

	errs := bus.PublishSync(context.Background(), testEvent(types.EventTripEnded))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoHandler)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	handler := HandlerFunc(func(ctx context.Context, event types.Event) error { return nil })
	bus.Subscribe(types.EventTripEnded, handler)
	assert.True(t, bus.HasSubscribers(types.EventTripEnded))

	assert.True(t, bus.Unsubscribe(types.EventTripEnded, handler))
	assert.False(t, bus.HasSubscribers(types.EventTripEnded))
	assert.False(t, bus.Unsubscribe(types.EventTripEnded, handler))
}

func TestPublishAfterStop(t *testing.T) {
	bus := NewBus()
	bus.SubscribeFunc(types.EventTripEnded, func(ctx context.Context, event types.Event) error { return nil })
	bus.Stop()

	assert.ErrorIs(t, bus.Publish(context.Background(), testEvent(types.EventTripEnded)), ErrBusClosed)

	errs := bus.PublishSync(context.Background(), testEvent(types.EventTripEnded))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrBusClosed)
}

func TestPublishChannelFull(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	defer bus.Stop()

	block := make(chan struct{})
	bus.SubscribeFunc(types.EventTripEnded, func(ctx context.Context, event types.Event) error {
		<-block
		return nil
	})

	// First publish is picked up by the processor and blocks; keep
	// publishing until the buffer rejects.
	deadline := time.After(2 * time.Second)
	for {
		err := bus.Publish(context.Background(), testEvent(types.EventTripEnded))
		if errors.Is(err, ErrChannelFull) {
			break
		}
		require.NoError(t, err)
		select {
		case <-deadline:
			t.Fatal("channel never filled")
		default:
		}
	}
	close(block)
}

func TestPublishCanceledContext(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, testEvent(types.EventTripEnded)), context.Canceled)
}
