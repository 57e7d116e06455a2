package inproc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evt struct {
	ID string `json:"id"`
}

func TestBus_FanoutToEverySubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	var a, b int32
	require.NoError(t, bus.Subscribe(ctx, "order.created", func(context.Context, []byte) error {
		atomic.AddInt32(&a, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "order.created", func(context.Context, []byte) error {
		atomic.AddInt32(&b, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "order.deleted", func(context.Context, []byte) error {
		t.Error("unexpected delivery on another topic")
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "order.created", evt{ID: "1"}))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBus_InOrderWithinTopic(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	got := make(chan string, 3)
	require.NoError(t, bus.Subscribe(ctx, "t", func(_ context.Context, body []byte) error {
		got <- string(body)
		return nil
	}))
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, bus.Publish(ctx, "t", evt{ID: id}))
	}

	for _, want := range []string{`{"id":"1"}`, `{"id":"2"}`, `{"id":"3"}`} {
		select {
		case body := <-got:
			assert.Equal(t, want, body)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := New(WithQueueSize(1))
	ctx := context.Background()
	release := make(chan struct{})
	var handled int32
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, []byte) error {
		<-release
		atomic.AddInt32(&handled, 1)
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(ctx, "t", evt{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	require.NoError(t, bus.Close())
	assert.Less(t, atomic.LoadInt32(&handled), int32(10))
}

func TestBus_HandlerFailureIsIsolated(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx := context.Background()

	var calls int32
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, []byte) error {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("failed")
		}
		return nil
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, "t", evt{}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, 5*time.Millisecond)
}

func TestBus_Closed(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), "t", evt{}), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), "t", nil), ErrClosed)
}

func TestBus_PublishCancelled(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, bus.Publish(ctx, "t", evt{}), context.Canceled)
}

func TestBus_CancelledSubscriptionIsRemoved(t *testing.T) {
	bus := New()
	defer bus.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	var stale, live int32
	require.NoError(t, bus.Subscribe(subCtx, "t", func(context.Context, []byte) error {
		atomic.AddInt32(&stale, 1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(context.Background(), "t", func(context.Context, []byte) error {
		atomic.AddInt32(&live, 1)
		return nil
	}))
	require.Equal(t, 2, subscriberCount(bus, "t"))

	cancel()
	assert.Eventually(t, func() bool { return subscriberCount(bus, "t") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "t", evt{ID: "1"}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&live) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&stale))
}

func subscriberCount(b *Bus, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
