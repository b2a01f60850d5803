package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSubscribeOrderPreserved(t *testing.T) {
	b := New(zerolog.Nop(), 0)
	b.Start()
	defer b.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(TradeExecuted, func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Publish(Event{Kind: TradeExecuted, Source: "A1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPanicInHandlerDoesNotStopOthers(t *testing.T) {
	b := New(zerolog.Nop(), 0)
	b.Start()
	defer b.Shutdown(context.Background())

	var called int32
	b.Subscribe(PositionOpened, func(Event) { panic("boom") })
	b.Subscribe(PositionOpened, func(Event) { atomic.AddInt32(&called, 1) })

	b.Publish(Event{Kind: PositionOpened})

	waitFor(t, func() bool { return atomic.LoadInt32(&called) == 1 })
}

func TestShutdownDrainsQueue(t *testing.T) {
	b := New(zerolog.Nop(), 0)
	b.Start()

	var count int32
	b.Subscribe(QuoteUpdate, func(Event) { atomic.AddInt32(&count, 1) })

	for i := 0; i < 20; i++ {
		b.Publish(Event{Kind: QuoteUpdate})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Shutdown(ctx))

	assert.Equal(t, int32(20), atomic.LoadInt32(&count))
}
