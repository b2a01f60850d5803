// Package events implements the risk engine's event bus (C3): a typed,
// in-process, async, multi-subscriber publish/subscribe channel that
// every other component communicates through instead of holding direct
// references to each other (spec §9 "cyclic ownership").
//
// Grounded on the teacher's own queue/event conventions
// (aristath-sentinel internal/queue/listeners.go's Bus.Subscribe usage
// and internal/events/event_data.go's typed-payload-behind-one-envelope
// shape) generalized from a job queue into a general pub/sub bus, since
// the teacher's own internal/events/manager.go is Emit-only and has no
// subscriber fan-out to build on.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives a published Event. A panic inside a handler is
// recovered and logged; it never aborts delivery to other subscribers or
// other events (spec §4.3).
type Handler func(Event)

// Bus is the shared, single-worker event scheduler. Dispatch runs on one
// goroutine so that, combined with the engine's single-threaded
// evaluation loop (spec §5), handler code never races with itself.
type Bus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[Kind][]Handler

	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a Bus with the given queue depth. A depth of 0 chooses a
// sensible default.
func New(log zerolog.Logger, queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Bus{
		log:         log.With().Str("component", "event_bus").Logger(),
		subscribers: make(map[Kind][]Handler),
		queue:       make(chan Event, queueDepth),
		done:        make(chan struct{}),
	}
}

// Subscribe registers handler for kind. Subscribers for a given kind are
// invoked in registration order (spec §4.3).
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

// Start launches the dispatch worker. Call once before Publish.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.run()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.done:
			// Drain whatever is already queued before exiting, so a
			// shutdown doesn't silently drop events that were accepted.
			for {
				select {
				case evt := <-b.queue:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[evt.Kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("kind", string(evt.Kind)).
				Str("source", evt.Source).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	h(evt)
}

// Publish enqueues evt for dispatch and returns immediately; it never
// blocks on subscriber execution (spec §4.3: "non-blocking to the
// producer"). If evt.Timestamp is zero, Publish stamps the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	select {
	case b.queue <- evt:
	default:
		// Queue saturated: log and still deliver, off the producer's
		// goroutine, rather than silently drop — delivery is
		// at-least-once per spec §4.3.
		b.log.Warn().Str("kind", string(evt.Kind)).Msg("event queue saturated, dispatching out of band")
		go func() { b.queue <- evt }()
	}
}

// Shutdown stops accepting new dispatch cycles and waits (bounded by
// ctx) for the worker to drain in-flight events, per spec §5's bounded
// shutdown timeout.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)

	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown: %w", ctx.Err())
	}
}
