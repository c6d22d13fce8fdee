package marketdata

import (
	"context"
	"sync"
)

type flight[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// FlightGroup collapses concurrent identical requests into a single call.
// The first caller for a key owns the operation; later callers for the same
// key block until it completes and observe the same result. At most one
// operation per key is ever in flight.
type FlightGroup[T any] struct {
	mu      sync.Mutex
	flights map[string]*flight[T]
}

// NewFlightGroup constructs an empty group.
func NewFlightGroup[T any]() *FlightGroup[T] {
	return &FlightGroup[T]{flights: make(map[string]*flight[T])}
}

// RunOrJoin executes fn for key, or joins an in-flight execution. The second
// return value reports whether this caller joined rather than owned the call.
// A joiner whose ctx is cancelled returns ctx.Err without disturbing the
// owner's operation; the owner always removes the key on completion.
func (g *FlightGroup[T]) RunOrJoin(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.val, true, f.err
		case <-ctx.Done():
			var zero T
			return zero, true, ctx.Err()
		}
	}

	f := &flight[T]{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.flights, key)
		g.mu.Unlock()
		close(f.done)
	}()

	f.val, f.err = fn(ctx)
	return f.val, false, f.err
}

// Pending reports whether a call for key is currently in flight.
func (g *FlightGroup[T]) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flights[key]
	return ok
}
