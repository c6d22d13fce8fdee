package wear

import (
	"context"
	"errors"
	"sync"
)

// ErrAppNotInstalled distinguishes a missing peer capability from a transient
// delivery failure, so callers can surface an actionable message.
var ErrAppNotInstalled = errors.New("wear: companion app not reachable")

// DataChannel is a store-and-forward key-value replication channel with
// at-least-once, asynchronous delivery. Receivers must tolerate duplicates.
type DataChannel interface {
	// Put replaces the item at path and propagates it to the peer.
	Put(ctx context.Context, path string, data []byte) error
	// Subscribe registers a data-change listener for path. The cancel func
	// removes the listener.
	Subscribe(path string, fn func(data []byte)) (cancel func())
	// Reachable reports whether the peer capability is currently available.
	Reachable(ctx context.Context) bool
}

// MemoryChannel is an in-process loopback channel. Both ends of a test (or a
// single-process simulation) share one instance; delivery happens on the
// caller's goroutine, and Put may be invoked repeatedly with the same item to
// exercise duplicate-delivery handling.
type MemoryChannel struct {
	mu        sync.Mutex
	items     map[string][]byte
	subs      map[string]map[int]func([]byte)
	nextSub   int
	reachable bool
}

// NewMemoryChannel constructs a reachable loopback channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		items:     make(map[string][]byte),
		subs:      make(map[string]map[int]func([]byte)),
		reachable: true,
	}
}

// SetReachable toggles the simulated peer capability.
func (c *MemoryChannel) SetReachable(ok bool) {
	c.mu.Lock()
	c.reachable = ok
	c.mu.Unlock()
}

// Put stores the item and notifies every subscriber on path.
func (c *MemoryChannel) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.reachable {
		c.mu.Unlock()
		return ErrAppNotInstalled
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c.items[path] = stored

	listeners := make([]func([]byte), 0, len(c.subs[path]))
	for _, fn := range c.subs[path] {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(stored)
	}
	return nil
}

// Subscribe registers a listener for path.
func (c *MemoryChannel) Subscribe(path string, fn func(data []byte)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[path] == nil {
		c.subs[path] = make(map[int]func([]byte))
	}
	c.subs[path][id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs[path], id)
		c.mu.Unlock()
	}
}

// Reachable reports the simulated capability state.
func (c *MemoryChannel) Reachable(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

var _ DataChannel = (*MemoryChannel)(nil)
