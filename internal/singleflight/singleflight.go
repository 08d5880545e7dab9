// Package singleflight coalesces concurrent calls for the same key into a
// single execution. It exists for the session refresh path: any number of
// callers may discover an expired token at once, but exactly one login
// request goes out and everyone shares its result.
package singleflight

import (
	"context"
	"sync"
)

// Group manages a set of in-flight calls keyed by string.
// The zero value is not usable; construct with New.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// call represents an active or completed function call. done is closed when
// val/err are final; waiters only read them after observing the close.
type call struct {
	done chan struct{}
	val  string
	err  error
}

// New creates a new singleflight Group.
func New() *Group {
	return &Group{
		m: make(map[string]*call),
	}
}

// Do executes fn, ensuring only one execution is in flight for a given key
// at a time. Duplicate callers block until the owner completes and receive
// the owner's result. A waiter whose context is cancelled abandons the wait
// without disturbing the in-flight execution; the owner itself runs fn with
// its own context and is not interrupted by waiter cancellation.
func (g *Group) Do(ctx context.Context, key string, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// Forget removes the key from the group's map, allowing the next caller to
// start a fresh execution even if a previous call is still in progress.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
