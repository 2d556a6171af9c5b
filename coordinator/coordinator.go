// Package coordinator de-duplicates concurrent work per key.
//
// Unlike a plain singleflight, a failure is not shared: when the executing
// caller fails or is canceled, exactly one waiting caller takes over and runs
// the work itself, while the rest keep waiting for that new attempt.
package coordinator

import (
	"context"
	"sync"
)

// call is the shared state of one key.
type call[T any] struct {
	observers int
	// token holds one value while nobody is executing. Taking it makes the
	// taker the executor.
	token chan struct{}
	// done is closed once an execution succeeds; val is set before that.
	done chan struct{}
	val  T
}

// Group coordinates calls per key. The zero value is ready to use.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

// Do runs fn for key unless another caller is already running it. Callers
// that arrive while it runs wait: on success they all return the same value,
// on failure one of them runs fn next. fn receives the caller's own context.
//
// A waiting caller whose ctx ends returns ctx.Err() without disturbing the
// execution in progress.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	c := g.join(key)
	defer g.leave(key, c)

	select {
	case <-c.done:
		return c.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-c.token:
	}

	return g.execute(ctx, key, c, fn)
}

func (g *Group[T]) execute(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) (T, error) {
	succeeded := false
	defer func() {
		if !succeeded {
			// Hand execution to one waiter, including when fn panics.
			c.token <- struct{}{}
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}

	g.mu.Lock()
	c.val = v
	succeeded = true
	close(c.done)
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
	return v, nil
}

func (g *Group[T]) join(key string) *call[T] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.calls == nil {
		g.calls = make(map[string]*call[T])
	}
	c, ok := g.calls[key]
	if !ok {
		c = &call[T]{
			token: make(chan struct{}, 1),
			done:  make(chan struct{}),
		}
		c.token <- struct{}{}
		g.calls[key] = c
	}
	c.observers++
	return c
}

func (g *Group[T]) leave(key string, c *call[T]) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c.observers--
	if c.observers == 0 && g.calls[key] == c {
		delete(g.calls, key)
	}
}

// InFlight returns the number of callers currently registered for key.
func (g *Group[T]) InFlight(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.calls[key]; ok {
		return c.observers
	}
	return 0
}
