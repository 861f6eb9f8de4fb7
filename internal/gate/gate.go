// Package gate provides the availability barrier between dataset swaps and
// request processing.
package gate

import (
	"context"
	"sync"
)

// Gate is a resettable boolean barrier. Waiters block while it is closed and
// are released together when it opens.
type Gate struct {
	mu        sync.Mutex
	ready     bool
	open      chan struct{} // closed while ready
	observers []func(ready bool)
}

// New returns a closed gate.
func New() *Gate {
	return &Gate{open: make(chan struct{})}
}

// OnChange registers fn to be called after every transition. Observers run
// synchronously on the signalling goroutine and must not call back into the
// gate.
func (g *Gate) OnChange(fn func(ready bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// SignalAvailable opens the gate and wakes every waiter.
func (g *Gate) SignalAvailable() {
	g.set(true)
}

// SignalUnavailable closes the gate. Requests arriving afterwards queue in
// Wait until the next SignalAvailable.
func (g *Gate) SignalUnavailable() {
	g.set(false)
}

func (g *Gate) set(ready bool) {
	g.mu.Lock()
	if g.ready == ready {
		g.mu.Unlock()
		return
	}
	g.ready = ready
	if ready {
		close(g.open)
	} else {
		g.open = make(chan struct{})
	}
	obs := append([]func(bool){}, g.observers...)
	g.mu.Unlock()

	for _, fn := range obs {
		fn(ready)
	}
}

// Ready reports whether the gate is open.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.ready {
			g.mu.Unlock()
			return nil
		}
		ch := g.open
		g.mu.Unlock()

		select {
		case <-ch:
			// Re-check: the gate may have closed again before we ran.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
