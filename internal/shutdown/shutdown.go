// Package shutdown sequences process termination: stop requests fan out
// exactly once, then the long-lived workers are joined.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

// Stopper is a component that can be asked to stop without blocking.
type Stopper interface {
	Stop()
}

// StopFunc adapts a function to Stopper.
type StopFunc func()

// Stop calls f.
func (f StopFunc) Stop() { f() }

// Worker is a long-lived component run until it is stopped.
type Worker struct {
	Name    string
	Run     func(ctx context.Context) error
	Stopper Stopper
}

// Coordinator runs workers and stops all of them once any stop is requested.
type Coordinator struct {
	requested atomic.Bool
	done      chan struct{}
	log       logging.Logger

	mu       sync.Mutex
	stoppers []Stopper
}

// New returns a Coordinator.
func New(log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	return &Coordinator{done: make(chan struct{}), log: log}
}

// Register adds s to the components stopped by RequestStop, in
// registration order.
func (c *Coordinator) Register(s Stopper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stoppers = append(c.stoppers, s)
}

// RequestStop asks every registered component to stop. Only the first call
// has any effect; it reports whether this call was the one. It never blocks
// on the components finishing.
func (c *Coordinator) RequestStop() bool {
	if !c.requested.CompareAndSwap(false, true) {
		return false
	}
	c.log.Info(context.Background(), "shutdown requested")
	c.mu.Lock()
	stoppers := append([]Stopper(nil), c.stoppers...)
	c.mu.Unlock()
	for _, s := range stoppers {
		s.Stop()
	}
	close(c.done)
	return true
}

// Requested reports whether a stop has been requested.
func (c *Coordinator) Requested() bool { return c.requested.Load() }

// Done is closed once RequestStop has run.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run starts every worker and blocks until all have returned. A stop is
// requested when ctx is done or when any worker returns on its own, so one
// failing worker brings the rest down. The workers' errors are joined.
func (c *Coordinator) Run(ctx context.Context, workers ...Worker) error {
	for _, w := range workers {
		if w.Stopper != nil {
			c.Register(w.Stopper)
		}
	}

	errs := make([]error, len(workers))
	exited := make(chan struct{}, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Run(ctx)
			if err != nil {
				c.log.Error(ctx, "worker failed", logging.String("worker", w.Name), logging.Err(err))
			} else {
				c.log.Info(ctx, "worker stopped", logging.String("worker", w.Name))
			}
			errs[i] = err
			exited <- struct{}{}
		}()
	}

	select {
	case <-ctx.Done():
	case <-c.done:
	case <-exited:
	}
	c.RequestStop()
	wg.Wait()
	return errors.Join(errs...)
}
