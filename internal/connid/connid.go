// Package connid hands out small integer connection identifiers and
// recycles released ones in FIFO order.
package connid

import "sync"

// Allocator is safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	next   uint64
	free   []uint64
	active map[uint64]struct{}
}

// New returns an Allocator whose first id is 1.
func New() *Allocator {
	return &Allocator{next: 1, active: make(map[uint64]struct{})}
}

// Allocate returns the oldest released id, or a fresh one when none are
// queued.
func (a *Allocator) Allocate() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var id uint64
	if len(a.free) > 0 {
		id = a.free[0]
		a.free = a.free[1:]
	} else {
		id = a.next
		a.next++
	}
	a.active[id] = struct{}{}
	return id
}

// Release returns id to the pool. Releasing an id that is not active is a
// no-op.
func (a *Allocator) Release(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[id]; !ok {
		return
	}
	delete(a.active, id)
	a.free = append(a.free, id)
}

// Active reports whether id is currently allocated.
func (a *Allocator) Active(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[id]
	return ok
}

// Len returns the number of active ids.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
