package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitBlocksUntilAvailable(t *testing.T) {
	g := New()
	if g.Ready() {
		t.Fatalf("new gate should be closed")
	}

	var released atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
			}
			released.Add(1)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if released.Load() != 0 {
		t.Fatalf("waiters released before SignalAvailable")
	}
	g.SignalAvailable()
	wg.Wait()
	if released.Load() != 8 {
		t.Fatalf("released = %d, want 8", released.Load())
	}
}

func TestWaitReturnsImmediatelyWhenOpen(t *testing.T) {
	g := New()
	g.SignalAvailable()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait on open gate: %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	g := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait: got %v, want deadline exceeded", err)
	}
}

func TestReclose(t *testing.T) {
	g := New()
	g.SignalAvailable()
	g.SignalUnavailable()
	if g.Ready() {
		t.Fatalf("gate should be closed")
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("Wait returned while closed")
	case <-time.After(20 * time.Millisecond):
	}
	g.SignalAvailable()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after reopen")
	}
}

func TestOnChange(t *testing.T) {
	g := New()
	var got []bool
	g.OnChange(func(ready bool) { got = append(got, ready) })
	g.SignalUnavailable()
	g.SignalAvailable()
	g.SignalAvailable()
	g.SignalUnavailable()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("transitions = %v, want [true false]", got)
	}
}
