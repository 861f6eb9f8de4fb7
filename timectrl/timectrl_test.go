package timectrl

import (
	"testing"
	"time"
)

func TestManualClockAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	late := c.After(2 * time.Hour)
	early := c.After(time.Hour)

	c.Advance(90 * time.Minute)
	select {
	case got := <-early:
		if want := start.Add(90 * time.Minute); !got.Equal(want) {
			t.Fatalf("early fired at %v, want %v", got, want)
		}
	default:
		t.Fatalf("expected early waiter to fire")
	}
	select {
	case <-late:
		t.Fatalf("late waiter fired too soon")
	default:
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(time.Hour)
	select {
	case <-late:
	default:
		t.Fatalf("expected late waiter to fire")
	}
}

func TestManualClockNonPositiveFiresImmediately(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatalf("After(0) should fire immediately")
	}
}

func TestManualClockSetBackwardsDoesNotFire(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	ch := c.After(time.Minute)

	c.Set(start.Add(-time.Hour))
	select {
	case <-ch:
		t.Fatalf("waiter fired after moving clock backwards")
	default:
	}
	if got := c.Now(); !got.Equal(start.Add(-time.Hour)) {
		t.Fatalf("Now() = %v", got)
	}
}

func TestManualClockWaitForWaiter(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	if c.WaitForWaiter(10 * time.Millisecond) {
		t.Fatalf("expected no waiter")
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.After(time.Second)
	}()
	if !c.WaitForWaiter(time.Second) {
		t.Fatalf("expected waiter to be observed")
	}
}

func TestRealClock(t *testing.T) {
	c := Real()
	before := time.Now()
	if c.Now().Before(before) {
		t.Fatalf("real clock went backwards")
	}
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatalf("real After did not fire")
	}
}
