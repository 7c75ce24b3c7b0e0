package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("After did not fire")
	}
	if c.Since(start) <= 0 {
		t.Error("Since should be positive after waiting")
	}
}

func TestMockClock_NowAndSince(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Fatalf("Now() = %v, want %v", c.Now(), base)
	}
	c.Advance(5 * time.Second)
	if got := c.Since(base); got != 5*time.Second {
		t.Errorf("Since = %v, want 5s", got)
	}
	c.Set(base)
	if got := c.Since(base); got != 0 {
		t.Errorf("Since after Set = %v, want 0", got)
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	ch := c.After(100 * time.Millisecond)
	if c.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", c.Pending())
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(base.Add(100 * time.Millisecond)) {
			t.Errorf("fired with %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after firing", c.Pending())
	}
}

func TestMockClock_AfterNonPositiveFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready")
	}
	select {
	case <-c.After(-time.Second):
	default:
		t.Fatal("After(<0) should be ready")
	}
	got := c.Afters()
	if len(got) != 2 || got[0] != 0 || got[1] != -time.Second {
		t.Errorf("Afters = %v", got)
	}
}
