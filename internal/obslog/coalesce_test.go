package obslog

import (
	"testing"
	"time"
)

func TestCoalescer_SuppressesWithinWindow(t *testing.T) {
	c := NewCoalescer()

	if suppressed := c.Observe("worker", "connect failed"); suppressed {
		t.Fatal("expected first occurrence not to be suppressed")
	}
	if suppressed := c.Observe("worker", "connect failed"); !suppressed {
		t.Fatal("expected second occurrence within window to be suppressed")
	}
	if got := c.Count("worker", "connect failed"); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
}

func TestCoalescer_DistinctKeysDoNotCollide(t *testing.T) {
	c := NewCoalescer()

	c.Observe("worker-a", "connect failed")
	suppressed := c.Observe("worker-b", "connect failed")
	if suppressed {
		t.Fatal("expected different component to start its own window")
	}
}

func TestCoalescer_ReopensAfterWindowExpires(t *testing.T) {
	c := NewCoalescer()
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.Observe("worker", "connect failed")
	fakeNow = fakeNow.Add(CoalesceWindow + time.Second)

	if suppressed := c.Observe("worker", "connect failed"); suppressed {
		t.Fatal("expected a new window to start after CoalesceWindow elapses")
	}
	if got := c.Count("worker", "connect failed"); got != 1 {
		t.Fatalf("expected count reset to 1 in new window, got %d", got)
	}
}
