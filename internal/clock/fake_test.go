package clock

import (
	"testing"
	"time"
)

var epoch = time.Unix(1700000000, 0)

func TestFakeAfterFuncFiresOnceAtDeadline(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(100*time.Millisecond, func() { fired++ })

	c.Advance(99 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	c.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected one fire, got %d", fired)
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("one-shot fired again: %d", fired)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("unexpected pending=%d", c.PendingCount())
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected first stop to report true")
	}
	if timer.Stop() {
		t.Fatalf("expected second stop to report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeAfterFuncOrdering(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, "late") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "early") })
	c.Advance(time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	select {
	case got := <-ticker.C:
		if !got.Equal(epoch.Add(time.Second)) {
			t.Fatalf("unexpected tick time: %v", got)
		}
	default:
		t.Fatalf("expected tick")
	}
	select {
	case <-ticker.C:
		t.Fatalf("unexpected extra tick")
	default:
	}
}

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Advance(5 * time.Second)
	if !c.Now().Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("unexpected now: %v", c.Now())
	}
}
