package delay

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddFiresAfterDuration(t *testing.T) {
	s := New()
	defer s.Close()

	var fired atomic.Bool
	s.Add("eject_timeout", 20*time.Millisecond, func() { fired.Store(true) })

	if fired.Load() {
		t.Fatal("timer fired before its delay elapsed")
	}
	time.Sleep(60 * time.Millisecond)
	if !fired.Load() {
		t.Fatal("timer never fired")
	}
}

func TestAddReplacesExistingTimerUnderSameName(t *testing.T) {
	s := New()
	defer s.Close()

	var firstFired, secondFired atomic.Bool
	s.Add("ball_missing_timeout", 20*time.Millisecond, func() { firstFired.Store(true) })
	s.Add("ball_missing_timeout", 20*time.Millisecond, func() { secondFired.Store(true) })

	time.Sleep(60 * time.Millisecond)
	if firstFired.Load() {
		t.Fatal("replaced timer should not have fired")
	}
	if !secondFired.Load() {
		t.Fatal("replacement timer never fired")
	}
}

func TestRemoveCancelsBeforeFiring(t *testing.T) {
	s := New()
	defer s.Close()

	var fired atomic.Bool
	s.Add("confirm_eject", 20*time.Millisecond, func() { fired.Store(true) })
	s.Remove("confirm_eject")

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("removed timer fired anyway")
	}
}

func TestRemoveAllCancelsEveryTimer(t *testing.T) {
	s := New()
	defer s.Close()

	var count atomic.Int32
	s.Add("a", 20*time.Millisecond, func() { count.Add(1) })
	s.Add("b", 20*time.Millisecond, func() { count.Add(1) })
	s.RemoveAll()

	time.Sleep(60 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatalf("expected no timers to fire after RemoveAll, got %d", count.Load())
	}
}

func TestCloseBlocksFurtherAdds(t *testing.T) {
	s := New()
	var fired atomic.Bool
	s.Close()
	s.Add("after_close", 0, func() { fired.Store(true) })

	time.Sleep(20 * time.Millisecond)
	if fired.Load() {
		t.Fatal("Add after Close should be a no-op")
	}
}
