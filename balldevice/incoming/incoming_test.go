package incoming

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddThenRemoveCancelsTimer(t *testing.T) {
	h := NewHandler(3)
	var expired atomic.Bool
	h.OnExpire = func(Ball) { expired.Store(true) }

	h.Add(Ball{Source: "shooter_lane", Deadline: time.Now().Add(20 * time.Millisecond), ConfirmationToken: 1})
	h.Remove(1)

	time.Sleep(50 * time.Millisecond)
	if expired.Load() {
		t.Fatal("OnExpire fired for a removed commitment")
	}
	if h.Count() != 0 {
		t.Fatalf("expected 0 outstanding commitments, got %d", h.Count())
	}
}

func TestExpireFiresOnExpireWhenDeadlinePasses(t *testing.T) {
	h := NewHandler(3)
	done := make(chan Ball, 1)
	h.OnExpire = func(b Ball) { done <- b }

	h.Add(Ball{Source: "shooter_lane", Deadline: time.Now().Add(10 * time.Millisecond), ConfirmationToken: 7})

	select {
	case b := <-done:
		if b.ConfirmationToken != 7 {
			t.Fatalf("expected token 7, got %d", b.ConfirmationToken)
		}
	case <-time.After(time.Second):
		t.Fatal("OnExpire never fired")
	}
	if h.Count() != 0 {
		t.Fatalf("expected commitment removed after expiry, got count %d", h.Count())
	}
}

func TestClaimOldestIsFIFO(t *testing.T) {
	h := NewHandler(5)
	h.Add(Ball{Source: "a", Deadline: time.Now().Add(time.Minute), ConfirmationToken: 1})
	h.Add(Ball{Source: "b", Deadline: time.Now().Add(time.Minute), ConfirmationToken: 2})

	b, ok := h.ClaimOldest()
	if !ok || b.Source != "a" {
		t.Fatalf("expected to claim source a first, got %+v ok=%v", b, ok)
	}
	b, ok = h.ClaimOldest()
	if !ok || b.Source != "b" {
		t.Fatalf("expected to claim source b second, got %+v ok=%v", b, ok)
	}
	if _, ok := h.ClaimOldest(); ok {
		t.Fatal("expected no more commitments to claim")
	}
}

func TestAdditionalCapacityAccountsForHeldAndInProgress(t *testing.T) {
	h := NewHandler(3)
	h.Add(Ball{Source: "a", Deadline: time.Now().Add(time.Minute), ConfirmationToken: 1})

	if got := h.AdditionalCapacity(1, false); got != 1 {
		t.Fatalf("expected capacity 3-1(held)-1(commitment) = 1, got %d", got)
	}
	if got := h.AdditionalCapacity(1, true); got != 0 {
		t.Fatalf("expected in-progress eject to reserve an extra slot, got %d", got)
	}
}

func TestWaitForReadyToReceiveBlocksUntilCapacityFrees(t *testing.T) {
	h := NewHandler(1)
	h.Add(Ball{Source: "a", Deadline: time.Now().Add(time.Minute), ConfirmationToken: 1})

	ch := h.WaitForReadyToReceive(0)
	select {
	case <-ch:
		t.Fatal("expected channel to block: no spare capacity")
	case <-time.After(20 * time.Millisecond):
	}

	h.Remove(1)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected channel to release once capacity freed")
	}
}

func TestWaitForReadyToReceiveResolvesImmediatelyWithSpareCapacity(t *testing.T) {
	h := NewHandler(3)
	ch := h.WaitForReadyToReceive(0)
	select {
	case <-ch:
	default:
		t.Fatal("expected immediate resolution with spare capacity")
	}
}

func TestNotifyHeldChangedReleasesWaiters(t *testing.T) {
	h := NewHandler(1)
	h.Add(Ball{Source: "a", Deadline: time.Now().Add(time.Minute), ConfirmationToken: 1})
	ch := h.WaitForReadyToReceive(0)

	h.Remove(1)
	h.NotifyHeldChanged(0)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("NotifyHeldChanged did not release the waiter")
	}
}
