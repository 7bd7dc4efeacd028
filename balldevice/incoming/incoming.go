// Package incoming implements the per-device incoming-ball handler
// (spec.md §4.4): the set of commitments from upstream sources that have
// not yet been confirmed arrived, and their deadlines.
package incoming

import (
	"sync"
	"time"
)

// Ball mirrors balldevice.IncomingBall; duplicated here (rather than
// imported) to keep this package free of a dependency on the root package,
// matching the teacher's convention of small leaf packages that take
// plain data in and hand plain data back (see navigation's WallChecker
// func-type parameters instead of importing engine types).
type Ball struct {
	Source            string
	Deadline          time.Time
	ConfirmationToken uint64
}

// Handler tracks incoming balls for one device.
type Handler struct {
	mu       sync.Mutex
	capacity int
	balls    []Ball

	// readyWaiters are released (closed) whenever held+len(balls) < capacity
	// becomes true. WaitForReadyToReceive registers one and blocks on it.
	readyWaiters []chan struct{}

	// OnExpire, if set, is called (outside the lock) when a ball's deadline
	// elapses before it is removed via Remove. Neither machine.Machine nor
	// the orchestrator sets it, so an expired commitment is dropped without
	// signalling the device.
	OnExpire func(Ball)

	timers map[uint64]*time.Timer
}

// NewHandler creates a Handler for a device with the given ball capacity.
func NewHandler(capacity int) *Handler {
	return &Handler{capacity: capacity, timers: make(map[uint64]*time.Timer)}
}

// Add records a new commitment and arms its deadline timer.
func (h *Handler) Add(ib Ball) {
	h.mu.Lock()
	h.balls = append(h.balls, ib)
	delay := time.Until(ib.Deadline)
	if delay < 0 {
		delay = 0
	}
	h.timers[ib.ConfirmationToken] = time.AfterFunc(delay, func() { h.expire(ib.ConfirmationToken) })
	h.mu.Unlock()
}

// Remove cancels a commitment, e.g. because the upstream source cancelled
// it or it was confirmed arrived.
func (h *Handler) Remove(token uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(token)
}

func (h *Handler) removeLocked(token uint64) {
	if t, ok := h.timers[token]; ok {
		t.Stop()
		delete(h.timers, token)
	}
	for i, b := range h.balls {
		if b.ConfirmationToken == token {
			h.balls = append(h.balls[:i], h.balls[i+1:]...)
			break
		}
	}
	h.releaseWaitersLocked()
}

func (h *Handler) expire(token uint64) {
	h.mu.Lock()
	var found *Ball
	for i, b := range h.balls {
		if b.ConfirmationToken == token {
			cp := b
			found = &cp
			h.balls = append(h.balls[:i], h.balls[i+1:]...)
			break
		}
	}
	delete(h.timers, token)
	h.mu.Unlock()
	if found != nil && h.OnExpire != nil {
		h.OnExpire(*found)
	}
}

// ClaimOldest removes and returns the oldest outstanding commitment (FIFO),
// used by machine.Machine's confirm_eject_type=target wiring: a target's
// ball_enter claims the oldest unresolved commitment against the arriving
// ball, regardless of which source it came from (spec.md §4.4).
func (h *Handler) ClaimOldest() (Ball, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.balls) == 0 {
		return Ball{}, false
	}
	b := h.balls[0]
	h.balls = h.balls[1:]
	if t, ok := h.timers[b.ConfirmationToken]; ok {
		t.Stop()
		delete(h.timers, b.ConfirmationToken)
	}
	h.releaseWaitersLocked()
	return b, true
}

// Count returns the number of outstanding commitments.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.balls)
}

// AdditionalCapacity returns capacity - held - count - inProgress, floored
// at 0. No bus event carries this figure: balldevice_D_ok_to_receive is
// posted with the number of balls that arrived.
func (h *Handler) AdditionalCapacity(held int, inProgress bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.capacity - held - len(h.balls)
	if inProgress {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}

// WaitForReadyToReceive blocks until held+count(incoming) < capacity.
func (h *Handler) WaitForReadyToReceive(held int) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	if held+len(h.balls) < h.capacity {
		close(ch)
		return ch
	}
	h.readyWaiters = append(h.readyWaiters, ch)
	return ch
}

// NotifyHeldChanged re-evaluates ready-to-receive waiters after held changes
// (e.g. a ball departed, freeing a slot).
func (h *Handler) NotifyHeldChanged(held int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if held+len(h.balls) < h.capacity {
		h.releaseWaitersLocked()
	}
}

func (h *Handler) releaseWaitersLocked() {
	for _, ch := range h.readyWaiters {
		close(ch)
	}
	h.readyWaiters = nil
}

// Close cancels every pending timer, e.g. on device shutdown.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for token, t := range h.timers {
		t.Stop()
		delete(h.timers, token)
	}
}
