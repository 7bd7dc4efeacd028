// Package outgoing implements the per-device outgoing ball handler
// (spec.md §4.5): a FIFO of planned ejects, serialized so one target's
// failure cannot starve another target indefinitely. The head slot is only
// released on success or permanent failure of that slot's eject.
package outgoing

import (
	"sync"
	"time"
)

// Planned is one queued outgoing eject.
type Planned struct {
	Target         string
	EjectTimeout   time.Duration
	MaxTries       int // 0 = infinite
	Mechanical     bool
	TriggerEvent   string
}

// Handler is the per-device outgoing FIFO.
type Handler struct {
	mu       sync.Mutex
	queue    []Planned
	attempts int // attempts made against the current head
}

// NewHandler creates an empty outgoing handler.
func NewHandler() *Handler { return &Handler{} }

// Enqueue appends p to the tail of the queue.
func (h *Handler) Enqueue(p Planned) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, p)
}

// EnqueueFront pushes p to the head, used when requeueing a failed attempt
// (spec.md §3 "An eject request's lifecycle").
func (h *Handler) EnqueueFront(p Planned) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append([]Planned{p}, h.queue...)
}

// Head returns the queue's head without removing it, and whether one
// exists.
func (h *Handler) Head() (Planned, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Planned{}, false
	}
	return h.queue[0], true
}

// Len reports the queue depth.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Pop removes and returns the head. Called on success or permanent failure
// of the head; the caller is responsible for calling ResetAttempts
// afterward if whatever becomes the new head should start with a clean
// attempt counter (Pop itself does not assume that — see Retry, which pops
// and reinserts the same entry precisely to preserve it).
func (h *Handler) Pop() (Planned, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Planned{}, false
	}
	p := h.queue[0]
	h.queue = h.queue[1:]
	return p, true
}

// Retry takes the current head off the queue and immediately re-enqueues it
// at the front (spec.md §3: "if attempts < max_eject_attempts, requeue at
// head"). Unlike Pop, the attempt counter is left untouched: the same
// planned eject is retrying, not handed off to a new occupant.
func (h *Handler) Retry() (Planned, bool) {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return Planned{}, false
	}
	p := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()
	h.EnqueueFront(p)
	return p, true
}

// RecordAttempt increments and returns the attempt counter for the current
// head.
func (h *Handler) RecordAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	return h.attempts
}

// Attempts returns the number of attempts made so far against the head.
func (h *Handler) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// ResetAttempts zeroes the attempt counter. Called after Pop whenever
// whatever becomes the new head should start with a clean slate: a
// successful eject, a permanent failure, a lost or cancelled request.
func (h *Handler) ResetAttempts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = 0
}
