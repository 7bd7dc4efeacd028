// Package bus implements the event bus the ball-device core is driven by.
//
// Two event flavors are load-bearing (spec.md §6, §9):
//
//   - Relay events pass a mutable payload through every subscriber in
//     registration order; the poster reads back whatever value the last
//     subscriber left (used for unclaimed-ball-count style claiming).
//   - Queue events allow a subscriber to hold the post open — Post blocks
//     until every subscriber has released it. This is how an eject-attempt
//     coordinates with a target that is not yet ready to receive.
//
// The bus is single-threaded by construction: one goroutine (Run) drains a
// channel of posts and dispatches them strictly in FIFO order, exactly the
// guarantee spec.md §5 requires ("if source S posts ball_eject_attempt
// before ball_eject_success, every handler observes that order"). This
// generalizes the teacher's events.Router (FIFO, single-threaded dispatch)
// and events.EventQueue (single-consumer drain loop) from a lock-free ring
// buffer of one process-wide event type to a named-topic bus supporting both
// event flavors.
package bus

import "sync"

// Topic identifies one event channel: a device-scoped event ("balldevice_D_ball_enter")
// or a process-global one ("balldevice_balls_available"). Device is empty for
// global topics.
type Topic struct {
	Device string
	Kind   Kind
}

// Kind enumerates the bus topics the ball-device core produces and consumes.
type Kind int

const (
	// KindBallEjectAttempt is a queue event: posted by a source before firing
	// its coil, held open by the target until ready to receive.
	KindBallEjectAttempt Kind = iota
	// KindEjectingBall is informational, posted once the coil has fired.
	KindEjectingBall
	// KindBallLeft is posted once the source's counter confirms departure.
	KindBallLeft
	// KindBallEjectSuccess is posted once an eject is fully confirmed.
	KindBallEjectSuccess
	// KindBallEjectFailed is posted on a transient eject failure; Retry in
	// the payload distinguishes "will retry" from the terminal report.
	KindBallEjectFailed
	// KindBallEjectPermanentFailure is posted once retries are exhausted.
	KindBallEjectPermanentFailure
	// KindBallLost is posted when a committed incoming ball never arrived.
	KindBallLost
	// KindBallMissing is posted when a device's count drops with no
	// matching in-progress eject.
	KindBallMissing
	// KindOkToReceive is a relay event: advertises spare incoming capacity.
	KindOkToReceive
	// KindEjectBroken is posted once when a device enters eject_broken.
	KindEjectBroken
	// KindBallEnter is a relay event: posted on every count-up, carrying the
	// number of new balls and how many remain unclaimed by a waiting
	// incoming-ball commitment.
	KindBallEnter
	// KindCapturedFrom is a global, device-scoped-by-suffix topic posted when
	// an unexpected ball is captured from some upstream (Device is the
	// capture source name, not the receiving device).
	KindCapturedFrom
	// KindBallsAvailable is a global queue-free boolean event: "some device
	// somewhere has a ball available", posted once per new ball.
	KindBallsAvailable
	// KindGlobalBallMissing aggregates ball_missing across the whole machine.
	KindGlobalBallMissing
	// KindCustomEvent keys a machine-defined named event (confirm_eject_event,
	// a per-target trigger_event, or a player_controlled_eject_event) by
	// Topic.Device holding the event name rather than a device name.
	KindCustomEvent
)

// RelayHandler processes a relay event and may mutate payload before
// returning it for the next subscriber (or the poster, if last).
type RelayHandler func(payload any) any

// QueueHandler processes a queue event. It must call release exactly once,
// synchronously or from a goroutine it spawns, once it is done holding the
// post open. Handlers that have nothing to hold should call release
// immediately.
type QueueHandler func(payload any, release func())

type postRequest struct {
	topic   Topic
	payload any
	queue   bool
	result  chan any
}

// Bus is the process-wide, single-consumer event bus.
type Bus struct {
	mu        sync.Mutex
	relaySubs map[Topic][]RelayHandler
	queueSubs map[Topic][]QueueHandler

	posts chan postRequest
	stop  chan struct{}
	done  chan struct{}
}

// New creates a Bus with the given post backlog capacity. A capacity of 0
// makes PostQueue and PostRelay synchronous with dispatch (the poster blocks until Run has
// accepted the request), which is the behavior the spec relies on for
// strict FIFO ordering between devices racing to post.
func New(backlog int) *Bus {
	return &Bus{
		relaySubs: make(map[Topic][]RelayHandler),
		queueSubs: make(map[Topic][]QueueHandler),
		posts:     make(chan postRequest, backlog),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SubscribeRelay registers h for relay events on topic, in registration
// order.
func (b *Bus) SubscribeRelay(topic Topic, h RelayHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relaySubs[topic] = append(b.relaySubs[topic], h)
}

// SubscribeQueue registers h for queue events on topic, in registration
// order.
func (b *Bus) SubscribeQueue(topic Topic, h QueueHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueSubs[topic] = append(b.queueSubs[topic], h)
}

// Run drives the dispatch loop. It must be started before any Post call and
// stopped with Stop.
func (b *Bus) Run() {
	defer close(b.done)
	for {
		select {
		case req := <-b.posts:
			b.dispatch(req)
		case <-b.stop:
			return
		}
	}
}

// Stop halts the dispatch loop after any in-flight dispatch completes.
func (b *Bus) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Bus) dispatch(req postRequest) {
	if req.queue {
		b.mu.Lock()
		handlers := append([]QueueHandler(nil), b.queueSubs[req.topic]...)
		b.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(len(handlers))
		for _, h := range handlers {
			h := h
			released := make(chan struct{})
			go func() {
				h(req.payload, func() { close(released) })
			}()
			go func() {
				<-released
				wg.Done()
			}()
		}
		wg.Wait()
		req.result <- req.payload
		return
	}

	b.mu.Lock()
	handlers := append([]RelayHandler(nil), b.relaySubs[req.topic]...)
	b.mu.Unlock()

	payload := req.payload
	for _, h := range handlers {
		payload = h(payload)
	}
	req.result <- payload
}

// PostQueue posts a queue event and blocks until every subscriber has
// released it, per spec.md §6/§9.
func (b *Bus) PostQueue(topic Topic, payload any) any {
	result := make(chan any, 1)
	b.posts <- postRequest{topic: topic, payload: payload, queue: true, result: result}
	return <-result
}

// PostRelay posts a relay event and returns the payload after every
// subscriber has had a chance to mutate it, per spec.md §6/§9.
func (b *Bus) PostRelay(topic Topic, payload any) any {
	result := make(chan any, 1)
	b.posts <- postRequest{topic: topic, payload: payload, queue: false, result: result}
	return <-result
}
