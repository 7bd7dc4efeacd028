package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/counter"
	"github.com/lixenwraith/balldevice/delay"
	"github.com/lixenwraith/balldevice/ejector"
	"github.com/lixenwraith/balldevice/graph"
	"github.com/lixenwraith/balldevice/incoming"
	"github.com/lixenwraith/balldevice/outgoing"
	"github.com/lixenwraith/balldevice/supervisor"
)

// Deps bundles the collaborators one Device needs. Graph is set once the
// whole machine's device set is known (machine.Machine wires it after
// construction), since FindPathToTarget needs every device's config.
type Deps struct {
	Bus        *bus.Bus
	Delay      *delay.Scheduler
	Counter    counter.Counter
	Switches   counter.SwitchReader
	Ejector    ejector.Ejector
	Incoming   *incoming.Handler
	Outgoing   *outgoing.Handler
	Supervisor *supervisor.Supervisor
	Graph      *graph.Graph

	// SetupEjectChain walks path (self -> ... -> target), decrementing
	// available at the source and incrementing it at the final target while
	// enqueueing an outgoing entry at every intermediate hop (spec.md §4.1
	// "Available-ball reservation"). Wired by machine.Machine, which alone
	// holds the full device registry.
	SetupEjectChain func(path []string, mechanical bool)
}

// Device is the per-device orchestrator: the state machine of spec.md §4.1
// plus the runtime fields of spec.md §3.
type Device struct {
	Config *balldevice.Config
	Deps   Deps

	mu                  sync.Mutex
	state               State
	held                int
	available           int
	attemptsThisTarget  int
	jamSnapshot         bool
	inProgress          *outgoing.Planned
	nextIncomingToken   uint64

	signals chan signal
	stop    chan struct{}
	done    chan struct{}
}

// Validate checks the fatal, construction-time invariants of spec.md §4.1.
// graphHasPathToTrough and graphHasPathToUnexpectedTarget are supplied by
// the caller (machine.Machine), which alone has the full device graph.
func Validate(c *balldevice.Config, graphHasPathToTrough, graphHasPathToUnexpectedTarget func(*balldevice.Config) bool) error {
	kinds := 0
	if c.EjectorKind == balldevice.EjectorPulse || c.EjectorKind == balldevice.EjectorHold {
		kinds++
	}
	if c.MechanicalEject {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("device %q: exactly one of eject_coil, hold_coil, mechanical_eject must be configured", c.Name)
	}

	if c.MechanicalEject && len(c.BallSwitches) != 1 {
		return fmt.Errorf("device %q: mechanical_eject requires exactly one ball switch", c.Name)
	}

	var minEjectTimeout, maxEjectTimeout, minMissingTimeout, maxMissingTimeout time.Duration
	first := true
	for _, t := range c.EjectTargets {
		if first || t.EjectTimeout < minEjectTimeout {
			minEjectTimeout = t.EjectTimeout
		}
		if t.EjectTimeout > maxEjectTimeout {
			maxEjectTimeout = t.EjectTimeout
		}
		if first || t.BallMissingTimeout < minMissingTimeout {
			minMissingTimeout = t.BallMissingTimeout
		}
		if t.BallMissingTimeout > maxMissingTimeout {
			maxMissingTimeout = t.BallMissingTimeout
		}
		first = false
	}

	if !first {
		if c.ExitCountDelay >= minEjectTimeout {
			return fmt.Errorf("device %q: exit_count_delay must be < min(eject_timeouts)", c.Name)
		}
		if c.EntranceCountDelay >= minEjectTimeout {
			return fmt.Errorf("device %q: entrance_count_delay must be < min(eject_timeouts)", c.Name)
		}
		if maxEjectTimeout >= minMissingTimeout {
			return fmt.Errorf("device %q: max(eject_timeouts) must be < min(ball_missing_timeouts)", c.Name)
		}
		if maxMissingTimeout > 60*time.Second {
			return fmt.Errorf("device %q: max(ball_missing_timeouts) must be <= 60000ms", c.Name)
		}
	}

	if c.ConfirmEjectType == balldevice.ConfirmSwitch && c.ConfirmEjectSwitch == "" {
		return fmt.Errorf("device %q: confirm_eject_type=switch requires confirm_eject_switch", c.Name)
	}

	if c.HasTag("drain") && !c.HasTag("trough") {
		if graphHasPathToTrough == nil || !graphHasPathToTrough(c) {
			return fmt.Errorf("device %q: tagged drain but has no graph path to any trough", c.Name)
		}
	}

	if !c.HasTag("drain") && !c.HasTag("trough") {
		if graphHasPathToUnexpectedTarget == nil || !graphHasPathToUnexpectedTarget(c) {
			return fmt.Errorf("device %q: no graph path to target_on_unexpected_ball %q", c.Name, c.TargetOnUnexpectedBall)
		}
	}

	return nil
}

// New constructs a Device in state invalid. Call Device.Initialize once the
// counter can report a stable first reading (spec.md §3 "Lifecycles").
func New(cfg *balldevice.Config, deps Deps) *Device {
	return &Device{
		Config:  cfg,
		Deps:    deps,
		state:   StateInvalid,
		signals: make(chan signal, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the device's current state (thread-safe snapshot).
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Held returns the device's currently held ball count.
func (d *Device) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// Available returns the device's currently available (unreserved) ball
// count.
func (d *Device) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// QueueLen reports the outgoing queue depth.
func (d *Device) QueueLen() int { return d.Deps.Outgoing.Len() }

// ReserveAvailable decrements available by n (used by setup_eject_chain at
// the source of a planned multi-hop delivery, spec.md §4.1).
func (d *Device) ReserveAvailable(n int) {
	d.mu.Lock()
	d.available -= n
	d.mu.Unlock()
}

// Initialize seeds the device's held/available counts from the counter's
// first stable reading and transitions invalid -> idle (spec.md §3).
func (d *Device) Initialize(ctx context.Context) error {
	n, err := d.Deps.Counter.CountBalls(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.held = n
	d.available = n
	d.state = StateIdle
	d.mu.Unlock()
	return nil
}

// Start launches the device's driver goroutine (driver.go).
func (d *Device) Start(ctx context.Context) {
	go d.run(ctx)
	go d.watchCounter(ctx)
}

// Stop halts the driver goroutine and releases delay timers.
func (d *Device) Stop() {
	close(d.stop)
	<-d.done
	d.Deps.Delay.Close()
	d.Deps.Incoming.Close()
}

// RequestEject enqueues an eject request toward target, mirroring the
// source's request_ball (spec.md §4.1, SPEC_FULL.md "Request-ball count
// parameter" — count defaults to 1 per call here; callers loop for count>1).
func (d *Device) RequestEject(target string, mechanical bool, triggerEvent string, tc balldevice.TargetConfig) {
	d.Deps.Outgoing.Enqueue(outgoing.Planned{
		Target:       target,
		EjectTimeout: tc.EjectTimeout,
		MaxTries:     tc.MaxEjectAttempts,
		Mechanical:   mechanical,
		TriggerEvent: triggerEvent,
	})
	d.send(signal{kind: sigEjectQueued})
}

// NextIncomingToken returns a fresh per-device token for an IncomingBall
// commitment, used by machine.Machine when it registers a target's
// expectation of a ball arriving from this source.
func (d *Device) NextIncomingToken() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextIncomingToken++
	return d.nextIncomingToken
}

// NotifyIncomingArrived wakes the device's driver loop for the
// waiting_for_ball_mechanical transition (spec.md §4.1 idle: "Incoming ball
// arrived announcement with no queued eject and mechanical_eject=true").
func (d *Device) NotifyIncomingArrived(ib balldevice.IncomingBall) {
	d.send(signal{kind: sigIncomingArrived, ball: ib})
}

// NotifyIncomingLost wakes the device's driver loop for the incoming-ball
// expiry handling shared by idle and waiting_for_ball (spec.md §4.1).
func (d *Device) NotifyIncomingLost(ib balldevice.IncomingBall) {
	d.send(signal{kind: sigIncomingLost, ball: ib})
}

// NotifyUpstreamEjectFailed wakes waiting_for_ball so it can cancel a queued
// eject whose dependency (an upstream delivery) failed (spec.md §4.1
// "waiting_for_ball").
func (d *Device) NotifyUpstreamEjectFailed(retry bool) {
	d.send(signal{kind: sigUpstreamEjectFailed, retry: retry})
}

// NotifyTriggerEvent wakes the ejecting state's wait for a named bus event
// before firing the coil (spec.md §4.1 "ejecting").
func (d *Device) NotifyTriggerEvent(name string) {
	d.send(signal{kind: sigTriggerEvent, name: name})
}

// NotifyConfirmed wakes ball_left's wait for eject confirmation, wired by
// machine.Machine against whichever of confirm_eject_type's topics applies
// (spec.md §4.1 "Eject confirmation strategies").
func (d *Device) NotifyConfirmed() {
	d.send(signal{kind: sigConfirmed})
}

// NotifyPlayerEject wakes idle for a player_controlled_eject_event: a
// mechanical device's plunger fired by direct player action rather than a
// queued request_ball (SPEC_FULL.md "Domain stack" player-controlled eject).
func (d *Device) NotifyPlayerEject() {
	d.send(signal{kind: sigPlayerEject})
}

func (d *Device) send(s signal) {
	select {
	case d.signals <- s:
	case <-d.stop:
	}
}
