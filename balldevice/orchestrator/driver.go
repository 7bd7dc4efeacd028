package orchestrator

import (
	"context"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/outgoing"
	"github.com/lixenwraith/balldevice/supervisor"
)

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// run is the single driver loop for one device: it repeatedly dispatches on
// the current State until Stop is called. Every suspension point below is
// an explicit channel read (d.signals, a delay.Scheduler timer, or a bus
// Post/Subscribe round-trip) per the Design Notes in spec.md §9 and state.go.
func (d *Device) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		switch d.State() {
		case StateIdle:
			d.runIdle(ctx)
		case StateWaitingForBall:
			d.runWaitingForBall(ctx)
		case StateWaitingForBallMechanical:
			d.runWaitingForBallMechanical(ctx)
		case StateEjecting:
			d.runEjecting(ctx)
		case StateBallLeft:
			d.runBallLeft(ctx)
		case StateFailedConfirm:
			d.runFailedConfirm(ctx)
		case StateFailedEject:
			d.runFailedEject(ctx)
		case StateMissingBalls:
			d.runMissingBalls(ctx)
		case StateEjectBroken:
			d.runEjectBroken(ctx)
		case StateInvalid:
			return
		}
	}
}

// watchCounter is the standing goroutine that converts Counter activity into
// count-up/count-down signals on the device's own channel, and keeps
// incoming.Handler's ready-to-receive waiters current. It is the only
// caller of Counter.WaitForActivity; Counter.CountBalls is also called by
// Initialize before the driver starts and by machine.Machine.BallSearch.
func (d *Device) watchCounter(ctx context.Context) {
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		if err := d.Deps.Counter.WaitForActivity(ctx); err != nil {
			return
		}
		n, err := d.Deps.Counter.CountBalls(ctx)
		if err != nil {
			return
		}

		d.mu.Lock()
		prev := d.held
		delta := n - prev
		d.held = n
		d.mu.Unlock()

		d.Deps.Incoming.NotifyHeldChanged(n)

		switch {
		case delta > 0:
			d.send(signal{kind: sigCountUp, n: delta})
		case delta < 0:
			d.send(signal{kind: sigCountDown, n: -delta})
		}
	}
}

// waitSignal blocks for the next signal, a timeout (if timeout>0), or shutdown.
// timedOut is true only when the timeout elapsed first.
func (d *Device) waitSignal(timeout time.Duration) (s signal, timedOut bool, stopped bool) {
	var timerC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerC = t.C
	}
	select {
	case s := <-d.signals:
		return s, false, false
	case <-timerC:
		return signal{}, true, false
	case <-d.stop:
		return signal{}, false, true
	}
}

func (d *Device) topic(kind bus.Kind) bus.Topic {
	return bus.Topic{Device: d.Config.Name, Kind: kind}
}

// runIdle implements spec.md §4.1 "idle".
func (d *Device) runIdle(ctx context.Context) {
	s, _, stopped := d.waitSignal(0)
	if stopped {
		return
	}
	switch s.kind {
	case sigCountUp:
		d.handleCountUp(s.n)
	case sigCountDown:
		d.handleCountDown(s.n)
	case sigEjectQueued:
		if d.Held() > 0 {
			d.setState(StateEjecting)
		} else {
			d.setState(StateWaitingForBall)
		}
	case sigIncomingArrived:
		if d.Deps.Outgoing.Len() == 0 && d.Config.MechanicalEject {
			d.setState(StateWaitingForBallMechanical)
		}
	case sigIncomingLost:
		d.handleIncomingLost()
	case sigPlayerEject:
		if d.Config.MechanicalEject && d.Deps.Outgoing.Len() == 0 && d.Held() > 0 && len(d.Config.EjectTargets) > 0 {
			tc := d.Config.EjectTargets[0]
			d.RequestEject(tc.Name, true, "", tc)
		}
	}
}

// runWaitingForBall implements spec.md §4.1 "waiting_for_ball".
func (d *Device) runWaitingForBall(ctx context.Context) {
	s, _, stopped := d.waitSignal(0)
	if stopped {
		return
	}
	switch s.kind {
	case sigCountUp:
		d.handleCountUp(s.n)
		if d.Held() > 0 {
			d.setState(StateEjecting)
		}
	case sigUpstreamEjectFailed:
		d.cancelQueuedEject()
		d.setState(StateIdle)
	case sigIncomingLost:
		d.handleIncomingLost()
		d.setState(StateIdle)
	}
}

// runWaitingForBallMechanical implements spec.md §4.1
// "waiting_for_ball_mechanical": a spring plunger sits between two devices,
// so confirmation is reported to the upstream source and downstream target
// atomically once the ball physically arrives.
func (d *Device) runWaitingForBallMechanical(ctx context.Context) {
	s, _, stopped := d.waitSignal(0)
	if stopped {
		return
	}
	if s.kind != sigCountUp {
		return
	}
	d.mu.Lock()
	d.held += 0 // already applied by watchCounter; nothing to reconcile here
	d.mu.Unlock()
	d.Deps.Bus.PostRelay(d.topic(bus.KindOkToReceive), &bus.OkToReceivePayload{Balls: s.n})
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallEjectSuccess), &bus.BallEjectSuccessPayload{Balls: s.n, Target: d.Config.Name})
	d.setState(StateIdle)
}

// runEjecting implements spec.md §4.1 "ejecting".
func (d *Device) runEjecting(ctx context.Context) {
	planned, ok := d.Deps.Outgoing.Head()
	if !ok {
		d.setState(StateIdle)
		return
	}
	d.mu.Lock()
	d.inProgress = &planned
	if d.Config.JamSwitch != "" && d.Deps.Switches != nil {
		d.jamSnapshot = d.Deps.Switches.Active(d.Config.JamSwitch)
	}
	d.mu.Unlock()

	d.Deps.Bus.PostQueue(d.topic(bus.KindBallEjectAttempt), &bus.BallEjectAttemptPayload{Source: d.Config.Name, Target: planned.Target})

	if planned.TriggerEvent != "" && !planned.Mechanical {
		for {
			s, timedOut, stopped := d.waitSignal(planned.EjectTimeout)
			if stopped {
				return
			}
			if timedOut {
				d.setState(StateFailedEject)
				return
			}
			if s.kind == sigTriggerEvent && s.name == planned.TriggerEvent {
				break
			}
		}
		d.fire()
	} else if !planned.Mechanical {
		d.fire()
	}
	// Mechanical: no coil to fire; the ball leaves only by player action,
	// observed below as a count-down.

	d.Deps.Bus.PostQueue(d.topic(bus.KindEjectingBall), nil)

	s, timedOut, stopped := d.waitSignal(planned.EjectTimeout)
	if stopped {
		return
	}
	if timedOut || s.kind != sigCountDown {
		d.setState(StateFailedEject)
		return
	}
	d.Deps.Counter.EjectingOneBall()
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallLeft), &bus.BallLeftPayload{Balls: s.n, Target: planned.Target, NumAttempts: d.Deps.Outgoing.Attempts() + 1})
	d.setState(StateBallLeft)
}

func (d *Device) fire() {
	switch d.Config.EjectorKind {
	case balldevice.EjectorHold:
		d.Deps.Ejector.Release()
	default:
		d.Deps.Ejector.EjectOneBall()
	}
}

// runBallLeft implements spec.md §4.1 "ball_left": arm the eject
// confirmation strategy and wait for it, bounded by ball_missing_timeout.
func (d *Device) runBallLeft(ctx context.Context) {
	planned := *d.currentPlanned()
	tc, _ := d.Config.TargetFor(planned.Target)

	confirmTimeout := tc.BallMissingTimeout

	switch d.Config.ConfirmEjectType {
	case balldevice.ConfirmPlayfield:
		d.Deps.Delay.Add("playfield_confirmation", tc.EjectTimeout+500*time.Millisecond, func() {
			d.send(signal{kind: sigConfirmed})
		})
	case balldevice.ConfirmFake:
		d.Deps.Delay.Add("fake_confirmation", time.Millisecond, func() {
			d.send(signal{kind: sigConfirmed})
		})
	}
	// ConfirmTarget and ConfirmEvent/ConfirmSwitch confirmations arrive
	// asynchronously via sigConfirmed, wired by machine.Machine's bus
	// subscriptions (target's ball_enter, or the named switch/event).

	s, timedOut, stopped := d.waitSignal(confirmTimeout)
	d.Deps.Delay.RemoveAll() // _cancel_eject_confirmation: idempotent teardown, spec.md §5/P4
	if stopped {
		return
	}
	if timedOut {
		d.setState(StateFailedConfirm)
		return
	}
	switch s.kind {
	case sigConfirmed:
		d.ejectSuccess(planned)
	case sigCountUp:
		// Re-entered before confirmation: treated as the ball bouncing back,
		// same as the jam-switch path in failed_confirm.
		d.handleCountUp(s.n)
		d.setState(StateFailedEject)
	default:
		d.setState(StateFailedConfirm)
	}
}

func (d *Device) ejectSuccess(planned outgoing.Planned) {
	d.Deps.Outgoing.Pop()
	d.Deps.Outgoing.ResetAttempts()
	d.mu.Lock()
	d.available++
	d.attemptsThisTarget = 0
	d.inProgress = nil
	d.mu.Unlock()
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallEjectSuccess), &bus.BallEjectSuccessPayload{Balls: 1, Target: planned.Target})
	d.setState(StateIdle)
}

// runFailedConfirm implements spec.md §4.1 "failed_confirm".
func (d *Device) runFailedConfirm(ctx context.Context) {
	planned := *d.currentPlanned()
	tc, _ := d.Config.TargetFor(planned.Target)

	s, timedOut, stopped := d.waitSignal(tc.BallMissingTimeout)
	if stopped {
		return
	}
	if timedOut {
		d.Deps.Outgoing.Pop()
		d.Deps.Outgoing.ResetAttempts()
		d.mu.Lock()
		d.inProgress = nil
		d.mu.Unlock()
		d.Deps.Bus.PostQueue(d.topic(bus.KindBallMissing), nil)
		d.setState(StateIdle)
		return
	}

	jamNowActive := d.Config.JamSwitch != "" && d.Deps.Switches != nil && d.Deps.Switches.Active(d.Config.JamSwitch)
	ballFellBack := (jamNowActive && !d.jamSnapshot) || s.kind == sigCountUp
	if ballFellBack {
		d.setState(StateFailedEject)
		return
	}
}

// runFailedEject implements spec.md §4.1 "failed_eject".
func (d *Device) runFailedEject(ctx context.Context) {
	planned := *d.currentPlanned()
	tc, _ := d.Config.TargetFor(planned.Target)

	attempts := d.Deps.Outgoing.RecordAttempt()
	retry := tc.MaxEjectAttempts == 0 || attempts < tc.MaxEjectAttempts
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallEjectFailed), &bus.BallEjectFailedPayload{Target: planned.Target, Balls: 1, Retry: retry, NumAttempts: attempts})

	if retry {
		d.Deps.Outgoing.Retry()
		d.setState(StateEjecting)
		return
	}
	d.Deps.Outgoing.Pop()
	d.Deps.Outgoing.ResetAttempts()
	d.mu.Lock()
	d.inProgress = nil
	d.mu.Unlock()
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallEjectPermanentFailure), nil)
	d.setState(StateEjectBroken)
}

// runMissingBalls only returns the device to idle. The missing-balls flow
// (spec.md §4.1 "missing_balls") runs inline in handleCountDown, and no
// transition enters StateMissingBalls.
func (d *Device) runMissingBalls(ctx context.Context) {
	d.setState(StateIdle)
}

// runEjectBroken implements spec.md §4.1 "eject_broken": terminal. Further
// operations are rejected until the machine resets the device (out of
// scope per spec.md §6 "Persisted state: None").
func (d *Device) runEjectBroken(ctx context.Context) {
	s, _, stopped := d.waitSignal(0)
	if stopped {
		return
	}
	// Queue-only: new eject requests still enqueue (spec.md §8 scenario 3,
	// "further request_ball to this device queues but does not fire") but
	// nothing drives the queue while broken.
	_ = s
}

func (d *Device) currentPlanned() *outgoing.Planned {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inProgress
}

// handleCountUp implements the "unexpected / expected new ball" flow
// entered from idle, waiting_for_ball and ball_left (spec.md §4.1, §7 error
// kind 5). The relay event lets any outstanding incoming-ball commitment
// (wired by machine.Machine against this topic) claim balls out of the
// batch before we decide how many are left over and unexpected — mirroring
// the original's _balls_added_callback (SPEC_FULL.md grounding).
func (d *Device) handleCountUp(n int) {
	payload := &bus.BallEnterPayload{NewBalls: n, UnclaimedBalls: n, Device: d.Config.Name}
	res, _ := d.Deps.Bus.PostRelay(d.topic(bus.KindBallEnter), payload).(*bus.BallEnterPayload)

	d.mu.Lock()
	d.available += n
	d.mu.Unlock()

	for i := 0; i < n; i++ {
		d.Deps.Bus.PostRelay(bus.Topic{Kind: bus.KindBallsAvailable}, nil)
	}

	unclaimed := n
	if res != nil {
		unclaimed = res.UnclaimedBalls
	}
	if unclaimed <= 0 {
		return
	}

	switch {
	case d.Config.HasTag("trough"):
		// ball already reached the trough; nothing further to route.
	case d.Config.HasTag("drain"):
		trough := d.Deps.Graph.FindNextTrough(d.Config.Name)
		for i := 0; i < unclaimed; i++ {
			if trough == "" {
				d.Deps.Bus.PostQueue(d.topic(bus.KindBallMissing), nil)
				continue
			}
			path := d.Deps.Graph.FindPathToTarget(d.Config.Name, trough)
			if len(path) < 2 {
				d.Deps.Bus.PostQueue(d.topic(bus.KindBallMissing), nil)
				continue
			}
			d.Deps.SetupEjectChain(path, false)
		}
	default:
		d.Deps.Bus.PostRelay(bus.Topic{Device: d.Config.CapturesFrom, Kind: bus.KindCapturedFrom}, &bus.CapturedFromPayload{Balls: unclaimed})
		path := d.Deps.Graph.FindPathToTarget(d.Config.Name, d.Config.TargetOnUnexpectedBall)
		for i := 0; i < unclaimed; i++ {
			if len(path) < 2 {
				d.Deps.Bus.PostQueue(d.topic(bus.KindBallMissing), nil)
				continue
			}
			d.Deps.SetupEjectChain(path, !d.Config.AutoFireOnUnexpectedBall)
		}
	}
}

// handleCountDown implements the "missing balls" flow (spec.md §4.1
// "missing_balls", §7 error kind 4).
func (d *Device) handleCountDown(n int) {
	result := d.Deps.Supervisor.Reconcile(-n, 0, d.currentPlanned() != nil)
	if result.Classification != supervisor.Lost {
		return
	}

	if d.Config.MechanicalEject {
		// The player pulled a ball we had no eject queued for; synthesize an
		// in-progress eject toward the default target and proceed as if we
		// had caused it (spec.md §4.1 "missing_balls").
		if len(d.Config.EjectTargets) > 0 {
			tc := d.Config.EjectTargets[0]
			d.RequestEject(tc.Name, true, "", tc)
		}
		return
	}

	if d.Deps.Supervisor.ShouldReport(result) {
		d.Deps.Bus.PostQueue(d.topic(bus.KindBallMissing), nil)
	}
	// d.held was already set to the new count by watchCounter.
	d.mu.Lock()
	d.available -= n
	if d.available < 0 {
		d.available = 0
	}
	d.mu.Unlock()
}

func (d *Device) handleIncomingLost() {
	if d.Deps.Outgoing.Len() == 0 {
		return
	}
	p, ok := d.Deps.Outgoing.Pop()
	if !ok {
		return
	}
	d.Deps.Outgoing.ResetAttempts()
	d.Deps.Bus.PostQueue(d.topic(bus.KindBallLost), &bus.BallLostPayload{Target: p.Target})
}

func (d *Device) cancelQueuedEject() {
	d.Deps.Outgoing.Pop()
	d.Deps.Outgoing.ResetAttempts()
}
