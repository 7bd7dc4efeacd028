package machine

import (
	"context"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/incoming"
)

// wireConfirmations subscribes the bus handlers behind spec.md §4.1 "Eject
// confirmation strategies" that ball_left cannot drive by itself:
// confirm_eject_type=target (claiming against the target's incoming
// commitments) and confirm_eject_type=event (a named bus event). The
// confirm_eject_type=switch strategy is wired separately in
// startConfirmSwitchWatchers since it polls a SwitchReader rather than the
// bus, and playfield/fake are already self-contained in ball_left.
func (m *Machine) wireConfirmations() {
	for _, name := range m.order {
		target := m.devices[name]
		m.Bus.SubscribeRelay(bus.Topic{Device: name, Kind: bus.KindBallEnter}, func(payload any) any {
			p, ok := payload.(*bus.BallEnterPayload)
			if !ok || p == nil {
				return payload
			}
			for p.UnclaimedBalls > 0 {
				claimed, ok := target.Deps.Incoming.ClaimOldest()
				if !ok {
					break
				}
				p.UnclaimedBalls--
				if src := m.devices[claimed.Source]; src != nil && src.Config.ConfirmEjectType == balldevice.ConfirmTarget {
					src.NotifyConfirmed()
				}
			}
			return p
		})
	}

	for _, name := range m.order {
		dev := m.devices[name]
		if dev.Config.ConfirmEjectType == balldevice.ConfirmEvent && dev.Config.ConfirmEjectEvent != "" {
			dev := dev
			m.Bus.SubscribeQueue(bus.Topic{Device: dev.Config.ConfirmEjectEvent, Kind: bus.KindCustomEvent}, func(payload any, release func()) {
				dev.NotifyConfirmed()
				release()
			})
		}
		for _, tc := range dev.Config.EjectTargets {
			if tc.TriggerEvent == "" {
				continue
			}
			dev, name := dev, tc.TriggerEvent
			m.Bus.SubscribeQueue(bus.Topic{Device: name, Kind: bus.KindCustomEvent}, func(payload any, release func()) {
				dev.NotifyTriggerEvent(name)
				release()
			})
		}
		if dev.Config.PlayerControlledEjectEvent != "" {
			dev := dev
			m.Bus.SubscribeQueue(bus.Topic{Device: dev.Config.PlayerControlledEjectEvent, Kind: bus.KindCustomEvent}, func(payload any, release func()) {
				dev.NotifyPlayerEject()
				release()
			})
		}
	}
}

// startConfirmSwitchWatchers launches one goroutine per device configured
// confirm_eject_type=switch, each the sole owner of WaitForEdge calls
// against its confirm_eject_switch (a switch distinct from any ball-
// position switch, so it does not race watchCounter's debounce state).
func (m *Machine) startConfirmSwitchWatchers(ctx context.Context) {
	for _, name := range m.order {
		dev := m.devices[name]
		if dev.Config.ConfirmEjectType != balldevice.ConfirmSwitch || dev.Config.ConfirmEjectSwitch == "" {
			continue
		}
		dev, swName := dev, dev.Config.ConfirmEjectSwitch
		go func() {
			for {
				_, active, err := m.switches.WaitForEdge(ctx, []string{swName})
				if err != nil {
					return
				}
				if active {
					dev.NotifyConfirmed()
				}
			}
		}()
	}
}

// wireEjectAttemptGating subscribes every device's ball_eject_attempt
// (posted by runEjecting before firing its coil) so that the target holds
// the post open until it has spare incoming capacity, per the Redesign
// Flags resolution in SPEC_FULL.md: request_ball no longer returns
// immediately when the target is full, it blocks the posting source's
// runEjecting until WaitForReadyToReceive resolves. The same subscription
// registers the incoming commitment uniformly for every planned eject,
// regardless of whether it originated from a direct request_ball or from
// setupEjectChain's multi-hop routing.
func (m *Machine) wireEjectAttemptGating() {
	for _, name := range m.order {
		source := m.devices[name]
		m.Bus.SubscribeQueue(bus.Topic{Device: name, Kind: bus.KindBallEjectAttempt}, func(payload any, release func()) {
			p, ok := payload.(*bus.BallEjectAttemptPayload)
			if !ok || p == nil {
				release()
				return
			}
			target := m.devices[p.Target]
			if target == nil {
				// Target is a playfield or out-of-registry sink: nothing to
				// gate on, nothing to commit.
				release()
				return
			}
			tc, _ := source.Config.TargetFor(p.Target)
			ready := target.Deps.Incoming.WaitForReadyToReceive(target.Held())
			token := target.NextIncomingToken()
			target.Deps.Incoming.Add(incoming.Ball{
				Source:            p.Source,
				Deadline:          time.Now().Add(tc.BallMissingTimeout),
				ConfirmationToken: token,
			})
			go func() {
				<-ready
				release()
			}()
		})
	}
}

// wireUpstreamFailurePropagation cancels a device's queued eject when the
// upstream source it is waiting on for a ball gives up permanently
// (spec.md §4.1 "waiting_for_ball": "upstream eject failure -> cancel our
// eject"). Transient, retried failures are not propagated — a device
// waiting on a ball should not give up just because its source is still
// trying.
func (m *Machine) wireUpstreamFailurePropagation() {
	for _, downstreamName := range m.order {
		downstream := m.devices[downstreamName]
		for _, upstreamName := range m.order {
			if upstreamName == downstreamName {
				continue
			}
			upstream := m.devices[upstreamName]
			if _, targets := upstream.Config.TargetFor(downstreamName); !targets {
				continue
			}
			m.Bus.SubscribeQueue(bus.Topic{Device: upstreamName, Kind: bus.KindBallEjectPermanentFailure}, func(payload any, release func()) {
				downstream.NotifyUpstreamEjectFailed(false)
				release()
			})
		}
	}
}
