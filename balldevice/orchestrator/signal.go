package orchestrator

import "github.com/lixenwraith/balldevice"

// signalKind enumerates the internal wake-up reasons the driver loop
// selects on. These stand in for the source's condition variables
// (eject_request, eject_success, source_eject_failure,
// source_eject_failure_retry, incoming_ball, incoming_ball_lost) and for
// sensor-driven wakeups (count changed up/down, ball left).
type signalKind int

const (
	sigCountUp signalKind = iota
	sigCountDown
	sigEjectQueued
	sigIncomingArrived
	sigIncomingLost
	sigUpstreamEjectFailed
	sigUpstreamEjectSuccess
	sigConfirmed
	sigTimeout
	sigTriggerEvent
	sigPlayerEject
	sigStop
)

// signal is one message on a device's internal channel.
type signal struct {
	kind   signalKind
	n      int    // magnitude for count signals
	ball   balldevice.IncomingBall
	retry  bool
	name   string // timeout/trigger-event name
}
