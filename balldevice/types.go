// Package balldevice implements the ball-device coordination core: the
// per-device state machines, counters, ejectors and graph logic that track
// where every pinball is and coordinate handoffs between devices.
package balldevice

import "time"

// ConfirmType selects how an eject attempt is confirmed complete.
type ConfirmType int

const (
	ConfirmTarget ConfirmType = iota
	ConfirmSwitch
	ConfirmEvent
	ConfirmFake
	ConfirmPlayfield
)

func (c ConfirmType) String() string {
	switch c {
	case ConfirmTarget:
		return "target"
	case ConfirmSwitch:
		return "switch"
	case ConfirmEvent:
		return "event"
	case ConfirmFake:
		return "fake"
	case ConfirmPlayfield:
		return "playfield"
	default:
		return "unknown"
	}
}

// EjectorKind selects the physical eject strategy for a device.
type EjectorKind int

const (
	EjectorNone EjectorKind = iota
	EjectorPulse
	EjectorHold
	EjectorMechanical
)

// TargetConfig is the per-eject-target configuration for one edge of the
// device graph (this device -> Name).
type TargetConfig struct {
	Name               string
	EjectTimeout       time.Duration
	BallMissingTimeout time.Duration
	MaxEjectAttempts   int // 0 = infinite
	// TriggerEvent, when set, means the coil for this source->target edge
	// only fires once this named bus event is posted (spec.md §4.1
	// "ejecting"), rather than immediately on dequeue.
	TriggerEvent string
}

// Config is the static, validated-at-construction configuration for one
// device. See spec.md §3 "Device / static config" and §4.1 "Configuration
// validation".
type Config struct {
	Name    string
	Tags    []string
	Capacity int

	EjectTargets []TargetConfig // declared order is the tie-break order

	EntranceCountDelay time.Duration
	ExitCountDelay     time.Duration

	EjectorKind        EjectorKind
	EjectCoil          string // coil driven by EjectorPulse/EjectorHold
	ConfirmEjectType   ConfirmType
	ConfirmEjectSwitch string
	ConfirmEjectEvent  string

	JamSwitch string

	MechanicalEject          bool
	PlayerControlledEjectEvent string

	TargetOnUnexpectedBall string
	CapturesFrom           string // bus topic suffix for captured-from accounting
	AutoFireOnUnexpectedBall bool

	// Single-switch name when MechanicalEject requires exactly one ball switch,
	// or the set of position switches for a SwitchCounter.
	BallSwitches []string
	// EntranceSwitch, when set, selects an EntranceSwitchCounter instead of a
	// SwitchCounter.
	EntranceSwitch string

	BallSearchOrder int
}

// HasTag reports whether the device config carries the given tag.
func (c *Config) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TargetFor returns the per-target config for name, or false if name is not
// a configured eject target.
func (c *Config) TargetFor(name string) (TargetConfig, bool) {
	for _, t := range c.EjectTargets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// EjectRequest is one planned eject: deliver a ball toward Target.
// MechanicalFlag marks a hop whose eject is actuated by a player rather than
// a coil; TriggerEvent, when set, means the coil only fires once that bus
// event arrives.
type EjectRequest struct {
	Target         string
	MechanicalFlag bool
	TriggerEvent   string
}

// IncomingBall is a commitment from Source to deliver a ball to us by
// Deadline. ConfirmationToken disambiguates concurrent commitments from the
// same source.
type IncomingBall struct {
	Source            string
	Deadline          time.Time
	ConfirmationToken uint64
}
