// Package ejector implements the three physical eject strategies spec.md
// §4.3 describes, sharing one contract so the orchestrator never needs to
// know which kind it is driving.
package ejector

// CoilDriver abstracts the raw coil driver (spec.md §6, "given").
type CoilDriver interface {
	// Pulse fires a single coil pulse.
	Pulse(name string)
	// Energize holds a coil continuously energized.
	Energize(name string)
	// DeEnergize releases a continuously-energized coil.
	DeEnergize(name string)
}

// Ejector is the shared contract (spec.md §4.3).
type Ejector interface {
	// EjectOneBall fires the physical eject. For MechanicalEjector this is a
	// no-op: the ball only leaves by player action.
	EjectOneBall()
	// Hold energizes a hold coil in preparation for a later release. No-op
	// for pulse and mechanical ejectors.
	Hold()
	// Release de-energizes a hold coil, causing the eject. No-op for pulse
	// and mechanical ejectors.
	Release()
	// BallSearch nudges the coil during a ball-search phase (see
	// SPEC_FULL.md "Ball search"). phase is 1 ("still", no-op for every
	// ejector kind) or 2 ("swing": the pulse ejector pulses its coil, the
	// hold ejector de-energizes then re-energizes it, and the mechanical
	// ejector does nothing).
	BallSearch(phase int)
}

// PulseCoilEjector fires its coil once per EjectOneBall call.
type PulseCoilEjector struct {
	Driver CoilDriver
	Coil   string
}

func (e *PulseCoilEjector) EjectOneBall()   { e.Driver.Pulse(e.Coil) }
func (e *PulseCoilEjector) Hold()           {}
func (e *PulseCoilEjector) Release()        {}
func (e *PulseCoilEjector) BallSearch(phase int) {
	if phase == 2 {
		e.Driver.Pulse(e.Coil)
	}
}

// HoldCoilEjector energizes on Hold and de-energizes on EjectOneBall/Release.
type HoldCoilEjector struct {
	Driver CoilDriver
	Coil   string
}

func (e *HoldCoilEjector) Hold()           { e.Driver.Energize(e.Coil) }
func (e *HoldCoilEjector) Release()        { e.Driver.DeEnergize(e.Coil) }
func (e *HoldCoilEjector) EjectOneBall()   { e.Driver.DeEnergize(e.Coil) }
func (e *HoldCoilEjector) BallSearch(phase int) {
	if phase == 2 {
		e.Driver.DeEnergize(e.Coil)
		e.Driver.Energize(e.Coil)
	}
}

// MechanicalEjector has no coil: the ball leaves only by player action (a
// spring plunger). EjectOneBall is a deliberate no-op — spec.md §4.3
// requires the orchestrator never call it without first having observed
// departure via sensors or PlayerControlledEjectEvent; this type cannot
// enforce that on its own, the orchestrator state machine does.
type MechanicalEjector struct{}

func (e *MechanicalEjector) EjectOneBall()       {}
func (e *MechanicalEjector) Hold()               {}
func (e *MechanicalEjector) Release()            {}
func (e *MechanicalEjector) BallSearch(int)      {}

// SearchOrder is one ejector's registration with the machine-wide ball
// search, keyed by the configured BallSearchOrder (spec.md §4.3,
// SPEC_FULL.md "Ball search").
type SearchOrder struct {
	Device string
	Order  int
	Eject  Ejector
}
