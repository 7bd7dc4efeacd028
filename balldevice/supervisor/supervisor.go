// Package supervisor implements the ball-count reconciliation spec.md §4
// assigns to the "Ball Count Supervisor": classifying an observed count
// delta as an expected arrival, an unexpected arrival, or a loss, and
// carrying the conservation invariant P3 through each classification.
//
// One Supervisor instance per device; the orchestrator calls it when its
// Counter reports a lower count while the device is idle.
package supervisor

// Classification is the outcome of reconciling one observed delta.
type Classification int

const (
	// Expected means the delta matched an outstanding incoming-ball
	// commitment; no report is needed.
	Expected Classification = iota
	// Unexpected means balls arrived with no matching commitment (or more
	// arrived than were committed) — spec.md §7 error kind 5.
	Unexpected
	// Lost means the count dropped with no matching in-progress eject —
	// spec.md §7 error kind 4.
	Lost
)

func (c Classification) String() string {
	switch c {
	case Expected:
		return "expected"
	case Unexpected:
		return "unexpected"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Reconcile call.
type Result struct {
	Classification Classification
	// Balls is always positive: the magnitude of the delta being classified
	// (the Redesign Flags resolution in SPEC_FULL.md — the supervisor is
	// always invoked with the count that changed, never a running total).
	Balls int
}

// Supervisor reconciles a device's observed count against its expected
// count (held balls the orchestrator already knows about, plus any
// in-progress eject or incoming commitments it is tracking).
type Supervisor struct {
	// IsDrain suppresses reporting a Lost classification as
	// balldevice_ball_missing (SPEC_FULL.md "Idle-missing-ball drain
	// semantics"): a drain losing balls is balls flowing into the trough
	// pipeline, not a fault.
	IsDrain bool
}

// New creates a Supervisor for a device tagged with the given tags.
func New(tags []string) *Supervisor {
	s := &Supervisor{}
	for _, t := range tags {
		if t == "drain" {
			s.IsDrain = true
		}
	}
	return s
}

// Reconcile classifies a raw count delta (new - previous). incomingClaims is
// the number of outstanding incoming-ball commitments that could plausibly
// account for a positive delta; hasInProgressEject marks whether a negative
// delta could be explained by a coil the orchestrator already fired.
//
// Reconcile never itself decides "silently swallow" — every Lost result is
// returned to the caller, which is responsible for posting
// balldevice_ball_missing unless IsDrain suppresses it (the suppression
// still decrements held balls; spec.md §3 invariant 6 "reported" still
// holds structurally, it is simply not surfaced as a fault for drains).
func (s *Supervisor) Reconcile(delta int, incomingClaims int, hasInProgressEject bool) Result {
	switch {
	case delta > 0:
		if delta <= incomingClaims {
			return Result{Classification: Expected, Balls: delta}
		}
		unclaimed := delta - incomingClaims
		return Result{Classification: Unexpected, Balls: unclaimed}
	case delta < 0:
		missing := -delta
		if hasInProgressEject {
			return Result{Classification: Expected, Balls: missing}
		}
		return Result{Classification: Lost, Balls: missing}
	default:
		return Result{Classification: Expected, Balls: 0}
	}
}

// ShouldReport reports whether a Lost classification should surface as
// balldevice_ball_missing given this device's drain status.
func (s *Supervisor) ShouldReport(r Result) bool {
	return r.Classification == Lost && !s.IsDrain
}
