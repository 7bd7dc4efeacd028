// Package machine implements the top-level wiring spec.md §4.6 and §6
// assign to no single device: constructing every device from config,
// validating the device graph as a whole, and connecting devices to each
// other over the bus (confirmation strategies, eject-chain reservations,
// upstream-failure propagation, ball search).
//
// Grounded on registry/registry.go's flat, name-keyed construction pattern
// (build every entity first, wire cross-references second) and on
// navigation/routegraph.go's "build nodes, then resolve edges" two-pass
// shape — adapted here to a two-pass graph build (structural graph for
// construction-time validation, then a live graph once every device's
// Available() closure exists).
package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/counter"
	"github.com/lixenwraith/balldevice/delay"
	"github.com/lixenwraith/balldevice/ejector"
	"github.com/lixenwraith/balldevice/graph"
	"github.com/lixenwraith/balldevice/incoming"
	"github.com/lixenwraith/balldevice/orchestrator"
	"github.com/lixenwraith/balldevice/outgoing"
	"github.com/lixenwraith/balldevice/supervisor"
	"github.com/lixenwraith/balldevice/status"
)

// Machine owns every device's collaborators, the shared bus, and the
// cross-device wiring that no individual Device can set up for itself.
type Machine struct {
	Bus *bus.Bus

	// Metrics holds one held/available/queue_len/state reading per device,
	// keyed "<device>.<metric>" — the status package's generic atomic
	// MetricMap, polled by refreshMetrics rather than updated inline from
	// every state transition, so an operator console (cmd/balldevice-console)
	// can read live counts without contending with the device goroutines.
	Metrics *status.Registry

	devices map[string]*orchestrator.Device
	order   []string // declared config order, for deterministic enumeration
	graph   *graph.Graph

	switches counter.SwitchReader
	coils    ejector.CoilDriver

	searchOrders []ejector.SearchOrder

	cancel context.CancelFunc

	missingStreak int
}

// New constructs every non-playfield device from configs, validates the
// fatal construction-time invariants of spec.md §4.1 against the device
// graph as a whole, and wires the bus subscriptions that connect devices to
// each other. It does not start any goroutines; call Start for that.
//
// Configs tagged "playfield" contribute a terminal sink node to the graph
// (spec.md §4.6: "Playfield nodes are not traversed") but never become an
// orchestrator.Device — a playfield has no counter, no ejector, and no
// queue of its own; a source's own ball_left state handles the
// confirm_eject_type=playfield strategy (driver.go runBallLeft).
func New(configs []*balldevice.Config, switches counter.SwitchReader, coils ejector.CoilDriver) (*Machine, error) {
	m := &Machine{
		devices:  make(map[string]*orchestrator.Device, len(configs)),
		switches: switches,
		coils:    coils,
		Metrics:  status.NewRegistry(),
	}

	structural := graph.New(buildNodes(configs, nil))
	hasPathToTrough := func(c *balldevice.Config) bool { return structural.HasPathToTrough(c.Name) }
	hasPathToUnexpectedTarget := func(c *balldevice.Config) bool {
		if c.TargetOnUnexpectedBall == "" {
			return false
		}
		return structural.FindPathToTarget(c.Name, c.TargetOnUnexpectedBall) != nil
	}

	for _, c := range configs {
		if c.HasTag("playfield") {
			continue
		}
		if err := orchestrator.Validate(c, hasPathToTrough, hasPathToUnexpectedTarget); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.HasTag("playfield") {
			continue
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate device name %q", c.Name)
		}
		seen[c.Name] = true
		m.order = append(m.order, c.Name)
	}

	m.Bus = bus.New(64)

	for _, c := range configs {
		if c.HasTag("playfield") {
			continue
		}
		dev := m.buildDevice(c)
		m.devices[c.Name] = dev
		if c.BallSearchOrder > 0 {
			m.searchOrders = append(m.searchOrders, ejector.SearchOrder{
				Device: c.Name,
				Order:  c.BallSearchOrder,
				Eject:  dev.Deps.Ejector,
			})
		}
	}

	live := graph.New(buildNodes(configs, m.devices))
	m.graph = live
	for _, dev := range m.devices {
		dev.Deps.Graph = live
		dev.Deps.SetupEjectChain = m.setupEjectChain
	}

	m.wireConfirmations()
	m.wireEjectAttemptGating()
	m.wireUpstreamFailurePropagation()
	m.wireBallSearchTrigger()

	return m, nil
}

func buildNodes(configs []*balldevice.Config, devices map[string]*orchestrator.Device) []*graph.Node {
	nodes := make([]*graph.Node, 0, len(configs))
	for _, c := range configs {
		targets := make([]string, len(c.EjectTargets))
		for i, t := range c.EjectTargets {
			targets[i] = t.Name
		}
		n := &graph.Node{
			Name:     c.Name,
			Targets:  targets,
			Terminal: c.HasTag("playfield"),
			Tags:     c.Tags,
		}
		if dev, ok := devices[c.Name]; ok {
			dev := dev
			n.AvailableFn = func() int { return dev.Available() }
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func (m *Machine) buildDevice(c *balldevice.Config) *orchestrator.Device {
	var cnt counter.Counter
	if c.EntranceSwitch != "" {
		cnt = counter.NewEntranceSwitchCounter(m.switches, c.EntranceSwitch, c.Capacity, c.EntranceCountDelay, 0)
	} else {
		cnt = counter.NewSwitchCounter(m.switches, c.BallSwitches, c.EntranceCountDelay, c.ExitCountDelay)
	}

	var ej ejector.Ejector
	switch {
	case c.EjectorKind == balldevice.EjectorPulse:
		ej = &ejector.PulseCoilEjector{Driver: m.coils, Coil: c.EjectCoil}
	case c.EjectorKind == balldevice.EjectorHold:
		ej = &ejector.HoldCoilEjector{Driver: m.coils, Coil: c.EjectCoil}
	default:
		ej = &ejector.MechanicalEjector{}
	}

	deps := orchestrator.Deps{
		Bus:        m.Bus,
		Delay:      delay.New(),
		Counter:    cnt,
		Switches:   m.switches,
		Ejector:    ej,
		Incoming:   incoming.NewHandler(c.Capacity),
		Outgoing:   outgoing.NewHandler(),
		Supervisor: supervisor.New(c.Tags),
	}
	return orchestrator.New(c, deps)
}

// Device returns the named device, or nil if it does not exist or is a
// playfield placeholder.
func (m *Machine) Device(name string) *orchestrator.Device { return m.devices[name] }

// Devices returns every real device in declared config order.
func (m *Machine) Devices() []*orchestrator.Device {
	out := make([]*orchestrator.Device, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.devices[name])
	}
	return out
}

// Start launches the bus dispatch loop, initializes every device's counts
// from its counter's first reading, then launches every device's driver
// goroutine (spec.md §3 "Lifecycles").
func (m *Machine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.Bus.Run()

	for _, name := range m.order {
		dev := m.devices[name]
		if err := dev.Initialize(runCtx); err != nil {
			return fmt.Errorf("initialize %q: %w", name, err)
		}
	}
	for _, name := range m.order {
		m.devices[name].Start(runCtx)
	}
	m.startConfirmSwitchWatchers(runCtx)
	go m.runMetricsLoop(runCtx)
	return nil
}

// runMetricsLoop periodically snapshots every device's held/available/
// queue_len/state into Metrics. A dedicated poll loop rather than an
// update on every signal keeps the hot per-device goroutines free of any
// metrics-registry locking.
func (m *Machine) runMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshMetrics()
		}
	}
}

func (m *Machine) refreshMetrics() {
	for _, name := range m.order {
		dev := m.devices[name]
		m.Metrics.Ints.Get(name + ".held").Store(int64(dev.Held()))
		m.Metrics.Ints.Get(name + ".available").Store(int64(dev.Available()))
		m.Metrics.Ints.Get(name + ".queue_len").Store(int64(dev.QueueLen()))
		m.Metrics.Strings.Get(name + ".state").Store(dev.State().String())
	}
}

// Stop halts every device goroutine, then the bus.
func (m *Machine) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, name := range m.order {
		m.devices[name].Stop()
	}
	m.Bus.Stop()
}

// PostEvent posts a named, machine-defined event (confirm_eject_event,
// trigger_event, player_controlled_eject_event) onto the bus as a queue
// event, so every subscriber has released it before PostEvent returns —
// matching the FIFO guarantee spec.md §5 requires for events a caller
// (e.g. a switch matrix driver or an operator console) posts directly.
func (m *Machine) PostEvent(name string) {
	m.Bus.PostQueue(bus.Topic{Device: name, Kind: bus.KindCustomEvent}, nil)
}

// setupEjectChain is the shared implementation behind every Device's
// Deps.SetupEjectChain: it reserves a ball at the true source and enqueues
// an outgoing eject at every hop along path (spec.md §4.1 "Available-ball
// reservation", SPEC_FULL.md "Ball routing"). Per-hop incoming commitments
// are not registered here — they are registered uniformly by
// wireEjectAttemptGating, which observes every planned eject's
// ball_eject_attempt regardless of where it originated.
func (m *Machine) setupEjectChain(path []string, mechanical bool) {
	if len(path) < 2 {
		return
	}
	source := m.devices[path[0]]
	if source == nil {
		return
	}
	source.ReserveAvailable(1)

	for i := 0; i < len(path)-1; i++ {
		hop := m.devices[path[i]]
		if hop == nil {
			return
		}
		next := path[i+1]
		tc, ok := hop.Config.TargetFor(next)
		if !ok {
			return
		}
		hop.RequestEject(next, mechanical, tc.TriggerEvent, tc)
	}
}
