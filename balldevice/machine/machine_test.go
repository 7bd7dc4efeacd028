package machine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/machine"
	"github.com/lixenwraith/balldevice/orchestrator"
)

// fakeSwitchReader is a minimal in-memory counter.SwitchReader, the same
// shape as the one the operator console (cmd/balldevice-console/hardware.go)
// uses in place of a real driver board.
type fakeSwitchReader struct {
	mu      sync.Mutex
	active  map[string]bool
	waiters []fakeWaiter
}

type fakeWaiter struct {
	names []string
	ch    chan fakeEdge
}

type fakeEdge struct {
	name   string
	active bool
}

func newFakeSwitchReader() *fakeSwitchReader {
	return &fakeSwitchReader{active: make(map[string]bool)}
}

func (f *fakeSwitchReader) Active(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[name]
}

func (f *fakeSwitchReader) WaitForEdge(ctx context.Context, names []string) (string, bool, error) {
	ch := make(chan fakeEdge, 1)
	f.mu.Lock()
	f.waiters = append(f.waiters, fakeWaiter{names: names, ch: ch})
	f.mu.Unlock()
	select {
	case e := <-ch:
		return e.name, e.active, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (f *fakeSwitchReader) Set(name string, active bool) {
	f.mu.Lock()
	f.active[name] = active
	var remaining, woken []fakeWaiter
	for _, w := range f.waiters {
		matched := false
		for _, n := range w.names {
			if n == name {
				matched = true
				break
			}
		}
		if matched {
			woken = append(woken, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()
	for _, w := range woken {
		w.ch <- fakeEdge{name: name, active: active}
	}
}

// fakeCoilDriver records every call instead of driving real hardware.
type fakeCoilDriver struct {
	mu    sync.Mutex
	calls []string
}

func newFakeCoilDriver() *fakeCoilDriver { return &fakeCoilDriver{} }

func (f *fakeCoilDriver) Pulse(name string)      { f.record("pulse:" + name) }
func (f *fakeCoilDriver) Energize(name string)   { f.record("energize:" + name) }
func (f *fakeCoilDriver) DeEnergize(name string) { f.record("deenergize:" + name) }
func (f *fakeCoilDriver) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}
func (f *fakeCoilDriver) has(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == s {
			return true
		}
	}
	return false
}

func twoDeviceConfigs() []*balldevice.Config {
	return []*balldevice.Config{
		{
			Name:               "trough",
			Tags:               []string{"trough"},
			BallSwitches:       []string{"trough_sw1", "trough_sw2"},
			EntranceCountDelay: time.Millisecond,
			ExitCountDelay:     time.Millisecond,
			EjectorKind:        balldevice.EjectorPulse,
			EjectCoil:          "trough_eject",
			ConfirmEjectType:   balldevice.ConfirmTarget,
			EjectTargets: []balldevice.TargetConfig{
				{Name: "shooter_lane", EjectTimeout: 50 * time.Millisecond, BallMissingTimeout: 150 * time.Millisecond, MaxEjectAttempts: 1},
			},
		},
		{
			Name:               "shooter_lane",
			Tags:               []string{"trough"}, // sidesteps the drain/unexpected-target path checks for this test
			Capacity:           2,
			BallSwitches:       []string{"shooter_sw"},
			EntranceCountDelay: time.Millisecond,
			ExitCountDelay:     time.Millisecond,
			MechanicalEject:    true,
		},
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true within timeout")
	}
}

func TestNewValidatesAndWiresTwoDeviceConfig(t *testing.T) {
	sw := newFakeSwitchReader()
	m, err := machine.New(twoDeviceConfigs(), sw, newFakeCoilDriver())
	if err != nil {
		t.Fatalf("unexpected error constructing machine: %v", err)
	}
	if m.Device("trough") == nil || m.Device("shooter_lane") == nil {
		t.Fatal("expected both configured devices to exist")
	}
	if len(m.Devices()) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(m.Devices()))
	}
}

func TestNewRejectsDeviceWithNoEjectorConfigured(t *testing.T) {
	configs := []*balldevice.Config{
		{Name: "broken", BallSwitches: []string{"s1"}},
	}
	if _, err := machine.New(configs, newFakeSwitchReader(), newFakeCoilDriver()); err == nil {
		t.Fatal("expected an error for a device with no ejector strategy configured")
	}
}

func TestMachineRunsFullEjectAndConfirmCycleAcrossTwoDevices(t *testing.T) {
	sw := newFakeSwitchReader()
	sw.Set("trough_sw1", true)
	sw.Set("trough_sw2", true)
	coil := newFakeCoilDriver()

	m, err := machine.New(twoDeviceConfigs(), sw, coil)
	if err != nil {
		t.Fatalf("unexpected error constructing machine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting machine: %v", err)
	}
	defer m.Stop()

	trough := m.Device("trough")
	shooterLane := m.Device("shooter_lane")

	waitUntil(t, time.Second, func() bool { return trough.Held() == 2 })

	tc, ok := trough.Config.TargetFor("shooter_lane")
	if !ok {
		t.Fatal("expected shooter_lane to be a configured eject target of trough")
	}
	trough.RequestEject("shooter_lane", false, "", tc)

	waitUntil(t, time.Second, func() bool { return coil.has("pulse:trough_eject") })

	// The ball leaves the trough: one of its two position switches opens.
	sw.Set("trough_sw1", false)
	waitUntil(t, time.Second, func() bool { return trough.State() == orchestrator.StateBallLeft })

	// The ball arrives at the shooter lane, closing its entry switch — this
	// drives confirm_eject_type=target's claim against trough's commitment.
	sw.Set("shooter_sw", true)

	waitUntil(t, time.Second, func() bool { return trough.State() == orchestrator.StateIdle })
	if trough.Held() != 1 {
		t.Fatalf("expected trough to hold 1 ball after the eject, got %d", trough.Held())
	}
	if shooterLane.Held() != 1 {
		t.Fatalf("expected shooter_lane to hold 1 ball after arrival, got %d", shooterLane.Held())
	}

	waitUntil(t, time.Second, func() bool {
		return m.Metrics.Ints.Get("trough.held").Load() == 1
	})
}
