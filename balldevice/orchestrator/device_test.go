package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lixenwraith/balldevice"
	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/delay"
	"github.com/lixenwraith/balldevice/graph"
	"github.com/lixenwraith/balldevice/incoming"
	"github.com/lixenwraith/balldevice/outgoing"
	"github.com/lixenwraith/balldevice/supervisor"
)

// fakeCounter is a minimal, test-driven Counter: CountBalls and
// WaitForActivity are controlled directly rather than inferred from switch
// edges, mirroring the hand-rolled fakes used across the other balldevice
// packages' tests.
type fakeCounter struct {
	mu       sync.Mutex
	count    int
	activity chan struct{}
}

func newFakeCounter(initial int) *fakeCounter {
	return &fakeCounter{count: initial, activity: make(chan struct{}, 8)}
}

func (f *fakeCounter) CountBalls(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeCounter) WaitForActivity(ctx context.Context) error {
	select {
	case <-f.activity:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCounter) WaitForBallToLeave(ctx context.Context) error { return nil }
func (f *fakeCounter) EjectingOneBall()                             {}

func (f *fakeCounter) setCount(n int) {
	f.mu.Lock()
	f.count = n
	f.mu.Unlock()
	f.activity <- struct{}{}
}

// fakeEjector records every call instead of driving a real coil.
type fakeEjector struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEjector) EjectOneBall() { e.record("eject") }
func (e *fakeEjector) Hold()         { e.record("hold") }
func (e *fakeEjector) Release()      { e.record("release") }
func (e *fakeEjector) BallSearch(int) {}
func (e *fakeEjector) record(s string) {
	e.mu.Lock()
	e.calls = append(e.calls, s)
	e.mu.Unlock()
}
func (e *fakeEjector) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestDeps(counter *fakeCounter, ej *fakeEjector, g *graph.Graph, setupChain func([]string, bool)) Deps {
	b := bus.New(0)
	go b.Run()
	return Deps{
		Bus:        b,
		Delay:      delay.New(),
		Counter:    counter,
		Ejector:    ej,
		Incoming:   incoming.NewHandler(8),
		Outgoing:   outgoing.NewHandler(),
		Supervisor: supervisor.New(nil),
		Graph:      g,
		SetupEjectChain: func(path []string, mechanical bool) {
			if setupChain != nil {
				setupChain(path, mechanical)
			}
		},
	}
}

func waitForState(t *testing.T, d *Device, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("device never reached state %v, stuck at %v", want, d.State())
}

func troughConfig() *balldevice.Config {
	return &balldevice.Config{
		Name: "trough",
		Tags: []string{"trough"},
		EjectTargets: []balldevice.TargetConfig{
			{Name: "shooter_lane", EjectTimeout: 50 * time.Millisecond, BallMissingTimeout: 150 * time.Millisecond, MaxEjectAttempts: 1},
		},
		EjectorKind:      balldevice.EjectorPulse,
		EjectCoil:        "trough_eject",
		ConfirmEjectType: balldevice.ConfirmFake,
	}
}

func TestValidateRequiresExactlyOneEjectorKind(t *testing.T) {
	cfg := &balldevice.Config{Name: "bad"}
	if err := Validate(cfg, nil, func(*balldevice.Config) bool { return true }); err == nil {
		t.Fatal("expected validation error when no ejector kind is configured")
	}
}

func TestValidateMechanicalEjectRequiresExactlyOneSwitch(t *testing.T) {
	cfg := &balldevice.Config{Name: "plunger", MechanicalEject: true, BallSwitches: []string{"a", "b"}}
	if err := Validate(cfg, nil, func(*balldevice.Config) bool { return true }); err == nil {
		t.Fatal("expected validation error for mechanical_eject with != 1 ball switch")
	}
}

func TestValidateDrainRequiresPathToTrough(t *testing.T) {
	cfg := &balldevice.Config{Name: "drain", Tags: []string{"drain"}, MechanicalEject: true, BallSwitches: []string{"s1"}}
	err := Validate(cfg, func(*balldevice.Config) bool { return false }, nil)
	if err == nil {
		t.Fatal("expected validation error when drain has no graph path to a trough")
	}
}

func TestInitializeSeedsHeldAndAvailableAndTransitionsToIdle(t *testing.T) {
	fc := newFakeCounter(2)
	dev := New(troughConfig(), newTestDeps(fc, &fakeEjector{}, graph.New(nil), nil))

	if err := dev.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev.Held() != 2 || dev.Available() != 2 {
		t.Fatalf("expected held=available=2, got held=%d available=%d", dev.Held(), dev.Available())
	}
	if dev.State() != StateIdle {
		t.Fatalf("expected state idle, got %v", dev.State())
	}
}

func TestRequestEjectDrivesFullSuccessfulEjectCycle(t *testing.T) {
	fc := newFakeCounter(1)
	ej := &fakeEjector{}
	dev := New(troughConfig(), newTestDeps(fc, ej, graph.New(nil), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dev.Start(ctx)
	defer dev.Stop()

	tc, _ := dev.Config.TargetFor("shooter_lane")
	dev.RequestEject("shooter_lane", false, "", tc)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ej.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if ej.callCount() == 0 {
		t.Fatal("expected the coil to have fired")
	}

	// Simulate the ball physically leaving: the counter drops to 0.
	fc.setCount(0)

	waitForState(t, dev, StateIdle, time.Second)
	if dev.Available() != 2 {
		t.Fatalf("expected ejectSuccess to increment available, got %d", dev.Available())
	}
	if dev.QueueLen() != 0 {
		t.Fatalf("expected the outgoing queue to be drained, got len %d", dev.QueueLen())
	}
}

func TestEjectTimesOutAndExhaustsRetriesIntoEjectBroken(t *testing.T) {
	fc := newFakeCounter(1)
	ej := &fakeEjector{}
	dev := New(troughConfig(), newTestDeps(fc, ej, graph.New(nil), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dev.Start(ctx)
	defer dev.Stop()

	tc, _ := dev.Config.TargetFor("shooter_lane")
	dev.RequestEject("shooter_lane", false, "", tc)

	// MaxEjectAttempts is 1 in troughConfig and the counter never reports a
	// count-down, so the eject should time out once, exhaust its single
	// permitted attempt, and land in eject_broken.
	waitForState(t, dev, StateEjectBroken, time.Second)
	if dev.QueueLen() != 0 {
		t.Fatalf("expected the failed request popped off the queue, got len %d", dev.QueueLen())
	}
}

func TestEjectRetriesBeforeGivingUp(t *testing.T) {
	fc := newFakeCounter(1)
	ej := &fakeEjector{}
	cfg := troughConfig()
	cfg.EjectTargets[0].MaxEjectAttempts = 2
	dev := New(cfg, newTestDeps(fc, ej, graph.New(nil), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dev.Start(ctx)
	defer dev.Stop()

	tc, _ := dev.Config.TargetFor("shooter_lane")
	dev.RequestEject("shooter_lane", false, "", tc)

	// First attempt times out: with MaxEjectAttempts=2 the device must requeue
	// at head and retry rather than giving up, so the coil fires again and the
	// request is still queued.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ej.callCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	if ej.callCount() < 2 {
		t.Fatalf("expected the coil to fire again on retry, got %d calls", ej.callCount())
	}
	if dev.QueueLen() != 1 {
		t.Fatalf("expected the retried request to remain queued, got len %d", dev.QueueLen())
	}

	// Second attempt also times out: attempts now exhausted.
	waitForState(t, dev, StateEjectBroken, time.Second)
	if dev.QueueLen() != 0 {
		t.Fatalf("expected the exhausted request popped off the queue, got len %d", dev.QueueLen())
	}
}

func TestHandleCountUpRoutesUnexpectedBallViaSetupEjectChain(t *testing.T) {
	fc := newFakeCounter(0)
	ej := &fakeEjector{}

	var calledPath []string
	var calledMechanical bool
	var mu sync.Mutex
	var called atomic.Bool

	g := graph.New([]*graph.Node{
		{Name: "left_ramp", Targets: []string{"trough"}},
		{Name: "trough", Tags: []string{"trough"}},
	})

	cfg := &balldevice.Config{
		Name:                     "left_ramp",
		EjectorKind:              balldevice.EjectorPulse,
		EjectCoil:                "ramp_eject",
		ConfirmEjectType:         balldevice.ConfirmFake,
		TargetOnUnexpectedBall:   "trough",
		AutoFireOnUnexpectedBall: true,
	}

	dev := New(cfg, newTestDeps(fc, ej, g, func(path []string, mechanical bool) {
		mu.Lock()
		calledPath = append([]string(nil), path...)
		calledMechanical = mechanical
		mu.Unlock()
		called.Store(true)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dev.Initialize(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dev.Start(ctx)
	defer dev.Stop()

	fc.setCount(1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !called.Load() {
		time.Sleep(time.Millisecond)
	}
	if !called.Load() {
		t.Fatal("expected SetupEjectChain to be invoked for an unexpected ball")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calledPath) != 2 || calledPath[0] != "left_ramp" || calledPath[1] != "trough" {
		t.Fatalf("expected path [left_ramp trough], got %v", calledPath)
	}
	if calledMechanical {
		t.Fatal("AutoFireOnUnexpectedBall=true should request a non-mechanical (coil-fired) eject")
	}
}
