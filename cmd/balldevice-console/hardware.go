package main

import (
	"context"
	"log"
	"sync"
)

// consoleSwitchReader and consoleCoilDriver are an in-memory stand-in for
// the real switch matrix and coil board (spec.md §6 treats both as
// "given" collaborators the orchestrator is handed, never owns). The
// console has no physical machine attached: a coil pulse is only logged,
// and a switch changes state only when Set is called. Operators driving real hardware replace both with a
// driver board client; nothing in machine or orchestrator changes.
type consoleSwitchReader struct {
	mu      sync.Mutex
	active  map[string]bool
	waiters []switchWaiter
}

type switchWaiter struct {
	names []string
	ch    chan switchEdge
}

type switchEdge struct {
	name   string
	active bool
}

func newConsoleSwitchReader() *consoleSwitchReader {
	return &consoleSwitchReader{active: make(map[string]bool)}
}

func (r *consoleSwitchReader) Active(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[name]
}

func (r *consoleSwitchReader) WaitForEdge(ctx context.Context, names []string) (string, bool, error) {
	ch := make(chan switchEdge, 1)
	r.mu.Lock()
	r.waiters = append(r.waiters, switchWaiter{names: names, ch: ch})
	r.mu.Unlock()

	select {
	case e := <-ch:
		return e.name, e.active, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Set flips a switch's debounced state and wakes any waiter tracking it.
// A real driver board does this from its own polling loop; nothing in the
// console calls it.
func (r *consoleSwitchReader) Set(name string, active bool) {
	r.mu.Lock()
	r.active[name] = active
	remaining := r.waiters[:0]
	var woken []switchWaiter
	for _, w := range r.waiters {
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
	r.waiters = remaining
	r.mu.Unlock()

	for _, w := range woken {
		w.ch <- switchEdge{name: name, active: active}
	}
}

// consoleCoilDriver logs coil activity instead of energizing real
// hardware, so the console can run standalone for demonstration.
type consoleCoilDriver struct {
	mu       sync.Mutex
	energized map[string]bool
}

func newConsoleCoilDriver() *consoleCoilDriver {
	return &consoleCoilDriver{energized: make(map[string]bool)}
}

func (c *consoleCoilDriver) Pulse(name string) {
	log.Printf("coil %s: pulse", name)
}

func (c *consoleCoilDriver) Energize(name string) {
	c.mu.Lock()
	c.energized[name] = true
	c.mu.Unlock()
	log.Printf("coil %s: energize", name)
}

func (c *consoleCoilDriver) DeEnergize(name string) {
	c.mu.Lock()
	c.energized[name] = false
	c.mu.Unlock()
	log.Printf("coil %s: de-energize", name)
}
