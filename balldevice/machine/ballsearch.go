package machine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lixenwraith/balldevice/bus"
	"github.com/lixenwraith/balldevice/ejector"
)

// ballSearchThreshold is the number of consecutive, unresolved
// balldevice_ball_missing reports across the whole machine that trigger a
// ball search (SPEC_FULL.md "Ball search", grounded on
// _examples/original_source/mpf/devices/ball_device/ball_device.py's
// missing-ball escalation into the playfield-wide ball search). Any
// balldevice_ball_eject_success anywhere resets the streak: a device
// successfully moving a ball is evidence the machine is not actually
// stuck.
const ballSearchThreshold = 3

// wireBallSearchTrigger subscribes every device's ball_missing and
// ball_eject_success topics to maintain a machine-wide streak counter, and
// fires BallSearch once the streak crosses ballSearchThreshold.
func (m *Machine) wireBallSearchTrigger() {
	var mu sync.Mutex
	for _, name := range m.order {
		m.Bus.SubscribeQueue(bus.Topic{Device: name, Kind: bus.KindBallMissing}, func(payload any, release func()) {
			mu.Lock()
			m.missingStreak++
			streak := m.missingStreak
			mu.Unlock()
			release()
			if streak >= ballSearchThreshold {
				mu.Lock()
				m.missingStreak = 0
				mu.Unlock()
				go m.BallSearch(context.Background())
			}
		})
		m.Bus.SubscribeQueue(bus.Topic{Device: name, Kind: bus.KindBallEjectSuccess}, func(payload any, release func()) {
			mu.Lock()
			m.missingStreak = 0
			mu.Unlock()
			release()
		})
	}
}

// BallSearch runs one round of ball search (SPEC_FULL.md "Ball search"):
// it first calls CountBalls on every device's counter and discards the
// results (no device's count is updated from them), then nudges every
// search-capable ejector (BallSearch phase 1, then phase 2) in ascending
// BallSearchOrder, pausing between each
// so a dislodged ball has time to settle on a downstream switch before the
// next device fires.
func (m *Machine) BallSearch(ctx context.Context) {
	for _, name := range m.order {
		m.devices[name].Deps.Counter.CountBalls(ctx)
	}

	ordered := append([]ejector.SearchOrder(nil), m.searchOrders...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for _, s := range ordered {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.Eject.BallSearch(1)
		time.Sleep(50 * time.Millisecond)
		s.Eject.BallSearch(2)
		time.Sleep(250 * time.Millisecond)
	}
}
