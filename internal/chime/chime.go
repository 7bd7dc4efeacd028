// Package chime generates short audible alerts for operator-facing events
// (ball search started, a device entered eject_broken/missing_balls) using
// gopxl/beep directly. Grounded on audio/effects.go's oscillator/envelope/
// volume streamer chain and audio/engine.go's single-goroutine command
// queue, without importing the game's audio package: the ball-device
// domain needs three or four short synthesized tones, not a game's full
// sound-effect catalogue.
package chime

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
)

// Tone names the alerts a Player can queue.
type Tone int

const (
	ToneBallSearch Tone = iota
	ToneDeviceJammed
	ToneMissingBalls
	ToneConfirmed
)

// oscillator is a minimal periodic-waveform streamer; phase wraps at 1.0
// rather than accumulating, so long-running tones do not lose precision.
type oscillator struct {
	freq     float64
	phase    float64
	rate     beep.SampleRate
	duration int
	position int
	wave     wave
}

type wave int

const (
	waveSine wave = iota
	waveSquare
	waveSaw
	waveNoise
)

func newOscillator(freq float64, duration time.Duration, w wave, rate beep.SampleRate) beep.Streamer {
	return &oscillator{freq: freq, rate: rate, duration: rate.N(duration), wave: w}
}

func (o *oscillator) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if o.position >= o.duration {
			return i, false
		}
		var v float64
		switch o.wave {
		case waveSine:
			v = math.Sin(2 * math.Pi * o.phase)
		case waveSquare:
			if o.phase < 0.5 {
				v = 1.0
			} else {
				v = -1.0
			}
		case waveSaw:
			v = 2.0 * (o.phase - 0.5)
		case waveNoise:
			v = rand.Float64()*2 - 1
		}
		samples[i][0], samples[i][1] = v, v
		o.phase += o.freq / float64(o.rate)
		o.phase -= math.Floor(o.phase)
		o.position++
	}
	return len(samples), true
}

func (o *oscillator) Err() error { return nil }

// envelope applies a linear attack/release to an inner streamer.
type envelope struct {
	s                        beep.Streamer
	position                 int
	attack, release, total int
}

func newEnvelope(s beep.Streamer, duration, attack, release time.Duration, rate beep.SampleRate) beep.Streamer {
	return &envelope{s: s, attack: rate.N(attack), release: rate.N(release), total: rate.N(duration)}
}

func (e *envelope) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = e.s.Stream(samples)
	for i := 0; i < n; i++ {
		if e.position >= e.total {
			return i, false
		}
		vol := 1.0
		if e.position < e.attack && e.attack > 0 {
			vol = float64(e.position) / float64(e.attack)
		}
		releaseStart := e.total - e.release
		if e.position >= releaseStart && e.release > 0 {
			vol = float64(e.total-e.position) / float64(e.release)
			if vol < 0 {
				vol = 0
			}
		}
		samples[i][0] *= vol
		samples[i][1] *= vol
		e.position++
	}
	return n, ok
}

func (e *envelope) Err() error { return e.s.Err() }

func withVolume(s beep.Streamer, vol float64) beep.Streamer {
	if vol <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(vol)}
}

const sampleRate = beep.SampleRate(44100)

func build(t Tone) beep.Streamer {
	switch t {
	case ToneBallSearch:
		n1 := newEnvelope(newOscillator(440, 120*time.Millisecond, waveSquare, sampleRate), 120*time.Millisecond, 5*time.Millisecond, 40*time.Millisecond, sampleRate)
		n2 := newEnvelope(newOscillator(660, 120*time.Millisecond, waveSquare, sampleRate), 120*time.Millisecond, 5*time.Millisecond, 40*time.Millisecond, sampleRate)
		return withVolume(beep.Seq(n1, n2), 0.5)
	case ToneDeviceJammed:
		osc := newOscillator(110, 400*time.Millisecond, waveSaw, sampleRate)
		return withVolume(newEnvelope(osc, 400*time.Millisecond, 10*time.Millisecond, 200*time.Millisecond, sampleRate), 0.6)
	case ToneMissingBalls:
		osc := newOscillator(0, 250*time.Millisecond, waveNoise, sampleRate)
		return withVolume(newEnvelope(osc, 250*time.Millisecond, 5*time.Millisecond, 100*time.Millisecond, sampleRate), 0.4)
	case ToneConfirmed:
		osc := newOscillator(880, 80*time.Millisecond, waveSine, sampleRate)
		return withVolume(newEnvelope(osc, 80*time.Millisecond, 2*time.Millisecond, 30*time.Millisecond, sampleRate), 0.3)
	default:
		return nil
	}
}

// Player serializes playback onto a single speaker, grounded on
// audio/engine.go's AudioEngine: one background goroutine owns the
// speaker, callers submit requests over a small buffered channel rather
// than calling speaker.Play directly from arbitrary goroutines.
type Player struct {
	queue    chan Tone
	stopOnce sync.Once
	stop     chan struct{}
}

// NewPlayer initializes the speaker at sampleRate and starts the playback
// goroutine. Safe to call once per process; a second speaker.Init call
// from elsewhere will fail, matching audio/engine.go's tolerance of that
// case during tests.
func NewPlayer() (*Player, error) {
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("chime: speaker init: %w", err)
	}
	p := &Player{queue: make(chan Tone, 4), stop: make(chan struct{})}
	go p.run()
	return p, nil
}

func (p *Player) run() {
	for {
		select {
		case <-p.stop:
			return
		case t := <-p.queue:
			s := build(t)
			if s == nil {
				continue
			}
			done := make(chan struct{})
			speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))
			<-done
		}
	}
}

// Play queues a tone, dropping it silently if the queue is full — an
// alert backlog should never make the controller block on audio.
func (p *Player) Play(t Tone) {
	select {
	case p.queue <- t:
	default:
	}
}

// Close stops the playback goroutine. The speaker itself is process-wide
// and is left initialized.
func (p *Player) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}
