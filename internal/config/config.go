// Package config loads the machine's device roster from a flat, line-
// oriented configuration file (see parse.go for the exact grammar). The
// ambient config layer spec.md never specifies a format for; rather than
// carry a general-purpose TOML engine for a dozen known keys, the roster
// grammar is purpose-built for this one document shape, in the vein of
// cmd/vi-fighter/main.go's hand-rolled flag parsing over a generic library.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lixenwraith/balldevice"
)

type rawTarget struct {
	Name                 string
	EjectTimeoutMs       int
	BallMissingTimeoutMs int
	MaxEjectAttempts     int
	TriggerEvent         string
}

type rawDevice struct {
	Name     string
	Tags     []string
	Capacity int
	Targets  []rawTarget

	EntranceCountDelayMs int
	ExitCountDelayMs     int

	EjectorKind        string
	EjectCoil          string
	ConfirmEjectType   string
	ConfirmEjectSwitch string
	ConfirmEjectEvent  string

	JamSwitch                  string
	MechanicalEject            bool
	PlayerControlledEjectEvent string

	TargetOnUnexpectedBall   string
	CapturesFrom             string
	AutoFireOnUnexpectedBall bool

	BallSwitches   []string
	EntranceSwitch string

	BallSearchOrder int
}

type rawFile struct {
	Device []rawDevice
}

// Load parses path and returns one balldevice.Config per [[device]] table,
// in file order (the registration order machine.New uses for graph
// search; eject-target tie-break order comes from each device's own
// eject_targets list).
func Load(path string) ([]*balldevice.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	raw, err := parseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	out := make([]*balldevice.Config, 0, len(raw.Device))
	for _, rd := range raw.Device {
		c, err := rd.toConfig()
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", rd.Name, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (rd rawDevice) toConfig() (*balldevice.Config, error) {
	ejectorKind, err := parseEjectorKind(rd.EjectorKind)
	if err != nil {
		return nil, err
	}
	confirmType, err := parseConfirmType(rd.ConfirmEjectType)
	if err != nil {
		return nil, err
	}

	targets := make([]balldevice.TargetConfig, 0, len(rd.Targets))
	for _, t := range rd.Targets {
		targets = append(targets, balldevice.TargetConfig{
			Name:               t.Name,
			EjectTimeout:       time.Duration(t.EjectTimeoutMs) * time.Millisecond,
			BallMissingTimeout: time.Duration(t.BallMissingTimeoutMs) * time.Millisecond,
			MaxEjectAttempts:   t.MaxEjectAttempts,
			TriggerEvent:       t.TriggerEvent,
		})
	}

	return &balldevice.Config{
		Name:     rd.Name,
		Tags:     rd.Tags,
		Capacity: rd.Capacity,

		EjectTargets: targets,

		EntranceCountDelay: time.Duration(rd.EntranceCountDelayMs) * time.Millisecond,
		ExitCountDelay:     time.Duration(rd.ExitCountDelayMs) * time.Millisecond,

		EjectorKind:        ejectorKind,
		EjectCoil:          rd.EjectCoil,
		ConfirmEjectType:   confirmType,
		ConfirmEjectSwitch: rd.ConfirmEjectSwitch,
		ConfirmEjectEvent:  rd.ConfirmEjectEvent,

		JamSwitch:                  rd.JamSwitch,
		MechanicalEject:            rd.MechanicalEject,
		PlayerControlledEjectEvent: rd.PlayerControlledEjectEvent,

		TargetOnUnexpectedBall:   rd.TargetOnUnexpectedBall,
		CapturesFrom:             rd.CapturesFrom,
		AutoFireOnUnexpectedBall: rd.AutoFireOnUnexpectedBall,

		BallSwitches:   rd.BallSwitches,
		EntranceSwitch: rd.EntranceSwitch,

		BallSearchOrder: rd.BallSearchOrder,
	}, nil
}

func parseEjectorKind(s string) (balldevice.EjectorKind, error) {
	switch s {
	case "", "none":
		return balldevice.EjectorNone, nil
	case "pulse":
		return balldevice.EjectorPulse, nil
	case "hold":
		return balldevice.EjectorHold, nil
	case "mechanical":
		return balldevice.EjectorMechanical, nil
	default:
		return 0, fmt.Errorf("unknown ejector_kind %q", s)
	}
}

func parseConfirmType(s string) (balldevice.ConfirmType, error) {
	switch s {
	case "", "target":
		return balldevice.ConfirmTarget, nil
	case "switch":
		return balldevice.ConfirmSwitch, nil
	case "event":
		return balldevice.ConfirmEvent, nil
	case "fake":
		return balldevice.ConfirmFake, nil
	case "playfield":
		return balldevice.ConfirmPlayfield, nil
	default:
		return 0, fmt.Errorf("unknown confirm_eject_type %q", s)
	}
}
