package config

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseRoster reads a device roster file: a flat, line-oriented subset of
// TOML built for exactly this shape of document and nothing more — one
// [[device]] table per device, with an optional nested [[device.eject_targets]]
// array of tables per eject target. There is no generic value decoder;
// each key is assigned to its known field directly, so an unrecognized key
// or a value of the wrong shape fails at the line that's wrong rather than
// deep inside a reflection walk.
//
// Supported value syntax: "quoted strings", true/false, bare integers, and
// ["array", "of", "quoted", "strings"]. Comments start with # and run to
// end of line; blank lines are ignored.
func parseRoster(data []byte) (rawFile, error) {
	var raw rawFile
	var device *rawDevice
	var target *rawTarget

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[[") {
			header, err := parseHeader(line)
			if err != nil {
				return rawFile{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			switch header {
			case "device":
				raw.Device = append(raw.Device, rawDevice{})
				device = &raw.Device[len(raw.Device)-1]
				target = nil
			case "device.eject_targets":
				if device == nil {
					return rawFile{}, fmt.Errorf("line %d: [[device.eject_targets]] outside of a [[device]] block", lineNo)
				}
				device.Targets = append(device.Targets, rawTarget{})
				target = &device.Targets[len(device.Targets)-1]
			default:
				return rawFile{}, fmt.Errorf("line %d: unknown table [[%s]]", lineNo, header)
			}
			continue
		}

		key, val, err := splitAssignment(line)
		if err != nil {
			return rawFile{}, fmt.Errorf("line %d: %w", lineNo, err)
		}

		switch {
		case target != nil:
			err = assignTargetField(target, key, val)
		case device != nil:
			err = assignDeviceField(device, key, val)
		default:
			err = fmt.Errorf("key %q outside of a [[device]] block", key)
		}
		if err != nil {
			return rawFile{}, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return rawFile{}, fmt.Errorf("scan roster: %w", err)
	}
	return raw, nil
}

func stripComment(line string) string {
	inQuote := false
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func parseHeader(line string) (string, error) {
	if !strings.HasSuffix(line, "]]") {
		return "", fmt.Errorf("unterminated table header %q", line)
	}
	return strings.TrimSpace(line[2 : len(line)-2]), nil
}

func splitAssignment(line string) (key, val string, err error) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", fmt.Errorf("expected key = value, got %q", line)
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), nil
}

func assignDeviceField(d *rawDevice, key, val string) error {
	switch key {
	case "name":
		return assignString(&d.Name, val)
	case "tags":
		return assignStringSlice(&d.Tags, val)
	case "capacity":
		return assignInt(&d.Capacity, val)
	case "entrance_count_delay_ms":
		return assignInt(&d.EntranceCountDelayMs, val)
	case "exit_count_delay_ms":
		return assignInt(&d.ExitCountDelayMs, val)
	case "ejector_kind":
		return assignString(&d.EjectorKind, val)
	case "eject_coil":
		return assignString(&d.EjectCoil, val)
	case "confirm_eject_type":
		return assignString(&d.ConfirmEjectType, val)
	case "confirm_eject_switch":
		return assignString(&d.ConfirmEjectSwitch, val)
	case "confirm_eject_event":
		return assignString(&d.ConfirmEjectEvent, val)
	case "jam_switch":
		return assignString(&d.JamSwitch, val)
	case "mechanical_eject":
		return assignBool(&d.MechanicalEject, val)
	case "player_controlled_eject_event":
		return assignString(&d.PlayerControlledEjectEvent, val)
	case "target_on_unexpected_ball":
		return assignString(&d.TargetOnUnexpectedBall, val)
	case "captures_from":
		return assignString(&d.CapturesFrom, val)
	case "auto_fire_on_unexpected_ball":
		return assignBool(&d.AutoFireOnUnexpectedBall, val)
	case "ball_switches":
		return assignStringSlice(&d.BallSwitches, val)
	case "entrance_switch":
		return assignString(&d.EntranceSwitch, val)
	case "ball_search_order":
		return assignInt(&d.BallSearchOrder, val)
	default:
		return fmt.Errorf("unknown device key %q", key)
	}
}

func assignTargetField(t *rawTarget, key, val string) error {
	switch key {
	case "name":
		return assignString(&t.Name, val)
	case "eject_timeout_ms":
		return assignInt(&t.EjectTimeoutMs, val)
	case "ball_missing_timeout_ms":
		return assignInt(&t.BallMissingTimeoutMs, val)
	case "max_eject_attempts":
		return assignInt(&t.MaxEjectAttempts, val)
	case "trigger_event":
		return assignString(&t.TriggerEvent, val)
	default:
		return fmt.Errorf("unknown eject_targets key %q", key)
	}
}

func assignString(dst *string, val string) error {
	s, err := parseQuotedString(val)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func assignInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", val)
	}
	*dst = n
	return nil
}

func assignBool(dst *bool, val string) error {
	switch val {
	case "true":
		*dst = true
	case "false":
		*dst = false
	default:
		return fmt.Errorf("expected true/false, got %q", val)
	}
	return nil
}

func assignStringSlice(dst *[]string, val string) error {
	if len(val) < 2 || val[0] != '[' || val[len(val)-1] != ']' {
		return fmt.Errorf("expected array, got %q", val)
	}
	inner := strings.TrimSpace(val[1 : len(val)-1])
	if inner == "" {
		*dst = nil
		return nil
	}
	parts := splitTopLevelCommas(inner)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s, err := parseQuotedString(strings.TrimSpace(p))
		if err != nil {
			return err
		}
		out = append(out, s)
	}
	*dst = out
	return nil
}

func splitTopLevelCommas(s string) []string {
	var out []string
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func parseQuotedString(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("expected a quoted string, got %q", s)
	}
	return unescape(s[1 : len(s)-1]), nil
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, "\t")
	s = strings.ReplaceAll(s, `\r`, "\r")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}
