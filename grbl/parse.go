package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/pandalab/grblmill/coord"
)

// MachineState is the state field of a status report.
type MachineState string

const (
	StateIdle    MachineState = "Idle"
	StateRun     MachineState = "Run"
	StateHold    MachineState = "Hold"
	StateJog     MachineState = "Jog"
	StateAlarm   MachineState = "Alarm"
	StateDoor    MachineState = "Door"
	StateCheck   MachineState = "Check"
	StateHome    MachineState = "Home"
	StateSleep   MachineState = "Sleep"
	StateUnknown MachineState = ""
)

// ReportMode selects which position tag a status report carries.
type ReportMode int

const (
	ReportMachine ReportMode = iota
	ReportWork
)

func (m ReportMode) tag() string {
	if m == ReportWork {
		return "WPos"
	}
	return "MPos"
}

// ReportModeFromSetting maps the $10 status-report setting to a mode.
// Values 0 and 2 report work coordinates, 1 and 3 machine coordinates.
// Anything else falls back to machine coordinates.
func ReportModeFromSetting(v string) ReportMode {
	switch strings.TrimSpace(v) {
	case "0", "2":
		return ReportWork
	}
	return ReportMachine
}

// ErrNoPosition is returned by ParseStatus when the report carried no
// position tag matching the active mode.
var ErrNoPosition = errors.New("no position in status report")

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// ParseStatus decodes a `<State|MPos:x,y,z|...>` report, reading the
// position from whichever tag matches mode.
func ParseStatus(line string, mode ReportMode) (MachineState, coord.Point, error) {
	data := strings.TrimSpace(line)
	if !strings.HasPrefix(data, "<") {
		return StateUnknown, coord.Point{}, errors.New("not a status report: " + line)
	}
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	state := MachineState(strings.SplitN(parts[0], ":", 2)[0])
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 || sParts[0] != mode.tag() {
			continue
		}
		p, err := parseCoords(sParts[1])
		if err != nil {
			return state, coord.Point{}, err
		}
		return state, p, nil
	}
	return state, coord.Point{}, ErrNoPosition
}

// ParseSettings consumes `$N=value` lines until the `ok` terminator.
func ParseSettings(lines []string) map[string]string {
	settings := make(map[string]string)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == SettingsTerminator {
			break
		}
		if !strings.HasPrefix(line, "$") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		settings[parts[0]] = parts[1]
	}
	return settings
}
