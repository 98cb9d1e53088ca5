package channel

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pandalab/grblmill/coord"
)

// Sim is an in-memory Grbl controller. It tracks its own coordinates,
// answers status queries from that state, and acknowledges everything
// else the way the hardware does, so every layer above the channel can
// run without a mill attached. It is selected by configuration, not by
// wrapping the serial implementation.
type Sim struct {
	open  bool
	pos   coord.Point
	feed  int
	homed bool
	state string

	settings map[string]string
	queue    []string
	faults   []string
	history  []string
}

var _ Channel = (*Sim)(nil)

func NewSim() *Sim {
	return &Sim{
		state: "Idle",
		settings: map[string]string{
			"$0":   "10",
			"$1":   "25",
			"$10":  "1",
			"$20":  "0",
			"$21":  "0",
			"$22":  "1",
			"$27":  "1.000",
			"$110": "2000.000",
			"$111": "2000.000",
			"$112": "2000.000",
			"$130": "300.000",
			"$131": "200.000",
			"$132": "100.000",
		},
	}
}

func (s *Sim) Open() error {
	s.open = true
	s.queue = nil
	return nil
}

func (s *Sim) Close() error {
	if !s.open {
		return &ConnectionError{Op: "close", Err: errors.New("sim not open")}
	}
	s.open = false
	return nil
}

func (s *Sim) Flush() error {
	s.queue = nil
	return nil
}

// Position reports the simulated machine position.
func (s *Sim) Position() coord.Point { return s.pos }

// Homed reports whether a homing cycle ran.
func (s *Sim) Homed() bool { return s.homed }

// SetState overrides the reported machine state, for driving timeout
// paths (a machine stuck in Run, an alarm that never clears).
func (s *Sim) SetState(state string) { s.state = state }

// InjectFault queues raw fault lines; each motion command consumes one
// instead of executing.
func (s *Sim) InjectFault(lines ...string) { s.faults = append(s.faults, lines...) }

// History returns every line written so far.
func (s *Sim) History() []string { return append([]string(nil), s.history...) }

func (s *Sim) WriteLine(text string) error {
	if !s.open {
		return &ConnectionError{Op: "write", Err: errors.New("sim not open")}
	}
	cmd := strings.TrimSpace(text)
	s.history = append(s.history, cmd)

	switch {
	case cmd == "?":
		s.queue = append(s.queue, s.statusLine())
	case cmd == "$$":
		s.queue = append(s.queue, s.settingsDump()...)
	case cmd == "$H":
		s.homed = true
		s.pos = coord.Point{}
		if s.state == "Alarm" {
			s.state = "Idle"
		}
		s.queue = append(s.queue, "ok")
	case cmd == "$G":
		s.queue = append(s.queue, fmt.Sprintf("[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F%d S0]", s.feed))
	case cmd == "$#":
		s.queue = append(s.queue, "[G54:0.000,0.000,0.000]")
	case cmd == "$X", cmd == "$C", cmd == "\x18":
		s.queue = append(s.queue, "ok")
	case strings.HasPrefix(cmd, "$") && strings.Contains(cmd, "="):
		parts := strings.SplitN(cmd, "=", 2)
		s.settings[parts[0]] = parts[1]
		s.queue = append(s.queue, "ok")
	case strings.HasPrefix(cmd, "F"):
		rate, err := strconv.Atoi(cmd[1:])
		if err != nil {
			s.queue = append(s.queue, "error:2")
			return nil
		}
		s.feed = rate
		s.queue = append(s.queue, "ok")
	case strings.HasPrefix(cmd, "G00"), strings.HasPrefix(cmd, "G01"):
		s.runMove(cmd)
	default:
		s.queue = append(s.queue, "error:20")
	}
	return nil
}

func (s *Sim) runMove(cmd string) {
	if len(s.faults) > 0 {
		fault := s.faults[0]
		s.faults = s.faults[1:]
		s.queue = append(s.queue, fault)
		return
	}
	if strings.HasPrefix(cmd, "G01") && s.feed == 0 {
		// the hardware refuses a feed move before any F command
		s.queue = append(s.queue, "error:22")
		return
	}
	for _, field := range strings.Fields(cmd)[1:] {
		v, err := strconv.ParseFloat(field[1:], 64)
		if err != nil {
			s.queue = append(s.queue, "error:20")
			return
		}
		switch field[0] {
		case 'X':
			s.pos.X = v
		case 'Y':
			s.pos.Y = v
		case 'Z':
			s.pos.Z = v
		case 'F':
			s.feed = int(v)
		default:
			s.queue = append(s.queue, "error:20")
			return
		}
	}
	s.queue = append(s.queue, "ok")
}

func (s *Sim) statusLine() string {
	tag := "MPos"
	switch s.settings["$10"] {
	case "0", "2":
		tag = "WPos"
	}
	return fmt.Sprintf("<%s|%s:%.3f,%.3f,%.3f|FS:%d,0>", s.state, tag, s.pos.X, s.pos.Y, s.pos.Z, s.feed)
}

func (s *Sim) settingsDump() []string {
	keys := make([]string, 0, len(s.settings))
	for k := range s.settings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(keys[i], "$"))
		b, _ := strconv.Atoi(strings.TrimPrefix(keys[j], "$"))
		return a < b
	})
	lines := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		lines = append(lines, k+"="+s.settings[k])
	}
	return append(lines, "ok")
}

func (s *Sim) ReadLine() (string, error) {
	if !s.open {
		return "", &ConnectionError{Op: "read", Err: errors.New("sim not open")}
	}
	if len(s.queue) == 0 {
		return "", nil
	}
	line := s.queue[0]
	s.queue = s.queue[1:]
	return line, nil
}
