package mill

import (
	"log"
	"time"

	"github.com/pandalab/grblmill/grbl"
)

const (
	defaultHomeTimeout = 90 * time.Second
	// homeSettle gives the homing cycle time to start moving; polling
	// before the motors engage just reads a stale Idle.
	homeSettle   = 15 * time.Second
	homePollWait = 2 * time.Second
)

// Homing drives the homing cycle and the startup ritual around it.
type Homing struct {
	exec    *Executor
	clock   Clock
	timeout time.Duration
}

func NewHoming(exec *Executor, clock Clock) *Homing {
	return &Homing{exec: exec, clock: clock, timeout: defaultHomeTimeout}
}

// Home sends the homing command and polls until the device reports
// Idle. A timeout is non-fatal: it returns false with a nil error and
// the caller decides whether to proceed.
func (h *Homing) Home() (bool, error) {
	if _, err := h.exec.Execute(grbl.CmdHome); err != nil {
		return false, err
	}
	h.clock.Sleep(homeSettle)
	deadline := h.clock.Now().Add(h.timeout)
	for {
		line, err := h.exec.Status()
		if err != nil {
			return false, err
		}
		state, _, _ := grbl.ParseStatus(line, h.exec.cfg.ReportMode())
		if state == grbl.StateIdle {
			log.Printf("homing completed")
			return true, nil
		}
		if h.clock.Now().After(deadline) {
			log.Printf("homing timed out after %s, last status %q", h.timeout, line)
			return false, nil
		}
		h.clock.Sleep(homePollWait)
	}
}
