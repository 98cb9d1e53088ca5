package mill

import (
	"errors"
	"log"
	"time"

	"github.com/pandalab/grblmill/channel"
	"github.com/pandalab/grblmill/grbl"
)

const (
	defaultMotionTimeout = 90 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultStatusRetries = 25
	maxSettingsLines     = 256
)

// Executor runs single commands against the channel and reports the
// device's answer. Control commands return their single response line;
// motion commands are acknowledged and then waited on until the device
// goes Idle. The one documented transient fault, error 22, is recovered
// by setting the default feed rate and resubmitting exactly once.
type Executor struct {
	ch    channel.Channel
	cfg   *Config
	clock Clock

	motionTimeout time.Duration
	pollInterval  time.Duration
	statusRetries int
}

func NewExecutor(ch channel.Channel, cfg *Config, clock Clock) *Executor {
	return &Executor{
		ch:            ch,
		cfg:           cfg,
		clock:         clock,
		motionTimeout: defaultMotionTimeout,
		pollInterval:  defaultPollInterval,
		statusRetries: defaultStatusRetries,
	}
}

// Execute runs one command and returns the response: the raw line for
// control commands, the final status report for motion commands.
func (e *Executor) Execute(cmd string) (string, error) {
	resp, err := e.run(cmd, false)
	if err != nil && !isDeviceError(err) {
		return "", &CommandExecutionError{Command: cmd, Err: err}
	}
	return resp, err
}

// isDeviceError separates faults the device reported from unexpected
// I/O failures; only the latter get wrapped with the command context.
func isDeviceError(err error) bool {
	var sre *StatusReturnError
	var ste *StatusTimeoutError
	var lnf *LocationNotFoundError
	return errors.As(err, &sre) || errors.As(err, &ste) || errors.As(err, &lnf)
}

func (e *Executor) run(cmd string, retried bool) (string, error) {
	if err := e.ch.WriteLine(cmd); err != nil {
		return "", err
	}
	line, err := e.readResponse()
	if err != nil {
		return "", err
	}
	if grbl.IsFault(line) {
		return e.recover(cmd, line, retried)
	}
	if grbl.IsControl(cmd) {
		return line, nil
	}
	return e.waitForIdle()
}

func (e *Executor) recover(cmd, line string, retried bool) (string, error) {
	if retried || !grbl.IsFeedRateFault(line) {
		log.Printf("ERROR: device fault on %q: %s (%s)", cmd, line, grbl.DescribeFault(line))
		return "", &StatusReturnError{Status: line}
	}
	log.Printf("feed rate not set (%s), setting F%d and resubmitting %q", line, e.cfg.DefaultFeedRate, cmd)
	if _, err := e.run(grbl.FeedRate(e.cfg.DefaultFeedRate), true); err != nil {
		return "", err
	}
	return e.run(cmd, true)
}

// readResponse reads the next non-empty line within the retry budget.
func (e *Executor) readResponse() (string, error) {
	for attempt := 0; attempt < e.statusRetries; attempt++ {
		line, err := e.ch.ReadLine()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
		e.clock.Sleep(e.pollInterval)
	}
	return "", &StatusTimeoutError{Attempts: e.statusRetries}
}

// waitForIdle polls status until the device reports Idle or the motion
// timeout passes. On timeout the last observed report is returned; the
// machine may still be moving and the caller decides what to do.
func (e *Executor) waitForIdle() (string, error) {
	deadline := e.clock.Now().Add(e.motionTimeout)
	for {
		line, err := e.Status()
		if err != nil {
			return "", err
		}
		state, _, perr := grbl.ParseStatus(line, e.cfg.ReportMode())
		if perr != nil && !errors.Is(perr, grbl.ErrNoPosition) {
			return "", perr
		}
		if state == grbl.StateIdle {
			return line, nil
		}
		if e.clock.Now().After(deadline) {
			log.Printf("wait for completion timed out, last status %q", line)
			return line, nil
		}
		e.clock.Sleep(e.pollInterval)
	}
}

// Settings runs a `$$` dump and returns the parsed settings map.
func (e *Executor) Settings() (map[string]string, error) {
	if err := e.ch.WriteLine(grbl.CmdSettings); err != nil {
		return nil, &CommandExecutionError{Command: grbl.CmdSettings, Err: err}
	}
	var lines []string
	empty := 0
	for len(lines) < maxSettingsLines {
		line, err := e.ch.ReadLine()
		if err != nil {
			return nil, &CommandExecutionError{Command: grbl.CmdSettings, Err: err}
		}
		if line == "" {
			if empty++; empty >= e.statusRetries {
				return nil, &StatusTimeoutError{Attempts: empty}
			}
			e.clock.Sleep(e.pollInterval)
			continue
		}
		empty = 0
		if grbl.IsFault(line) {
			return nil, &StatusReturnError{Status: line}
		}
		lines = append(lines, line)
		if line == grbl.SettingsTerminator {
			break
		}
	}
	return grbl.ParseSettings(lines), nil
}
