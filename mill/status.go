package mill

import (
	"log"

	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/grbl"
)

// positionAttempts bounds the consecutive reports allowed to arrive
// without a parsable coordinate triple.
const positionAttempts = 3

// Status queries the device and returns the raw report line, retrying
// within the bounded budget on empty reads and skipping stray `ok`
// acknowledgements from earlier commands.
func (e *Executor) Status() (string, error) {
	for attempt := 0; attempt < e.statusRetries; attempt++ {
		if err := e.ch.WriteLine(grbl.CmdStatus); err != nil {
			return "", err
		}
		line, err := e.ch.ReadLine()
		if err != nil {
			return "", err
		}
		for line == "ok" {
			line, err = e.ch.ReadLine()
			if err != nil {
				return "", err
			}
		}
		if line == "" {
			continue
		}
		if grbl.IsFault(line) {
			return "", &StatusReturnError{Status: line}
		}
		return line, nil
	}
	return "", &StatusTimeoutError{Attempts: e.statusRetries}
}

// Position returns the device-reported state and machine position.
func (e *Executor) Position() (grbl.MachineState, coord.Point, error) {
	var line string
	for attempt := 1; attempt <= positionAttempts; attempt++ {
		var err error
		line, err = e.Status()
		if err != nil {
			return grbl.StateUnknown, coord.Point{}, err
		}
		state, pos, err := grbl.ParseStatus(line, e.cfg.ReportMode())
		if err == nil {
			return state, pos, nil
		}
		log.Printf("no coordinates in status %q (attempt %d)", line, attempt)
	}
	return grbl.StateUnknown, coord.Point{}, &LocationNotFoundError{Status: line}
}
