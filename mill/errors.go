package mill

import (
	"errors"
	"fmt"
)

// ErrNotHomed is returned for motion requests made before a successful
// homing cycle. Homing is never triggered implicitly; moving an
// unhomed gantry with a loaded pipette is the caller's call to make.
var ErrNotHomed = errors.New("mill is not homed")

// ConfigNotFoundError means no persisted configuration exists.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return "mill config not found: " + e.Path
}

// ConfigError means the persisted configuration could not be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mill config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StatusReturnError carries a device error or alarm line that was not
// recovered. The raw text is preserved for the operator.
type StatusReturnError struct {
	Status string
}

func (e *StatusReturnError) Error() string {
	return "error in status: " + e.Status
}

// CommandExecutionError wraps an unexpected failure while running one
// command; it always names the offending command.
type CommandExecutionError struct {
	Command string
	Err     error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("execute %q: %v", e.Command, e.Err)
}

func (e *CommandExecutionError) Unwrap() error { return e.Err }

// LocationNotFoundError means status reports kept arriving without a
// parsable position triple.
type LocationNotFoundError struct {
	Status string
}

func (e *LocationNotFoundError) Error() string {
	return "no position in status: " + e.Status
}

// OutOfRangeError is raised before anything touches the wire when a
// planned machine-space target leaves the working volume.
type OutOfRangeError struct {
	Axis  string
	Value float64
	Bound float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s coordinate %g outside working volume [%g, 0]", e.Axis, e.Value, e.Bound)
}

// StatusTimeoutError means the bounded status-read retries ran out
// without the device producing a line.
type StatusTimeoutError struct {
	Attempts int
}

func (e *StatusTimeoutError) Error() string {
	return fmt.Sprintf("no status after %d attempts", e.Attempts)
}
