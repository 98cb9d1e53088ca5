// Package mill is the motion-control layer for the lab gantry: it
// turns "move tool X to (x,y,z)" requests into a safety-checked
// sequence of Grbl commands and owns the single serial session.
package mill

import (
	"errors"
	"fmt"
	"log"

	"github.com/pandalab/grblmill/channel"
	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/grbl"
)

// State holds the session flags owned exclusively by the controller.
type State struct {
	Connected bool
	Homed     bool

	// homedEver stays set for the life of the session so disconnect
	// knows whether the electrode could have left its bath.
	homedEver bool
}

// Controller is the facade the scheduler and liquid handler talk to.
// It owns the configuration, the channel, and the session state; all
// calls are synchronous and callers serialize access.
type Controller struct {
	store ConfigStore
	ch    channel.Channel
	clock Clock

	cfg       *Config
	transform *Transformer
	planner   *Planner
	exec      *Executor
	homing    *Homing

	state State
}

// New loads the persisted configuration and assembles the controller.
// A nil clock selects the system clock.
func New(store ConfigStore, ch channel.Channel, clock Clock) (*Controller, error) {
	if clock == nil {
		clock = SystemClock()
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	c := &Controller{store: store, ch: ch, clock: clock, cfg: cfg}
	c.rewire()
	return c, nil
}

func (c *Controller) rewire() {
	c.transform = NewTransformer(c.cfg)
	c.planner = NewPlanner(c.cfg)
	c.exec = NewExecutor(c.ch, c.cfg, c.clock)
	c.homing = NewHoming(c.exec, c.clock)
}

// Config returns the live configuration.
func (c *Controller) Config() *Config { return c.cfg }

// State returns the current session flags.
func (c *Controller) State() State { return c.state }

// Connect opens the channel and runs the startup sequence: home, set
// the default feed rate, clear the buffers. The homed flag is cleared
// first on every (re)connect.
func (c *Controller) Connect() error {
	if err := c.ch.Open(); err != nil {
		return err
	}
	c.state.Connected = true
	c.state.Homed = false
	if err := c.homingSequence(); err != nil {
		c.state.Connected = false
		return errors.Join(err, c.ch.Close())
	}
	return nil
}

func (c *Controller) homingSequence() error {
	if err := c.Home(); err != nil {
		return err
	}
	if err := c.SetFeedRate(c.cfg.DefaultFeedRate); err != nil {
		return err
	}
	return c.ch.Flush()
}

// Disconnect parks the electrode when a homed session may have moved
// it, then closes the port. A failure to park never masks a failure to
// close, and vice versa.
func (c *Controller) Disconnect() error {
	var park error
	if c.state.homedEver && c.state.Connected {
		if park = c.RestElectrode(); park != nil {
			log.Printf("ERROR: park electrode on disconnect: %v", park)
		}
	}
	c.state.Connected = false
	c.state.Homed = false
	return errors.Join(park, c.ch.Close())
}

// Run is the scoped form: connect and home, run fn, then park and
// disconnect on every exit path.
func (c *Controller) Run(fn func(*Controller) error) (err error) {
	if err := c.Connect(); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Disconnect())
	}()
	return fn(c)
}

// Home runs the homing cycle. A timeout is not fatal; the homed flag
// simply stays false and motion stays locked out.
func (c *Controller) Home() error {
	homed, err := c.homing.Home()
	if err != nil {
		return err
	}
	if homed {
		c.state.Homed = true
		c.state.homedEver = true
	}
	return nil
}

// Execute runs one raw command. Motion commands require a homed
// machine; control and query commands do not.
func (c *Controller) Execute(cmd string) (string, error) {
	if !c.state.Homed && !grbl.IsControl(cmd) {
		return "", &CommandExecutionError{Command: cmd, Err: ErrNotHomed}
	}
	return c.exec.Execute(cmd)
}

// MachineStatus reads the device state and machine-space position.
func (c *Controller) MachineStatus() (grbl.MachineState, coord.Point, error) {
	return c.exec.Position()
}

// CurrentCoordinates returns the instrument's logical position read
// back from the device.
func (c *Controller) CurrentCoordinates(i Instrument) (coord.Point, error) {
	if !i.Valid() {
		return coord.Point{}, fmt.Errorf("unknown instrument %q", i)
	}
	_, pos, err := c.exec.Position()
	if err != nil {
		return coord.Point{}, err
	}
	return c.transform.ToLogical(pos, i), nil
}

// MoveOption adjusts a single SafeMove.
type MoveOption func(*moveOptions)

type moveOptions struct {
	plunge *Plunge
}

// WithPlunge appends a slow final Z insertion at the given feed rate;
// the default rate is restored afterwards.
func WithPlunge(z float64, feed int) MoveOption {
	return func(o *moveOptions) { o.plunge = &Plunge{Z: z, Feed: feed} }
}

// SafeMove moves the instrument to the logical target using only
// axis-aligned commands, retracting first if a lowered tool would
// otherwise drag across the deck. It returns the actual position the
// device reports afterwards, never the assumption.
func (c *Controller) SafeMove(target coord.Point, i Instrument, opts ...MoveOption) (coord.Point, error) {
	if !i.Valid() {
		return coord.Point{}, fmt.Errorf("unknown instrument %q", i)
	}
	if !c.state.Homed {
		return coord.Point{}, &CommandExecutionError{Command: "safe move", Err: ErrNotHomed}
	}
	var o moveOptions
	for _, opt := range opts {
		opt(&o)
	}
	_, cur, err := c.exec.Position()
	if err != nil {
		return coord.Point{}, err
	}
	plan, err := c.planner.Plan(PlanRequest{
		Current:    cur,
		Target:     target,
		Instrument: i,
		Plunge:     o.plunge,
	})
	if err != nil {
		return coord.Point{}, err
	}
	if plan.Retracted {
		log.Printf("retracting to Z0 before XY travel (was Z%g)", cur.Z)
	}
	for _, cmd := range plan.Commands {
		if _, err := c.exec.Execute(cmd); err != nil {
			return coord.Point{}, err
		}
	}
	return c.CurrentCoordinates(i)
}

// MoveToSafeHeight raises the head to Z0 at the current XY.
func (c *Controller) MoveToSafeHeight() error {
	if !c.state.Homed {
		return &CommandExecutionError{Command: grbl.MoveZ(0), Err: ErrNotHomed}
	}
	_, err := c.exec.Execute(grbl.MoveZ(0))
	return err
}

// SetFeedRate sets the feed rate used by subsequent G01 moves.
func (c *Controller) SetFeedRate(rate int) error {
	_, err := c.exec.Execute(grbl.FeedRate(rate))
	return err
}

// RinseElectrode dips the electrode into the bath the given number of
// times, finishing raised at the bath's XY.
func (c *Controller) RinseElectrode(rinses int) error {
	bath := c.cfg.ElectrodeBath
	surface := coord.Point{X: bath.X, Y: bath.Y}
	if _, err := c.SafeMove(surface, Electrode); err != nil {
		return err
	}
	for n := 0; n < rinses; n++ {
		if _, err := c.SafeMove(bath, Electrode); err != nil {
			return err
		}
		if _, err := c.SafeMove(surface, Electrode); err != nil {
			return err
		}
	}
	return nil
}

// RestElectrode parks the electrode in its bath.
func (c *Controller) RestElectrode() error {
	if err := c.MoveToSafeHeight(); err != nil {
		return err
	}
	_, err := c.SafeMove(c.cfg.ElectrodeBath, Electrode)
	return err
}

// UpdateOffset nudges an instrument offset by the given deltas and
// persists immediately, then reloads so every component sees the same
// configuration.
func (c *Controller) UpdateOffset(i Instrument, delta coord.Point) error {
	if !i.HasOffset() {
		return fmt.Errorf("instrument %q has no adjustable offset", i)
	}
	c.cfg.Offsets[i] = c.cfg.Offsets[i].Add(delta)
	log.Printf("offset for %s now %s", i, c.cfg.Offsets[i])
	if err := c.store.Save(c.cfg); err != nil {
		return err
	}
	return c.reloadConfig()
}

// UpdateSetting pushes a $-setting to the device and persists it once
// the device confirms.
func (c *Controller) UpdateSetting(key, value string) error {
	if len(key) < 2 || key[0] != '$' {
		return fmt.Errorf("invalid settings key %q", key)
	}
	if _, err := c.exec.Execute(grbl.ChangeSetting(key, value)); err != nil {
		return err
	}
	c.cfg.Settings[key] = value
	if err := c.store.Save(c.cfg); err != nil {
		return err
	}
	return c.reloadConfig()
}

func (c *Controller) reloadConfig() error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.rewire()
	return nil
}

// Settings dumps and parses the device's `$$` settings.
func (c *Controller) Settings() (map[string]string, error) {
	return c.exec.Settings()
}

// Unlock clears an alarm lock ($X). Position may be lost; the homed
// flag is cleared so callers re-home before moving.
func (c *Controller) Unlock() error {
	_, err := c.exec.Execute(grbl.CmdUnlock)
	c.state.Homed = false
	return err
}

// SoftReset halts the device immediately (ctrl-X) and clears the homed
// flag.
func (c *Controller) SoftReset() error {
	_, err := c.exec.Execute(grbl.CmdSoftReset)
	c.state.Homed = false
	return err
}

// Parameters returns the device's `$#` offsets report line.
func (c *Controller) Parameters() (string, error) {
	return c.exec.Execute(grbl.CmdParameters)
}

// ParserState returns the device's `$G` parser state line.
func (c *Controller) ParserState() (string, error) {
	return c.exec.Execute(grbl.CmdParserState)
}

// ToggleCheckMode toggles the device's `$C` dry-run mode.
func (c *Controller) ToggleCheckMode() error {
	_, err := c.exec.Execute(grbl.CmdCheckMode)
	return err
}
