package mill

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandalab/grblmill/channel"
	"github.com/pandalab/grblmill/coord"
)

func newTestController(t *testing.T) (*Controller, *channel.Sim) {
	t.Helper()
	store := FileStore{Path: filepath.Join(t.TempDir(), "mill_config.json")}
	require.NoError(t, store.Save(testConfig()))
	sim := channel.NewSim()
	c, err := New(store, sim, &fakeClock{})
	require.NoError(t, err)
	return c, sim
}

// homeAlarmChannel acknowledges everything except the homing cycle,
// which trips an alarm, so the startup sequence fails after the port
// is already open.
type homeAlarmChannel struct {
	open   bool
	closed bool
	next   string
}

func (c *homeAlarmChannel) Open() error { c.open = true; return nil }
func (c *homeAlarmChannel) Close() error {
	c.open = false
	c.closed = true
	return nil
}
func (c *homeAlarmChannel) Flush() error { c.next = ""; return nil }
func (c *homeAlarmChannel) WriteLine(text string) error {
	if strings.TrimSpace(text) == "$H" {
		c.next = "ALARM:8"
	} else {
		c.next = "ok"
	}
	return nil
}
func (c *homeAlarmChannel) ReadLine() (string, error) {
	line := c.next
	c.next = ""
	return line, nil
}

func TestController_FailedStartupClosesPort(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "mill_config.json")}
	require.NoError(t, store.Save(testConfig()))
	ch := &homeAlarmChannel{}
	c, err := New(store, ch, &fakeClock{})
	require.NoError(t, err)

	err = c.Connect()
	var sre *StatusReturnError
	require.ErrorAs(t, err, &sre)
	assert.False(t, c.State().Connected)
	assert.False(t, ch.open)
	assert.True(t, ch.closed)

	// the scoped form surfaces the error without running fn
	ch.closed = false
	called := false
	err = c.Run(func(*Controller) error { called = true; return nil })
	require.ErrorAs(t, err, &sre)
	assert.False(t, called)
	assert.True(t, ch.closed)
}

func TestController_SafeMoveReturnsActualPosition(t *testing.T) {
	c, sim := newTestController(t)

	err := c.Run(func(c *Controller) error {
		got, err := c.SafeMove(coord.Point{X: -100, Y: -50, Z: -60}, Pipette)
		require.NoError(t, err)
		// logical position read back from the device
		assert.Equal(t, coord.Point{X: -100, Y: -50, Z: -60}, got)
		// the head itself sits at the offset-adjusted machine target
		assert.Equal(t, coord.Point{X: -188, Y: -50, Z: -60}, sim.Position())
		return nil
	})
	require.NoError(t, err)
}

func TestController_RunParksElectrode(t *testing.T) {
	c, sim := newTestController(t)

	require.NoError(t, c.Run(func(c *Controller) error {
		_, err := c.SafeMove(coord.Point{X: -100, Y: -50, Z: -60}, Pipette)
		return err
	}))

	// electrode parked in the bath: bath + electrode offset
	assert.Equal(t, coord.Point{X: -195, Y: -103, Z: -70}, sim.Position())
	// channel released
	assert.Error(t, sim.WriteLine("?"))
}

func TestController_RunParksOnErrorPath(t *testing.T) {
	c, sim := newTestController(t)
	boom := errors.New("experiment failed")

	err := c.Run(func(c *Controller) error {
		_, merr := c.SafeMove(coord.Point{X: -100, Y: -50, Z: -60}, Pipette)
		require.NoError(t, merr)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, coord.Point{X: -195, Y: -103, Z: -70}, sim.Position())
}

func TestController_OutOfRangeWritesNothing(t *testing.T) {
	c, sim := newTestController(t)

	err := c.Run(func(c *Controller) error {
		before := len(sim.History())
		_, err := c.SafeMove(coord.Point{X: -250, Y: -50, Z: -60}, Pipette)
		var oor *OutOfRangeError
		require.ErrorAs(t, err, &oor)
		// only status queries may have hit the wire, never a move
		for _, cmd := range sim.History()[before:] {
			assert.Equal(t, "?", cmd)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestController_MotionRequiresHoming(t *testing.T) {
	c, sim := newTestController(t)

	// machine stuck in Run: homing polls until the timeout, which is
	// non-fatal, and the homed flag stays down
	sim.SetState("Run")
	require.NoError(t, c.Connect())
	assert.False(t, c.State().Homed)

	_, err := c.SafeMove(coord.Point{X: -10}, Center)
	assert.ErrorIs(t, err, ErrNotHomed)

	_, err = c.Execute("G01 X-10")
	assert.ErrorIs(t, err, ErrNotHomed)

	// control commands stay available for recovery
	_, err = c.Execute("$G")
	assert.NoError(t, err)
}

func TestController_UpdateOffsetPersists(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "mill_config.json")}
	require.NoError(t, store.Save(testConfig()))
	sim := channel.NewSim()
	c, err := New(store, sim, &fakeClock{})
	require.NoError(t, err)

	require.NoError(t, c.UpdateOffset(Pipette, coord.Point{X: -1, Z: 0.5}))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: -89, Z: 0.5}, saved.Offsets[Pipette])
	// the live config was reloaded from the store
	assert.Equal(t, coord.Point{X: -89, Z: 0.5}, c.Config().Offset(Pipette))
}

func TestController_UpdateOffsetRejectsFixedTools(t *testing.T) {
	c, _ := newTestController(t)

	assert.Error(t, c.UpdateOffset(Center, coord.Point{X: 1}))
	assert.Error(t, c.UpdateOffset(Lens, coord.Point{X: 1}))
}

func TestController_RinseElectrode(t *testing.T) {
	c, sim := newTestController(t)

	err := c.Run(func(c *Controller) error {
		require.NoError(t, c.RinseElectrode(2))
		// finishes raised at the bath XY
		assert.Equal(t, coord.Point{X: -195, Y: -103, Z: 0}, sim.Position())

		var dips int
		for _, cmd := range sim.History() {
			if cmd == "G01 Z-70" {
				dips++
			}
		}
		assert.Equal(t, 2, dips)
		return nil
	})
	require.NoError(t, err)
}

func TestController_UpdateSetting(t *testing.T) {
	c, sim := newTestController(t)

	err := c.Run(func(c *Controller) error {
		require.NoError(t, c.UpdateSetting("$10", "2"))
		assert.Contains(t, sim.History(), "$10=2")
		// reloaded config now expects WPos reports, which the sim honors
		_, err := c.CurrentCoordinates(Center)
		return err
	})
	require.NoError(t, err)

	saved, err := c.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2", saved.Settings["$10"])
}

func TestController_SettingsDump(t *testing.T) {
	c, _ := newTestController(t)

	err := c.Run(func(c *Controller) error {
		settings, err := c.Settings()
		require.NoError(t, err)
		assert.Equal(t, "1", settings["$10"])
		return nil
	})
	require.NoError(t, err)
}

func TestController_UnlockClearsHomed(t *testing.T) {
	c, _ := newTestController(t)

	err := c.Run(func(c *Controller) error {
		require.True(t, c.State().Homed)
		require.NoError(t, c.Unlock())
		assert.False(t, c.State().Homed)

		// re-home restores motion
		require.NoError(t, c.Home())
		assert.True(t, c.State().Homed)
		return nil
	})
	require.NoError(t, err)
}

func TestController_AlarmCarriesRawText(t *testing.T) {
	c, sim := newTestController(t)

	err := c.Run(func(c *Controller) error {
		sim.InjectFault("ALARM:1")
		_, err := c.Execute("G01 X-10")
		var sre *StatusReturnError
		require.ErrorAs(t, err, &sre)
		assert.True(t, strings.Contains(sre.Status, "ALARM"))
		return nil
	})
	require.NoError(t, err)
}
