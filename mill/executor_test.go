package mill

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandalab/grblmill/channel"
	"github.com/pandalab/grblmill/coord"
	"github.com/pandalab/grblmill/grbl"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newTestExecutor(t *testing.T) (*Executor, *channel.Sim) {
	t.Helper()
	sim := channel.NewSim()
	require.NoError(t, sim.Open())
	return NewExecutor(sim, testConfig(), &fakeClock{}), sim
}

func TestExecutor_ControlCommand(t *testing.T) {
	exec, _ := newTestExecutor(t)

	resp, err := exec.Execute(grbl.CmdParserState)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp, "[GC:"), resp)
}

func TestExecutor_MotionWaitsForIdle(t *testing.T) {
	exec, sim := newTestExecutor(t)
	_, err := exec.Execute("F2000")
	require.NoError(t, err)

	resp, err := exec.Execute("G01 X-10")
	require.NoError(t, err)
	assert.Contains(t, resp, "Idle")
	assert.Equal(t, coord.Point{X: -10}, sim.Position())
}

func TestExecutor_FeedRateRecovery(t *testing.T) {
	exec, sim := newTestExecutor(t)

	// no F command has run, so the first G01 fails with error 22; the
	// executor sets the default rate and resubmits once
	resp, err := exec.Execute("G01 X-10")
	require.NoError(t, err)
	assert.Contains(t, resp, "Idle")
	assert.Equal(t, coord.Point{X: -10}, sim.Position())

	history := sim.History()
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, []string{"G01 X-10", "F2000", "G01 X-10"}, history[:3])
}

func TestExecutor_FeedRateRecoveryOnlyOnce(t *testing.T) {
	exec, sim := newTestExecutor(t)
	_, err := exec.Execute("F2000")
	require.NoError(t, err)

	sim.InjectFault("error:22", "error:22")

	_, err = exec.Execute("G01 X-10")
	var sre *StatusReturnError
	require.ErrorAs(t, err, &sre)
	assert.Equal(t, "error:22", sre.Status)
}

func TestExecutor_AlarmPropagates(t *testing.T) {
	exec, sim := newTestExecutor(t)
	_, err := exec.Execute("F2000")
	require.NoError(t, err)

	sim.InjectFault("ALARM:2")

	_, err = exec.Execute("G01 X-10")
	var sre *StatusReturnError
	require.ErrorAs(t, err, &sre)
	assert.Equal(t, "ALARM:2", sre.Status)
	// the alarm was not retried
	assert.Equal(t, []string{"F2000", "G01 X-10"}, sim.History())
}

func TestExecutor_Settings(t *testing.T) {
	exec, _ := newTestExecutor(t)

	settings, err := exec.Settings()
	require.NoError(t, err)
	assert.Equal(t, "1", settings["$10"])
	assert.Equal(t, "1.000", settings["$27"])
	assert.NotContains(t, settings, "ok")
}

// silentChannel accepts writes but never produces a line.
type silentChannel struct{}

func (silentChannel) Open() error               { return nil }
func (silentChannel) Close() error              { return nil }
func (silentChannel) Flush() error              { return nil }
func (silentChannel) WriteLine(string) error    { return nil }
func (silentChannel) ReadLine() (string, error) { return "", nil }

func TestExecutor_StatusTimeout(t *testing.T) {
	exec := NewExecutor(silentChannel{}, testConfig(), &fakeClock{})

	_, err := exec.Status()
	var ste *StatusTimeoutError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, defaultStatusRetries, ste.Attempts)
}

// staticChannel answers every read with the same line.
type staticChannel struct{ line string }

func (staticChannel) Open() error                 { return nil }
func (staticChannel) Close() error                { return nil }
func (staticChannel) Flush() error                { return nil }
func (staticChannel) WriteLine(string) error      { return nil }
func (s staticChannel) ReadLine() (string, error) { return s.line, nil }

func TestExecutor_LocationNotFound(t *testing.T) {
	exec := NewExecutor(staticChannel{line: "<Idle|Bf:15,127|FS:0,0>"}, testConfig(), &fakeClock{})

	_, _, err := exec.Position()
	var lnf *LocationNotFoundError
	require.ErrorAs(t, err, &lnf)
	assert.Equal(t, "<Idle|Bf:15,127|FS:0,0>", lnf.Status)
}

func TestExecutor_WaitForCompletionTimeout(t *testing.T) {
	sim := channel.NewSim()
	require.NoError(t, sim.Open())
	clock := &fakeClock{}
	exec := NewExecutor(sim, testConfig(), clock)
	_, err := exec.Execute("F2000")
	require.NoError(t, err)

	// the machine never leaves Run; the wait degrades to returning the
	// last observed status instead of hanging or raising
	sim.SetState("Run")
	resp, err := exec.Execute("G01 X-10")
	require.NoError(t, err)
	assert.Contains(t, resp, "Run")
}
