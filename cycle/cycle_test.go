package cycle_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/spectrum"
	"github.com/photonlab/scanctl/stage"
)

type sent struct {
	cmd     string
	timeout time.Duration
}

type recorder struct {
	sent []sent
	fail map[string]bool
}

func (r *recorder) Send(cmd string, timeout time.Duration) motion.Outcome {
	r.sent = append(r.sent, sent{cmd, timeout})
	if r.fail[cmd] {
		return motion.NACK
	}
	return motion.OK
}

func (r *recorder) cmds() []string {
	out := make([]string, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.cmd
	}
	return out
}

// acquirer returns a flat spectrum whose level is the read number
type acquirer struct {
	drops, reads int
	fail         map[int]bool
	averages     []int
}

func (a *acquirer) Drop(n int) { a.drops += n }

func (a *acquirer) CaptureAverage(n int) ([]float64, error) {
	a.reads++
	a.averages = append(a.averages, n)
	if a.fail[a.reads] {
		return nil, errors.New("no frame")
	}
	out := make([]float64, 11)
	for i := range out {
		out[i] = float64(100 * a.reads)
	}
	return out, nil
}

func processor(t *testing.T) *spectrum.Processor {
	t.Helper()
	native := make([]float64, 11)
	for i := range native {
		native[i] = 800 + 10*float64(i)
	}
	p, err := spectrum.NewProcessor(native, config.AxisConfig{Start: 800, Stop: 1000, Step: 10}, spectrum.Band{Start: 950, End: 1000})
	require.NoError(t, err)
	return p
}

type fixture struct {
	exec  *cycle.Executor
	acq   *acquirer
	slept []time.Duration
}

func newFixture(t *testing.T, s motion.Sender, points int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Params.PointsPerCycle = points
	cfg.Params.SamplingWavelength = 850
	cfg.Params.Average = 3
	cfg.Params.Drop = 2
	f := &fixture{acq: &acquirer{}}
	f.exec = cycle.New(s, f.acq, processor(t), cfg)
	f.exec.Sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func TestSettleEnabled(t *testing.T) {
	assert.True(t, cycle.SettleEnabled(config.SettleAuto, true))
	assert.False(t, cycle.SettleEnabled(config.SettleAuto, false))
	assert.True(t, cycle.SettleEnabled(config.SettleAlways, false))
	assert.False(t, cycle.SettleEnabled(config.SettleNever, true))
}

func TestWaitSleepsWithoutIO(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec, 1)
	res, err := f.exec.Run(context.Background(), 1, []command.Command{command.WAIT(3), command.WAIT(0)})
	require.NoError(t, err)
	assert.Empty(t, rec.sent)
	assert.Zero(t, f.acq.reads+f.acq.drops)
	assert.Equal(t, []time.Duration{3 * time.Second, 0}, f.slept)
	assert.Zero(t, res.Acquired)
	assert.True(t, math.IsNaN(res.Intensity[0]), "unreached points stay unset")
}

func TestThreePointSweep(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec, 3)
	p := f.exec.Params
	p.Cycles = 1
	p.Offset = 0
	p.Autoscaling = false
	p.Lamp = config.LampFirst
	cmds := command.Generate(p)

	res, err := f.exec.Run(context.Background(), 1, cmds)
	require.NoError(t, err)

	mls := command.MLS(p.PulsesPerPoint).Text
	assert.Equal(t, []string{
		"$SMPD10#", "$ORI#", "$SLD0,1#",
		mls, mls, mls,
		"$ORI#", command.LoopbackToken,
	}, rec.cmds())

	r, c := res.Spectra.Dims()
	assert.Equal(t, [2]int{21, 3}, [2]int{r, c})
	assert.Equal(t, []float64{100, 200, 300}, res.Intensity)
	assert.Equal(t, 850., res.Wavelength)
	assert.Equal(t, 3, res.Acquired)
	assert.Equal(t, 6, f.acq.drops)
	assert.Equal(t, []int{3, 3, 3}, f.acq.averages)
}

func TestTimeouts(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec, 1)
	cmds := []command.Command{command.ORI(), command.MLS(21), command.MLS(20), command.SLD(1, true), command.UARTLOOP()}
	_, err := f.exec.Run(context.Background(), 1, cmds)
	require.NoError(t, err)
	ext := config.Default().Stage.ExtendedTimeout.D()
	want := []sent{
		{"$ORI#", ext},
		{"$MLS21#", ext},
		{"$MLS20#", 0},
		{"$SLD1,1#", 0},
		{command.LoopbackToken, 0},
	}
	assert.Equal(t, want, rec.sent)
}

func TestExcessAcquisitionsDropped(t *testing.T) {
	f := newFixture(t, &recorder{}, 2)
	cmds := []command.Command{command.SRD(), command.SRD(), command.SRD(), command.SRD()}
	res, err := f.exec.Run(context.Background(), 1, cmds)
	require.NoError(t, err)
	assert.Equal(t, 2, f.acq.reads)
	assert.Len(t, res.Raw, 2)
	_, c := res.Spectra.Dims()
	assert.Equal(t, 2, c)
}

func TestFailedAcquisitionLeavesPointUnset(t *testing.T) {
	f := newFixture(t, &recorder{}, 3)
	f.acq.fail = map[int]bool{2: true}
	res, err := f.exec.Run(context.Background(), 1, []command.Command{command.SRD(), command.SRD(), command.SRD()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Acquired)
	assert.Nil(t, res.Raw[1])
	assert.Equal(t, 100., res.Intensity[0])
	assert.True(t, math.IsNaN(res.Intensity[1]))
	assert.Equal(t, 300., res.Intensity[2])
}

func TestCommandFailuresContinue(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"$MLS50#": true}}
	f := newFixture(t, rec, 2)
	cmds := []command.Command{command.MLS(50), command.SRD(), command.MLS(50), command.SRD()}
	res, err := f.exec.Run(context.Background(), 1, cmds)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failures)
	assert.Equal(t, 2, res.Acquired)
}

func TestSettleAroundAcquisition(t *testing.T) {
	f := newFixture(t, &recorder{}, 1)
	f.exec.SettleOn = true
	f.exec.Settle = 200 * time.Millisecond
	_, err := f.exec.Run(context.Background(), 1, []command.Command{command.SRD()})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, f.slept)
}

func TestCancelledBetweenCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := motion.SenderFunc(func(cmd string, timeout time.Duration) motion.Outcome {
		cancel()
		return motion.OK
	})
	f := newFixture(t, rec, 2)
	res, err := f.exec.Run(ctx, 1, []command.Command{command.ORI(), command.SRD(), command.SRD()})
	assert.Equal(t, context.Canceled, err)
	require.NotNil(t, res)
	assert.Zero(t, f.acq.reads)
	_, c := res.Spectra.Dims()
	assert.Equal(t, 2, c)
}

func TestSweepOverSimulatedController(t *testing.T) {
	ctrl, port, err := stage.NewSimulated(stage.OptionsFromConfig(config.Default().Stage))
	require.NoError(t, err)
	defer ctrl.Close()
	f := newFixture(t, ctrl, 3)
	p := f.exec.Params
	p.PulsesPerPoint = 4
	cmds := command.Generate(p)

	res, err := f.exec.Run(context.Background(), 1, cmds)
	require.NoError(t, err)
	assert.Zero(t, res.Failures)
	assert.Equal(t, 3, res.Acquired)
	assert.Equal(t, []string{"$SMPD10#", "$ORI#", "$SLD0,1#", "$ORI#", command.LoopbackToken}, port.Written(),
		"short steps are acquire-only")
}
