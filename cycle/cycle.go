/*Package cycle replays a generated command sequence once per measurement
cycle.

Waits sleep without touching a device, acquisitions read the spectrometer
into the next free point, and everything else goes to the controller:
homing and large moves with the extended timeout, the rest with the channel
default.  Commands run strictly in order; cancellation is honoured between
commands only.
*/
package cycle

import (
	"context"
	"log"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/spectrum"
)

// Acquirer is the part of a spectrometer a cycle reads from
type Acquirer interface {
	Drop(n int)
	CaptureAverage(n int) ([]float64, error)
}

// SettleEnabled resolves a settle policy.  The fixed delays around an
// acquisition only stand in for completion signals the controller does not
// send in fire-and-forget mode.
func SettleEnabled(policy string, fastMode bool) bool {
	switch policy {
	case config.SettleAlways:
		return true
	case config.SettleNever:
		return false
	default:
		return fastMode
	}
}

// Result is the data of one cycle
type Result struct {
	// Cycle is 1-based
	Cycle int

	// Raw holds one native spectrum per point; unset points are nil
	Raw [][]float64

	// Axis is the canonical wavelength axis, the rows of Spectra
	Axis []float64

	// Spectra is len(Axis) x points, NaN in unset columns
	Spectra *mat.Dense

	// Intensity is the row of Spectra at Wavelength
	Intensity  []float64
	Wavelength float64

	// Acquired counts the points that were read successfully
	Acquired int

	// Failures counts controller commands that did not succeed
	Failures int

	Start, End time.Time
}

// Executor runs cycles
type Executor struct {
	Stage  motion.Sender
	Sensor Acquirer
	Proc   *spectrum.Processor
	Params config.Params

	// ExtendedTimeout is used for homing and moves above LargeMove pulses
	ExtendedTimeout time.Duration
	LargeMove       int

	// Settle is applied before and after each acquisition when SettleOn
	Settle   time.Duration
	SettleOn bool

	// Sleep is used for waits and settles
	Sleep func(time.Duration)
}

// New returns an executor configured from the instrument configuration
func New(s motion.Sender, a Acquirer, proc *spectrum.Processor, cfg config.Config) *Executor {
	return &Executor{
		Stage:           s,
		Sensor:          a,
		Proc:            proc,
		Params:          cfg.Params,
		ExtendedTimeout: cfg.Stage.ExtendedTimeout.D(),
		LargeMove:       cfg.Stage.LargeMove,
		Settle:          cfg.Acquisition.Settle.D(),
		SettleOn:        SettleEnabled(cfg.Acquisition.SettlePolicy, cfg.Stage.FastMode),
		Sleep:           time.Sleep,
	}
}

func (e *Executor) settle() {
	if e.SettleOn && e.Settle > 0 {
		e.Sleep(e.Settle)
	}
}

// Run executes cmds as cycle number n.  The result is processed even when
// ctx ends the cycle early, in which case ctx's error is returned with it.
func (e *Executor) Run(ctx context.Context, n int, cmds []command.Command) (*Result, error) {
	points := e.Params.PointsPerCycle
	res := &Result{Cycle: n, Raw: make([][]float64, points), Start: time.Now()}
	next := 0
	var err error
	log.Printf("cycle %d: %d commands, %d points", n, len(cmds), points)
	for i, c := range cmds {
		if err = ctx.Err(); err != nil {
			log.Printf("cycle %d: stopped before command %d (%s): %v", n, i+1, c, err)
			break
		}
		switch c.Kind {
		case command.Wait:
			log.Printf("cycle %d: %s: waiting %d s", n, c, c.N)
			e.Sleep(time.Duration(c.N) * time.Second)
		case command.Acquire:
			if next >= points {
				log.Printf("cycle %d: %s: all %d points taken, acquisition dropped", n, c, points)
				continue
			}
			spec := e.acquire(n, next)
			if spec != nil {
				res.Raw[next] = spec
				res.Acquired++
			}
			next++
		default:
			var timeout time.Duration
			if c.Long(e.LargeMove) {
				timeout = e.ExtendedTimeout
			}
			if o := e.Stage.Send(c.Text, timeout); o != motion.OK {
				res.Failures++
				log.Printf("cycle %d: %v", n, o.Err(c.Text))
			}
		}
	}
	if next < points {
		log.Printf("cycle %d: only %d of %d points were reached", n, next, points)
	}
	res.Axis = e.Proc.Axis()
	res.Spectra, res.Intensity, res.Wavelength = e.Proc.ProcessMatrix(res.Raw, e.Params.SamplingWavelength)
	res.End = time.Now()
	log.Printf("cycle %d: %d of %d points acquired, %d command failures, %v", n, res.Acquired, points, res.Failures, res.End.Sub(res.Start).Round(time.Millisecond))
	return res, err
}

func (e *Executor) acquire(cycle, point int) []float64 {
	e.settle()
	e.Sensor.Drop(e.Params.Drop)
	spec, err := e.Sensor.CaptureAverage(e.Params.Average)
	e.settle()
	if err != nil {
		log.Printf("cycle %d: point %d left unset: %v", cycle, point+1, err)
		return nil
	}
	return spec
}
