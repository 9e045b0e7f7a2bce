/*Package autoscale tunes sensor exposure so that the intensity at a reference
wavelength lands within a tolerance of a target before a sweep.

Two loops share one proportional correction law (Correct).  Single works at
one stage position and is fast; Averaging averages readings taken across
the scan range and is stable.  Neither is fatal when it does not converge:
both return ErrNotConverged and leave the decision to the caller.
*/
package autoscale

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/spectrum"
	"github.com/photonlab/scanctl/util"
)

// ErrNotConverged is returned when the iteration budget runs out
var ErrNotConverged = errors.New("autoscaling did not converge")

// Sensor is the part of a spectrometer the autoscaler drives
type Sensor interface {
	Capture() ([]float64, error)
	Drop(n int)
	SetExposure(int) error
	Exposure() int
}

// Correct applies the proportional law: the exposure is scaled by
// target/measured, rounded and clamped to [min, max].  A reading at or below
// zero doubles the exposure.
func Correct(exposure int, measured, target float64, min, max int) int {
	factor := 2.0
	if measured > 0 {
		factor = target / measured
	}
	e := math.Round(float64(exposure) * factor)
	if math.IsInf(e, 0) || e > float64(max) {
		return max
	}
	return util.ClampInt(int(e), min, max)
}

// Result describes one autoscaling run
type Result struct {
	// Exposure is the exposure in force when the loop stopped
	Exposure int

	// Measured is the last intensity read, at Wavelength
	Measured   float64
	Wavelength float64

	// Iterations counts corrections attempted, or rounds for Averaging
	Iterations int

	Converged bool
}

// Autoscaler holds what both loops need
type Autoscaler struct {
	Stage  motion.Sender
	Sensor Sensor
	Proc   *spectrum.Processor

	Params config.Params
	Cfg    config.AutoscaleConfig

	// HomeTimeout is used for homing and the move to position
	HomeTimeout time.Duration

	// Sleep is used for the lamp warm-up
	Sleep func(time.Duration)
}

// New returns an Autoscaler with the real clock
func New(s motion.Sender, sensor Sensor, proc *spectrum.Processor, p config.Params, cfg config.AutoscaleConfig, homeTimeout time.Duration) *Autoscaler {
	return &Autoscaler{
		Stage:       s,
		Sensor:      sensor,
		Proc:        proc,
		Params:      p,
		Cfg:         cfg,
		HomeTimeout: homeTimeout,
		Sleep:       time.Sleep,
	}
}

func (a *Autoscaler) converged(measured float64) bool {
	return math.Abs(measured-a.Params.AutoscaleIntensity) <= a.Params.AutoscaleTolerance
}

// read captures one spectrum and returns the baseline-corrected intensity at
// the autoscaling wavelength
func (a *Autoscaler) read() (float64, float64, error) {
	raw, err := a.Sensor.Capture()
	if err != nil {
		return 0, 0, err
	}
	spec, err := a.Proc.Process(raw)
	if err != nil {
		return 0, 0, err
	}
	v, wl := a.Proc.ExtractAt(spec, a.Params.AutoscaleWavelength)
	return v, wl, nil
}

func (a *Autoscaler) apply(measured float64) error {
	prev := a.Sensor.Exposure()
	next := Correct(prev, measured, a.Params.AutoscaleIntensity, a.Cfg.MinExposure, a.Cfg.MaxExposure)
	log.Printf("autoscale: exposure %d ms -> %d ms (measured %.2f, target %g)", prev, next, measured, a.Params.AutoscaleIntensity)
	return a.Sensor.SetExposure(next)
}

func (a *Autoscaler) toPosition() {
	if o := motion.Home(a.Stage, a.HomeTimeout); o != motion.OK {
		log.Printf("autoscale: %v", o.Err("home"))
	}
	pulses := a.Params.PulsesFor(a.Params.AutoscalePosition)
	if pulses <= 0 {
		return
	}
	timeout := a.HomeTimeout
	if a.Cfg.PositionTimeout > 0 {
		timeout = a.Cfg.PositionTimeout.D()
	}
	if o := motion.Move(a.Stage, pulses, timeout); o != motion.OK {
		log.Printf("autoscale: moving to %g mm: %v", a.Params.AutoscalePosition, o.Err(fmt.Sprintf("MLS%d", pulses)))
	}
}

// Single homes, moves to the autoscaling position, switches the lamp on and
// waits for it to warm up, then corrects the exposure until the intensity
// converges or MaxIterations corrections have been tried.
func (a *Autoscaler) Single(ctx context.Context) (Result, error) {
	log.Printf("autoscale: target %g +/- %g at %g nm", a.Params.AutoscaleIntensity, a.Params.AutoscaleTolerance, a.Params.AutoscaleWavelength)
	a.toPosition()
	if o := motion.Lamp(a.Stage, a.Params.Lamp, true, 0); o != motion.OK {
		log.Printf("autoscale: lamp %d on: %v", a.Params.Lamp, o)
	}
	log.Printf("autoscale: lamp warm-up %v", a.Cfg.LampWarmup.D())
	a.Sleep(a.Cfg.LampWarmup.D())

	res := Result{}
	for i := 0; i < a.Cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			res.Exposure = a.Sensor.Exposure()
			return res, err
		}
		res.Iterations = i + 1
		a.Sensor.Drop(a.Cfg.WarmupReads)
		v, wl, err := a.read()
		if err != nil {
			log.Printf("autoscale: iteration %d/%d: %v", i+1, a.Cfg.MaxIterations, err)
			continue
		}
		res.Measured, res.Wavelength = v, wl
		log.Printf("autoscale: iteration %d/%d: exposure %d ms, intensity %.2f at %.2f nm (target %g)",
			i+1, a.Cfg.MaxIterations, a.Sensor.Exposure(), v, wl, a.Params.AutoscaleIntensity)
		if a.converged(v) {
			res.Converged = true
			res.Exposure = a.Sensor.Exposure()
			log.Printf("autoscale: converged at exposure %d ms", res.Exposure)
			return res, nil
		}
		if err := a.apply(v); err != nil {
			log.Printf("autoscale: setting exposure: %v", err)
		}
	}
	res.Exposure = a.Sensor.Exposure()
	return res, fmt.Errorf("%w after %d iterations (last %.2f, target %g)", ErrNotConverged, res.Iterations, res.Measured, a.Params.AutoscaleIntensity)
}

// Averaging repeats rounds of: home, move to the autoscaling position, then
// AutoscaleRepeats times step one point and read.  The mean reading is
// checked against the tolerance and corrected.  It is a no-op when
// AutoscaleRepeats is zero.  Rounds are bounded by MaxRounds when it is
// positive and by ctx otherwise.
func (a *Autoscaler) Averaging(ctx context.Context) (Result, error) {
	res := Result{Exposure: a.Sensor.Exposure()}
	n := a.Params.AutoscaleRepeats
	if n <= 0 {
		return res, nil
	}
	for round := 1; a.Cfg.MaxRounds <= 0 || round <= a.Cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			res.Exposure = a.Sensor.Exposure()
			return res, err
		}
		res.Iterations = round
		a.toPosition()
		var readings []float64
		for j := 0; j < n; j++ {
			if o := motion.Move(a.Stage, a.Params.PulsesPerPoint, 0); o != motion.OK {
				log.Printf("autoscale: round %d point %d/%d: %v", round, j+1, n, o.Err(fmt.Sprintf("MLS%d", a.Params.PulsesPerPoint)))
			}
			v, wl, err := a.read()
			if err != nil {
				log.Printf("autoscale: round %d point %d/%d: %v", round, j+1, n, err)
				continue
			}
			res.Wavelength = wl
			log.Printf("autoscale: round %d point %d/%d: intensity %.2f", round, j+1, n, v)
			readings = append(readings, v)
		}
		if len(readings) == 0 {
			log.Printf("autoscale: round %d: no reading", round)
			continue
		}
		res.Measured = stat.Mean(readings, nil)
		log.Printf("autoscale: round %d: mean intensity %.2f over %d points", round, res.Measured, len(readings))
		if a.converged(res.Measured) {
			res.Converged = true
			res.Exposure = a.Sensor.Exposure()
			log.Printf("autoscale: averaged autoscaling converged at exposure %d ms", res.Exposure)
			return res, nil
		}
		if err := a.apply(res.Measured); err != nil {
			log.Printf("autoscale: setting exposure: %v", err)
		}
		a.Sensor.Drop(a.Cfg.WarmupReads)
	}
	res.Exposure = a.Sensor.Exposure()
	return res, fmt.Errorf("%w after %d averaged rounds (last %.2f, target %g)", ErrNotConverged, res.Iterations, res.Measured, a.Params.AutoscaleIntensity)
}
