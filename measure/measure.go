/*Package measure drives a complete measurement: it opens the instrument,
optionally autoscales the exposure, runs the configured number of cycles,
and hands every cycle to the run's sinks.

A run always ends with the lamp switched off, whether it completes, fails,
or is cancelled.
*/
package measure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/photonlab/scanctl/autoscale"
	"github.com/photonlab/scanctl/command"
	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/report"
	"github.com/photonlab/scanctl/spectrum"
)

// Summary is the outcome of a run
type Summary struct {
	RunInfo

	// Script is the path of the saved command sequence
	Script string

	// Autoscale is where autoscaling ended, zero when it did not run
	Autoscale autoscale.Result

	Cycles []*cycle.Result

	Start, End time.Time
}

// Acquired sums the points acquired over all cycles
func (s *Summary) Acquired() int {
	n := 0
	for _, c := range s.Cycles {
		n += c.Acquired
	}
	return n
}

// Orchestrator runs measurements on an opened instrument
type Orchestrator struct {
	Cfg  config.Config
	Inst *Instrument
	Proc *spectrum.Processor

	// Operator is asked for an exposure when autoscaling does not converge
	Operator Operator

	// Recorder hands out run folders; nil writes into Params.FilePath
	Recorder *report.Recorder

	Sinks []Sink

	// Sleep is used for waits, settles, and the lamp warm-up
	Sleep func(time.Duration)

	// Now is the clock, replaceable in tests
	Now func() time.Time
}

// New returns an orchestrator for inst.  The canonical spectrum processor is
// built from the sensor's native axis.
func New(cfg config.Config, inst *Instrument) (*Orchestrator, error) {
	p := cfg.Params
	proc, err := spectrum.NewProcessor(inst.Sensor.WavelengthAxis(), cfg.Spectrum,
		spectrum.Band{Start: p.BaselineStart, End: p.BaselineEnd})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Cfg:      cfg,
		Inst:     inst,
		Proc:     proc,
		Operator: FixedExposure(cfg.Autoscale.FallbackExposure),
		Sleep:    time.Sleep,
		Now:      time.Now,
	}, nil
}

func (o *Orchestrator) runDir() (string, error) {
	if o.Recorder == nil || !o.Recorder.Enabled {
		return o.Cfg.Params.FilePath, nil
	}
	return o.Recorder.NewRun()
}

// autoscale runs the single-point controller and then, when repeats are
// configured, the averaging one
func (o *Orchestrator) autoscale(ctx context.Context) (autoscale.Result, error) {
	cfg := o.Cfg
	a := autoscale.New(o.Inst.Stage, o.Inst.Sensor, o.Proc, cfg.Params, cfg.Autoscale, cfg.Stage.ExtendedTimeout.D())
	a.Sleep = o.Sleep
	res, err := o.converge(ctx, a.Single)
	if err != nil || cfg.Params.AutoscaleRepeats <= 0 {
		return res, err
	}
	return o.converge(ctx, a.Averaging)
}

// converge runs one autoscaling loop and asks the operator for the exposure
// when it does not converge
func (o *Orchestrator) converge(ctx context.Context, loop func(context.Context) (autoscale.Result, error)) (autoscale.Result, error) {
	res, err := loop(ctx)
	if !errors.Is(err, autoscale.ErrNotConverged) {
		return res, err
	}
	log.Printf("measure: %v", err)
	e, err := o.Operator.ManualExposure(res)
	if err != nil {
		return res, err
	}
	log.Printf("measure: manual exposure %d ms", e)
	if err := o.Inst.Sensor.SetExposure(e); err != nil {
		return res, fmt.Errorf("setting manual exposure %d: %w", e, err)
	}
	res.Exposure = e
	return res, nil
}

// lampOff switches every lamp channel of the run off
func (o *Orchestrator) lampOff() {
	p := o.Cfg.Params
	if out := motion.Lamp(o.Inst.Stage, p.Lamp, false, 0); out != motion.OK {
		log.Printf("measure: lamp %d off: %v", p.Lamp, out)
		return
	}
	log.Printf("measure: lamp %d off", p.Lamp)
}

func (o *Orchestrator) each(what string, fn func(Sink) error) {
	for _, s := range o.Sinks {
		if err := fn(s); err != nil {
			log.Printf("measure: %s: %T: %v", what, s, err)
		}
	}
}

// Run performs one measurement.  The partial results are returned with the
// error when ctx ends the run or a step fails after initialization.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	cfg := o.Cfg
	p := cfg.Params
	sum := &Summary{Start: o.Now()}
	sum.ID = uuid.NewString()
	sum.Params = p
	sum.Gain = o.Inst.Sensor.Gain()

	dir, err := o.runDir()
	if err != nil {
		return sum, fmt.Errorf("creating the run folder: %w", err)
	}
	sum.Dir = dir

	cmds := command.Generate(p)
	sum.Script, err = command.SaveScript(p.FilePath, sum.Start, cmds)
	if err != nil {
		return sum, fmt.Errorf("saving the command script: %w", err)
	}
	log.Printf("measure: run %s, %d commands per cycle saved to %s", sum.ID, len(cmds), sum.Script)

	started, err := o.measure(ctx, sum, cmds)
	o.lampOff()
	sum.End = o.Now()
	if started {
		o.each("finishing", func(s Sink) error { return s.Finish(sum.RunInfo, err) })
	}
	log.Printf("measure: run %s ended after %v, %d points acquired in %d cycles", sum.ID,
		sum.End.Sub(sum.Start).Round(time.Millisecond), sum.Acquired(), len(sum.Cycles))
	return sum, err
}

// measure autoscales and runs the cycles.  started reports whether the sinks
// were started.
func (o *Orchestrator) measure(ctx context.Context, sum *Summary, cmds []command.Command) (started bool, err error) {
	cfg := o.Cfg
	p := cfg.Params
	if p.Autoscaling {
		res, err := o.autoscale(ctx)
		sum.Autoscale = res
		if err != nil {
			return false, fmt.Errorf("autoscaling: %w", err)
		}
		sum.Autoscaled = true
	}
	sum.Exposure = o.Inst.Sensor.Exposure()
	o.each("starting", func(s Sink) error { return s.Start(sum.RunInfo) })

	exec := cycle.New(o.Inst.Stage, o.Inst.Sensor, o.Proc, cfg)
	exec.Sleep = o.Sleep
	for n := 1; n <= p.Cycles; n++ {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		log.Printf("measure: cycle %d of %d", n, p.Cycles)
		res, err := exec.Run(ctx, n, cmds)
		sum.Cycles = append(sum.Cycles, res)
		o.each(fmt.Sprintf("cycle %d", n), func(s Sink) error { return s.Cycle(sum.RunInfo, res) })
		if err != nil {
			return true, err
		}
	}
	return true, nil
}

// Run opens the instrument, runs one measurement with sinks, and closes the
// instrument again
func Run(ctx context.Context, cfg config.Config, op Operator, sinks ...Sink) (*Summary, error) {
	inst, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	defer inst.Close()
	o, err := New(cfg, inst)
	if err != nil {
		return nil, err
	}
	if op != nil {
		o.Operator = op
	}
	o.Sinks = sinks
	return o.Run(ctx)
}
