package measure

import (
	"context"
	"errors"

	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/report"
	"github.com/photonlab/scanctl/store"
)

// RunInfo describes a run to its sinks
type RunInfo struct {
	ID     string
	Dir    string
	Params config.Params

	// Exposure is the exposure the cycles run with, after autoscaling
	Exposure   int
	Gain       int
	Autoscaled bool
}

// Sink consumes the results of a run as they are produced.  A sink error is
// logged and does not stop the run.
type Sink interface {
	Start(info RunInfo) error
	Cycle(info RunInfo, res *cycle.Result) error

	// Finish is called once, after the lamp is off; err is the run's error
	Finish(info RunInfo, err error) error
}

// Reports writes the per-cycle files of report.Writer into the run folder
type Reports struct {
	Opts config.OutputConfig

	w *report.Writer
}

// Start prepares a writer for info.Dir
func (r *Reports) Start(info RunInfo) error {
	r.w = report.NewWriter(info.Dir, info.Params, r.Opts)
	return nil
}

// Cycle writes the files of one cycle
func (r *Reports) Cycle(info RunInfo, res *cycle.Result) error {
	return r.w.WriteCycle(res, info.Exposure, info.Gain)
}

// Finish writes config.csv, with the exposure autoscaling settled on
func (r *Reports) Finish(info RunInfo, _ error) error {
	var extra yml.MapSlice
	if info.Autoscaled {
		extra = yml.MapSlice{{Key: "exp_after_autoscaling", Value: info.Exposure}}
	}
	return r.w.WriteParams(extra)
}

// Writer returns the writer of the current run, nil before Start
func (r *Reports) Writer() *report.Writer {
	return r.w
}

// Archive indexes the run in a store
type Archive struct {
	Store *store.Store
}

// Start inserts the run
func (a Archive) Start(info RunInfo) error {
	_, err := a.Store.BeginRun(store.Run{
		ID:         info.ID,
		Params:     info.Params,
		Exposure:   info.Exposure,
		Gain:       info.Gain,
		Autoscaled: info.Autoscaled,
		Dir:        info.Dir,
	})
	return err
}

// Cycle stores the intensities of one cycle
func (a Archive) Cycle(info RunInfo, res *cycle.Result) error {
	return a.Store.RecordCycle(info.ID, info.Params, res)
}

// Finish records how the run ended
func (a Archive) Finish(info RunInfo, err error) error {
	status := store.StatusDone
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = store.StatusCancelled
	case err != nil:
		status = store.StatusFailed
	}
	return a.Store.FinishRun(info.ID, status)
}
