package measure

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/photonlab/scanctl/autoscale"
	"github.com/photonlab/scanctl/camera"
	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/spectro"
	"github.com/photonlab/scanctl/stage"
)

// Stage is the controller as the orchestrator uses it
type Stage interface {
	motion.Sender
	Close() error
}

// Sensor is the spectrometer as the orchestrator uses it
type Sensor interface {
	autoscale.Sensor
	cycle.Acquirer

	// WavelengthAxis is the native axis, one value per column
	WavelengthAxis() []float64
	Gain() int
	Close() error
}

// Instrument is an opened controller and spectrometer.  It owns both until
// Close.
type Instrument struct {
	Stage  Stage
	Sensor Sensor

	closeOnce sync.Once
	closeErr  error
}

// Close releases the sensor, then the controller.  Closing twice is a no-op.
func (i *Instrument) Close() error {
	i.closeOnce.Do(func() {
		var errs []error
		if i.Sensor != nil {
			errs = append(errs, i.Sensor.Close())
		}
		if i.Stage != nil {
			errs = append(errs, i.Stage.Close())
		}
		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}

// Opener returns the frame source opener selected by the configuration.
// Mock mode replaces a camera with the synthetic sensor.
func Opener(cfg config.Config) camera.Opener {
	sc := cfg.Spectrometer
	source := sc.Source
	if cfg.Mock && source == "camera" {
		source = "synthetic"
	}
	switch source {
	case "replay":
		return func(int) (camera.Source, error) {
			r, err := camera.OpenReplay(sc.ReplayPath)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	case "synthetic":
		return func(int) (camera.Source, error) {
			return camera.NewSynthetic(sc.Width, sc.Height), nil
		}
	default:
		return camera.V4L2Opener(sc.Width, sc.Height)
	}
}

// Open opens the controller and the spectrometer.  Any failure is an
// initialization failure: whatever was opened is closed again and no motion
// has happened.
func Open(cfg config.Config) (*Instrument, error) {
	var (
		st  *stage.Controller
		err error
	)
	if cfg.Mock {
		st, _, err = stage.NewSimulated(stage.OptionsFromConfig(cfg.Stage))
		if err == nil {
			log.Println("measure: mock mode, using the simulated controller")
		}
	} else {
		st, err = stage.Open(cfg.Stage)
	}
	if err != nil {
		return nil, fmt.Errorf("opening the controller: %w", err)
	}

	var v spectro.Vendor
	if cfg.Mock {
		v = spectro.NewMockVendor()
	} else {
		dll, err := spectro.NewDLLVendor(cfg.Spectrometer.Library)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("%w: %v", spectro.ErrInit, err)
		}
		v = dll
	}
	p := cfg.Params
	sp, err := spectro.Open(cfg.Spectrometer, v, Opener(cfg), p.Exposure, p.Gain)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Instrument{Stage: st, Sensor: sp}, nil
}
