/*Package spectro drives a line-scan spectrometer made of a native vendor
driver (calibration and session) and a capture source (frames).

Open initializes the driver, reads the calibration, probes for the capture
device, and pushes the starting exposure and gain.  The returned
Spectrometer owns both resources until Close, which releases the capture
source and finalizes the driver exactly once.
*/
package spectro

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/photonlab/scanctl/camera"
	"github.com/photonlab/scanctl/config"
)

var (
	// ErrInit is returned when the vendor driver cannot be initialized
	ErrInit = errors.New("spectrometer initialization failed")

	// ErrNoFrame is returned when a capture yields no frame
	ErrNoFrame = errors.New("no frame captured")

	// ErrDecode is returned when a frame does not decode to the expected grid
	ErrDecode = errors.New("frame does not decode")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("spectrometer closed")
)

// Spectrometer is a calibrated capture session
type Spectrometer struct {
	mu sync.Mutex

	vendor Vendor
	src    camera.Source

	width, height int
	roi, rows     int
	axis          []float64
	calibrated    bool

	exposure, gain int
	writeSettle    time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    bool

	// Sleep is used for the settle after exposure and gain writes
	Sleep func(time.Duration)
}

// Open initializes a session.  Any error is an initialization failure and
// leaves nothing open.
func Open(cfg config.SpectrometerConfig, v Vendor, open camera.Opener, exposure, gain int) (*Spectrometer, error) {
	if err := v.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	log.Println("spectro: vendor driver initialized")

	s := &Spectrometer{
		vendor:      v,
		width:       cfg.Width,
		height:      cfg.Height,
		roi:         cfg.ROI,
		rows:        cfg.ROIRows,
		exposure:    exposure,
		gain:        gain,
		writeSettle: cfg.WriteSettle.D(),
		Sleep:       time.Sleep,
	}
	fail := func(err error) (*Spectrometer, error) {
		if ferr := v.Finalize(); ferr != nil {
			log.Printf("spectro: finalize after failed open: %v", ferr)
		}
		return nil, err
	}

	settings, err := readSettings(v, cfg.ROI)
	switch {
	case err == nil:
		s.roi = settings.ROI
		s.axis = settings.Axis(cfg.Width)
		s.calibrated = true
		log.Printf("spectro: ROI %d, calibration %v, %.1f-%.1f nm", s.roi, settings.Coeffs, s.axis[0], s.axis[len(s.axis)-1])
	case cfg.RequireSettings:
		return fail(fmt.Errorf("%w: %v", ErrInit, err))
	default:
		s.axis = LinearAxis(cfg.DefaultStart, cfg.DefaultEnd, cfg.Width)
		log.Printf("spectro: %v; using the default %g-%g nm axis", err, cfg.DefaultStart, cfg.DefaultEnd)
	}

	src, idx, err := camera.Probe(open, cfg.ProbeCount, cfg.Width, cfg.Height)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInit, err))
	}
	if err := src.SetGain(gain); err != nil {
		src.Close()
		return fail(fmt.Errorf("%w: setting gain %d: %v", ErrInit, gain, err))
	}
	if err := src.SetExposure(exposure); err != nil {
		src.Close()
		return fail(fmt.Errorf("%w: setting exposure %d: %v", ErrInit, exposure, err))
	}
	s.src = src
	log.Printf("spectro: capture index %d (%dx%d), gain %d, exposure %d", idx, cfg.Width, cfg.Height, gain, exposure)
	return s, nil
}

func readSettings(v Vendor, defaultROI int) (Settings, error) {
	blob, err := v.ReadSettings()
	if err != nil {
		return Settings{}, fmt.Errorf("reading device settings: %w", err)
	}
	return ParseSettings(blob, defaultROI)
}

// WavelengthAxis returns the native wavelength of every column
func (s *Spectrometer) WavelengthAxis() []float64 {
	out := make([]float64, len(s.axis))
	copy(out, s.axis)
	return out
}

// Calibrated is true if the axis came from the device rather than the default
func (s *Spectrometer) Calibrated() bool {
	return s.calibrated
}

// ROI returns the first row and the height of the averaged band
func (s *Spectrometer) ROI() (int, int) {
	return s.roi, s.rows
}

// Capture reads one frame and returns its ROI-averaged spectrum.  Failures
// are returned, never fatal.
func (s *Spectrometer) Capture() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture()
}

func (s *Spectrometer) capture() ([]float64, error) {
	if s.closed {
		return nil, ErrClosed
	}
	frame, err := s.src.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	return ROIAverage(Decode(frame), s.width, s.height, s.roi, s.rows)
}

// CaptureAverage averages n captures.  A single failed capture fails the
// whole average.
func (s *Spectrometer) CaptureAverage(n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("spectro: cannot average %d frames", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum []float64
	for i := 0; i < n; i++ {
		spec, err := s.capture()
		if err != nil {
			return nil, fmt.Errorf("frame %d of %d: %w", i+1, n, err)
		}
		if sum == nil {
			sum = spec
			continue
		}
		floats.Add(sum, spec)
	}
	floats.Scale(1/float64(n), sum)
	return sum, nil
}

// Drop reads and discards n frames, letting the sensor flush stale exposures
func (s *Spectrometer) Drop(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		if s.closed {
			return
		}
		if _, err := s.src.ReadFrame(); err != nil {
			log.Printf("spectro: discarded frame %d of %d failed: %v", i+1, n, err)
		}
	}
}

// SetExposure pushes an exposure and waits for the sensor to settle
func (s *Spectrometer) SetExposure(e int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.src.SetExposure(e); err != nil {
		return err
	}
	s.exposure = e
	s.Sleep(s.writeSettle)
	return nil
}

// Exposure returns the last exposure pushed
func (s *Spectrometer) Exposure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure
}

// SetGain pushes a gain and waits for the sensor to settle
func (s *Spectrometer) SetGain(g int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.src.SetGain(g); err != nil {
		return err
	}
	s.gain = g
	s.Sleep(s.writeSettle)
	return nil
}

// Gain returns the last gain pushed
func (s *Spectrometer) Gain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Close releases the capture source and finalizes the driver.  Only the
// first call does anything; later calls return the same error.
func (s *Spectrometer) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		var errs []error
		if err := s.src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing capture source: %w", err))
		} else {
			log.Println("spectro: capture source released")
		}
		if err := s.vendor.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("finalizing driver: %w", err))
		} else {
			log.Println("spectro: vendor driver finalized")
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
