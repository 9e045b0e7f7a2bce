package camera

import (
	"math"
	"sync"
)

// FullScale is the largest sample a 12-bit sensor reports
const FullScale = 4095

// Peak is a Gaussian feature of the simulated spectrum
type Peak struct {
	// Column is the center, in pixels
	Column float64

	// Sigma is the width, in pixels
	Sigma float64

	// Height is counts per ms of exposure at unit gain
	Height float64
}

// Synthetic is a deterministic simulated sensor.  Every row of a frame is
// identical; counts scale with exposure and gain and saturate at FullScale.
type Synthetic struct {
	mu sync.Mutex

	width, height int

	// Exposure and Gain are the last values pushed
	Exposure int
	Gain     int

	// Dark is the exposure-independent floor, counts
	Dark float64

	// Peaks make up the illuminated spectrum
	Peaks []Peak

	// Reads counts ReadFrame calls, successful or not
	Reads int

	// FailNext makes the next n reads return ErrNoFrame
	FailNext int

	closed bool
}

// NewSynthetic returns a simulated width x height sensor with a broad lamp
// continuum and two narrow lines
func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{
		width:    width,
		height:   height,
		Exposure: 100,
		Gain:     1,
		Dark:     64,
		Peaks: []Peak{
			{Column: 0.55 * float64(width), Sigma: 0.18 * float64(width), Height: 8},
			{Column: 0.30 * float64(width), Sigma: 4, Height: 6},
			{Column: 0.70 * float64(width), Sigma: 4, Height: 4},
		},
	}
}

// Res returns (W, H)
func (s *Synthetic) Res() (int, int) {
	return s.width, s.height
}

// Row returns the simulated 12-bit samples of one row
func (s *Synthetic) Row() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.row()
}

func (s *Synthetic) row() []uint16 {
	scale := float64(s.Exposure * s.Gain)
	out := make([]uint16, s.width)
	for c := range out {
		v := s.Dark
		for _, p := range s.Peaks {
			z := (float64(c) - p.Column) / p.Sigma
			v += scale * p.Height * math.Exp(-0.5*z*z)
		}
		out[c] = uint16(math.Min(math.Round(v), FullScale))
	}
	return out
}

// ReadFrame returns one encoded frame
func (s *Synthetic) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	if s.closed {
		return nil, ErrClosed
	}
	if s.FailNext > 0 {
		s.FailNext--
		return nil, ErrNoFrame
	}
	row := EncodeFrame(s.row())
	out := make([]byte, 0, len(row)*s.height)
	for r := 0; r < s.height; r++ {
		out = append(out, row...)
	}
	return out, nil
}

// SetExposure stores the exposure
func (s *Synthetic) SetExposure(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Exposure = v
	return nil
}

// SetGain stores the gain
func (s *Synthetic) SetGain(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Gain = v
	return nil
}

// Close marks the source closed
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed returns true after Close
func (s *Synthetic) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
