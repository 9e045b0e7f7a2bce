/*Package spectrum maps raw sensor spectra onto a canonical wavelength axis.

A Processor is built once per run from the sensor's native axis.  Process
resamples one raw spectrum with linear interpolation, filling canonical
points outside the native range with zero, and subtracts the mean of a
baseline band.  ProcessMatrix does the same for every point of a cycle.
*/
package spectrum

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/util"
)

// ErrAxis is returned for a native axis that cannot be interpolated
var ErrAxis = errors.New("wavelength axis is not monotonic")

// Axis returns the canonical grid start, start+step, ... up to and including
// stop when it falls on the grid
func Axis(c config.AxisConfig) []float64 {
	if c.Step <= 0 || c.Stop < c.Start {
		return nil
	}
	n := int(math.Floor((c.Stop-c.Start)/c.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = c.Start + float64(i)*c.Step
	}
	return out
}

// Band is an inclusive wavelength range
type Band struct {
	Start, End float64
}

// Contains is true if wl is within the band, ends included
func (b Band) Contains(wl float64) bool {
	return wl >= b.Start && wl <= b.End
}

// Processor resamples and baseline-corrects spectra from one sensor
type Processor struct {
	native   []float64
	reversed bool
	axis     []float64
	baseline Band
}

// NewProcessor returns a processor for spectra sampled on native.  native
// must be strictly monotonic; a decreasing axis is handled by reversal.
func NewProcessor(native []float64, axis config.AxisConfig, baseline Band) (*Processor, error) {
	if len(native) < 2 {
		return nil, fmt.Errorf("%w: %d native points", ErrAxis, len(native))
	}
	p := &Processor{axis: Axis(axis), baseline: baseline}
	if len(p.axis) == 0 {
		return nil, fmt.Errorf("spectrum: empty canonical axis %+v", axis)
	}
	xs := make([]float64, len(native))
	copy(xs, native)
	if xs[0] > xs[len(xs)-1] {
		floats.Reverse(xs)
		p.reversed = true
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return nil, fmt.Errorf("%w: %g follows %g", ErrAxis, xs[i], xs[i-1])
		}
	}
	p.native = xs
	return p, nil
}

// Axis returns a copy of the canonical axis
func (p *Processor) Axis() []float64 {
	out := make([]float64, len(p.axis))
	copy(out, p.axis)
	return out
}

// Baseline returns the configured baseline band
func (p *Processor) Baseline() Band {
	return p.baseline
}

// Resample interpolates raw onto the canonical axis.  Points outside the
// native range are zero.
func (p *Processor) Resample(raw []float64) ([]float64, error) {
	if len(raw) != len(p.native) {
		return nil, fmt.Errorf("spectrum: %d samples for a %d point axis", len(raw), len(p.native))
	}
	ys := make([]float64, len(raw))
	copy(ys, raw)
	if p.reversed {
		floats.Reverse(ys)
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(p.native, ys); err != nil {
		return nil, err
	}
	lo, hi := p.native[0], p.native[len(p.native)-1]
	out := make([]float64, len(p.axis))
	for i, wl := range p.axis {
		if wl < lo || wl > hi {
			continue
		}
		out[i] = pl.Predict(wl)
	}
	return out, nil
}

// SubtractBaseline subtracts the mean of the points inside the baseline band
// from every point of spec, in place.  If the band holds no point the
// spectrum is left as is and false is returned.
func (p *Processor) SubtractBaseline(spec []float64) bool {
	var sel []float64
	for i, wl := range p.axis {
		if p.baseline.Contains(wl) {
			sel = append(sel, spec[i])
		}
	}
	if len(sel) == 0 {
		return false
	}
	floats.AddConst(-stat.Mean(sel, nil), spec)
	return true
}

// Process resamples raw and subtracts the baseline
func (p *Processor) Process(raw []float64) ([]float64, error) {
	spec, err := p.Resample(raw)
	if err != nil {
		return nil, err
	}
	if !p.SubtractBaseline(spec) {
		log.Printf("spectrum: no canonical point in baseline band %g-%g nm, spectrum left uncorrected",
			p.baseline.Start, p.baseline.End)
	}
	return spec, nil
}

// Nearest returns the index of the canonical point closest to wl.  Ties go
// to the lower index.
func (p *Processor) Nearest(wl float64) int {
	best, dist := 0, math.Inf(1)
	for i, x := range p.axis {
		if d := math.Abs(x - wl); d < dist {
			best, dist = i, d
		}
	}
	return best
}

// ExtractAt returns the value of spec at the canonical point nearest wl and
// the wavelength of that point
func (p *Processor) ExtractAt(spec []float64, wl float64) (float64, float64) {
	i := p.Nearest(wl)
	return spec[i], p.axis[i]
}

// ProcessMatrix processes the raw columns of one cycle into a canonical
// length x len(raw) matrix.  A nil column, or one that fails to process, is
// an unset point and comes out as NaN.  The second return is the row of the
// matrix nearest wl and the third the wavelength of that row.
func (p *Processor) ProcessMatrix(raw [][]float64, wl float64) (*mat.Dense, []float64, float64) {
	rows, cols := len(p.axis), len(raw)
	if cols == 0 {
		return nil, nil, p.axis[p.Nearest(wl)]
	}
	m := mat.NewDense(rows, cols, nil)
	var empty int
	for j, col := range raw {
		var spec []float64
		if col != nil {
			var err error
			spec, err = p.Resample(col)
			if err != nil {
				log.Printf("spectrum: point %d: %v", j+1, err)
				spec = nil
			} else if !p.SubtractBaseline(spec) {
				empty++
			}
		}
		if spec == nil {
			spec = util.NaNs(rows)
		}
		m.SetCol(j, spec)
	}
	if empty > 0 {
		log.Printf("spectrum: no canonical point in baseline band %g-%g nm, %d of %d points left uncorrected",
			p.baseline.Start, p.baseline.End, empty, cols)
	}
	i := p.Nearest(wl)
	intensity := mat.Row(nil, i, m)
	log.Printf("spectrum: intensity extracted at %.2f nm (nearest to %g nm)", p.axis[i], wl)
	return m, intensity, p.axis[i]
}
