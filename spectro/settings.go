package spectro

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Settings is the calibration read from the device at startup
type Settings struct {
	// ROI is the first row of the averaged band
	ROI int

	// Coeffs map a column index x to a0 + a1 x + a2 x^2 + a3 x^3 nm
	Coeffs [4]float64
}

var coeffKeys = [4]string{
	"conversion_factor_0_a0",
	"conversion_factor_0_a1",
	"conversion_factor_0_a2",
	"conversion_factor_0_a3",
}

// ParseSettings decodes a settings blob.  NUL, CR, and LF bytes are
// stripped first; numbers may be encoded as JSON numbers or strings.  A
// missing roi_height keeps defaultROI and a missing coefficient is 0, but a
// calibration without any non-constant term is rejected.
func ParseSettings(blob []byte, defaultROI int) (Settings, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case 0, '\r', '\n':
			return -1
		}
		return r
	}, string(blob))
	m := map[string]interface{}{}
	if err := json.Unmarshal([]byte(clean), &m); err != nil {
		return Settings{}, fmt.Errorf("spectro: settings are not JSON: %w", err)
	}
	s := Settings{ROI: defaultROI}
	if v, ok := m["roi_height"]; ok {
		f, err := number(v)
		if err != nil {
			return Settings{}, fmt.Errorf("spectro: roi_height: %w", err)
		}
		s.ROI = int(f)
	}
	for i, k := range coeffKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		f, err := number(v)
		if err != nil {
			return Settings{}, fmt.Errorf("spectro: %s: %w", k, err)
		}
		s.Coeffs[i] = f
	}
	if s.Coeffs[1] == 0 && s.Coeffs[2] == 0 && s.Coeffs[3] == 0 {
		return Settings{}, fmt.Errorf("spectro: calibration %v maps every column to one wavelength", s.Coeffs)
	}
	return s, nil
}

func number(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("%v is not a number", v)
	}
}

// Axis evaluates the calibration polynomial at columns 0..n-1
func (s Settings) Axis(n int) []float64 {
	out := make([]float64, n)
	a := s.Coeffs
	for i := range out {
		x := float64(i)
		out[i] = a[0] + x*(a[1]+x*(a[2]+x*a[3]))
	}
	return out
}

// LinearAxis returns n evenly spaced wavelengths from start to end inclusive
func LinearAxis(start, end float64, n int) []float64 {
	switch n {
	case 0:
		return nil
	case 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, end)
}
