package spectro

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Decode reconstructs the sensor samples of a raw frame.  Even bytes carry
// the high bits and odd bytes the low bits offset by 128; a missing final low
// byte is taken as zero.  Arithmetic is uint16 and wraps, matching the sensor
// firmware.
func Decode(frame []byte) []uint16 {
	n := (len(frame) + 1) / 2
	out := make([]uint16, n)
	for i := range out {
		high := uint16(frame[2*i])
		var low uint16
		if 2*i+1 < len(frame) {
			low = uint16(frame[2*i+1])
		}
		out[i] = (high << 4) | (low - 128)
	}
	return out
}

// ROIAverage treats samples as a row-major height x width grid and averages
// rows [roi, roi+rows) per column.  The band is clipped to the grid.
func ROIAverage(samples []uint16, width, height, roi, rows int) ([]float64, error) {
	if len(samples) != width*height {
		return nil, fmt.Errorf("%w: %d samples for a %dx%d frame", ErrDecode, len(samples), width, height)
	}
	end := roi + rows
	if end > height {
		end = height
	}
	if roi < 0 || roi >= end {
		return nil, fmt.Errorf("%w: ROI rows [%d, %d) outside a %d row frame", ErrDecode, roi, roi+rows, height)
	}
	out := make([]float64, width)
	row := make([]float64, width)
	for r := roi; r < end; r++ {
		for c, v := range samples[r*width : (r+1)*width] {
			row[c] = float64(v)
		}
		floats.Add(out, row)
	}
	floats.Scale(1/float64(end-roi), out)
	return out, nil
}
