package report

import (
	"errors"
	"io"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/mat"
)

// WriteSpectraFITS writes the canonical spectra of one cycle as a 64-bit
// float image, one row per point and one column per wavelength.  The
// wavelength axis is described by CRVAL1/CDELT1.
func WriteSpectraFITS(w io.Writer, axis []float64, m *mat.Dense, metadata []fitsio.Card) error {
	if m == nil {
		return errors.New("report: no spectra to write")
	}
	rows, cols := m.Dims()
	if rows != len(axis) {
		return errors.New("report: spectra do not match the wavelength axis")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{rows, cols})
	defer im.Close()

	cards := []fitsio.Card{
		{Name: "CTYPE1", Value: "WAVE", Comment: "canonical wavelength axis"},
		{Name: "CUNIT1", Value: "nm"},
		{Name: "CRPIX1", Value: 1.0},
		{Name: "CRVAL1", Value: axis[0]},
		{Name: "CDELT1", Value: step(axis)},
		{Name: "CTYPE2", Value: "POINT", Comment: "measurement point, 1-based"},
		{Name: "BUNIT", Value: "counts", Comment: "baseline corrected"},
	}
	err = im.Header().Append(append(cards, metadata...)...)
	if err != nil {
		return err
	}

	// NAXIS1 is the wavelength, so the data is the transpose of m
	buf := make([]float64, 0, rows*cols)
	for j := 0; j < cols; j++ {
		buf = append(buf, mat.Col(nil, j, m)...)
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func step(axis []float64) float64 {
	if len(axis) < 2 {
		return 0
	}
	return axis[1] - axis[0]
}
