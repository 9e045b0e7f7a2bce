package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/config"
)

// IntensityRow is one line of the per-cycle intensity table
type IntensityRow struct {
	Point     int
	X, Z      float64
	Intensity float64
}

// IntensityTable pairs each point's intensity with its stage coordinates.
// Points are 1-based.
func IntensityTable(p config.Params, intensity []float64) []IntensityRow {
	rows := make([]IntensityRow, len(intensity))
	for i, v := range intensity {
		x, z := p.Coordinates(i + 1)
		rows[i] = IntensityRow{Point: i + 1, X: x, Z: z, Intensity: v}
	}
	return rows
}

// cell formats a float for a table; NaN marks an unset point and is empty
func cell(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WriteIntensityCSV writes the columns point, X(mm), Z(mm), intensity
func WriteIntensityCSV(w io.Writer, rows []IntensityRow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"point", "X(mm)", "Z(mm)", "intensity"})
	for _, r := range rows {
		cw.Write([]string{strconv.Itoa(r.Point), cell(r.X), cell(r.Z), cell(r.Intensity)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteSpectraCSV writes a Wavelength column followed by one Point_k column
// per column of m
func WriteSpectraCSV(w io.Writer, axis []float64, m *mat.Dense) error {
	r, c := 0, 0
	if m != nil {
		r, c = m.Dims()
	}
	if r != 0 && r != len(axis) {
		return fmt.Errorf("report: %d spectral rows for a %d point axis", r, len(axis))
	}
	cw := csv.NewWriter(w)
	header := make([]string, c+1)
	header[0] = "Wavelength"
	for j := 0; j < c; j++ {
		header[j+1] = fmt.Sprintf("Point_%d", j+1)
	}
	cw.Write(header)
	line := make([]string, c+1)
	for i, wl := range axis {
		line[0] = cell(wl)
		for j := 0; j < c; j++ {
			line[j+1] = cell(m.At(i, j))
		}
		cw.Write(line)
	}
	cw.Flush()
	return cw.Error()
}

// WriteParamsCSV writes the parameter set as Parameter,Value rows in
// declaration order, followed by extra in the given order
func WriteParamsCSV(w io.Writer, p config.Params, extra yml.MapSlice) error {
	b, err := yml.Marshal(p)
	if err != nil {
		return err
	}
	var items yml.MapSlice
	if err := yml.Unmarshal(b, &items); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Write([]string{"Parameter", "Value"})
	for _, it := range append(items, extra...) {
		cw.Write([]string{fmt.Sprint(it.Key), fmt.Sprint(it.Value)})
	}
	cw.Flush()
	return cw.Error()
}
