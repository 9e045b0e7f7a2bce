package report

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotCycle draws every set point of a cycle against wavelength and saves
// the figure to path; the format follows the extension
func PlotCycle(path, title string, axis []float64, m *mat.Dense) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Intensity (counts)"

	if m != nil {
		_, cols := m.Dims()
		for j := 0; j < cols; j++ {
			col := mat.Col(nil, j, m)
			if math.IsNaN(col[0]) {
				continue
			}
			pts := make(plotter.XYs, len(axis))
			for i, wl := range axis {
				pts[i] = plotter.XY{X: wl, Y: col[i]}
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return fmt.Errorf("point %d: %w", j+1, err)
			}
			line.Width = vg.Points(1)
			line.Color = plotutil.Color(j)
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("Point_%d", j+1), line)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}
