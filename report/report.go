/*Package report writes the results of a run to disk.

Each run gets its own folder from a Recorder.  Per cycle n the folder holds

	cycle_<n>.csv       point, X(mm), Z(mm), intensity
	total_data_<n>.csv  Wavelength, Point_1 ... Point_k
	cycle_<n>.fits      the same spectra as a float image (optional)
	cycle_<n>.png       a plot of the spectra (optional)

and config.csv lists the parameters the run used.  Unset points are empty
cells in the tables.
*/
package report

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"
	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
)

// Writer writes the files of one run
type Writer struct {
	// Dir is the run folder
	Dir string

	Params config.Params
	Opts   config.OutputConfig

	// Files lists every file written, in order, and Bytes their total size
	Files []string
	Bytes int64
}

// NewWriter returns a writer for the run folder dir
func NewWriter(dir string, p config.Params, opts config.OutputConfig) *Writer {
	return &Writer{Dir: dir, Params: p, Opts: opts}
}

func (w *Writer) create(name string, fill func(io.Writer) error) error {
	fn := filepath.Join(w.Dir, name)
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	err = fill(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", fn, err)
	}
	w.record(fn)
	return nil
}

func (w *Writer) record(fn string) {
	w.Files = append(w.Files, fn)
	if fi, err := os.Stat(fn); err == nil {
		w.Bytes += fi.Size()
	}
}

// WriteCycle writes the tables of one cycle and, when enabled, its FITS
// image and plot.  exposure and gain are recorded in the FITS header.
func (w *Writer) WriteCycle(res *cycle.Result, exposure, gain int) error {
	n := res.Cycle
	if w.Opts.CSV {
		err := w.create(fmt.Sprintf("cycle_%d.csv", n), func(f io.Writer) error {
			return WriteIntensityCSV(f, IntensityTable(w.Params, res.Intensity))
		})
		if err != nil {
			return err
		}
		err = w.create(fmt.Sprintf("total_data_%d.csv", n), func(f io.Writer) error {
			return WriteSpectraCSV(f, res.Axis, res.Spectra)
		})
		if err != nil {
			return err
		}
	}
	if res.Spectra == nil {
		return nil
	}
	if w.Opts.FITS {
		cards := []fitsio.Card{
			{Name: "CYCLE", Value: n},
			{Name: "EXPTIME", Value: exposure, Comment: "ms"},
			{Name: "GAIN", Value: gain},
			{Name: "SAMPWL", Value: res.Wavelength, Comment: "nm, intensity row"},
			{Name: "DATE-OBS", Value: res.Start.UTC().Format("2006-01-02T15:04:05")},
		}
		err := w.create(fmt.Sprintf("cycle_%d.fits", n), func(f io.Writer) error {
			return WriteSpectraFITS(f, res.Axis, res.Spectra, cards)
		})
		if err != nil {
			return err
		}
	}
	if w.Opts.Plot {
		fn := filepath.Join(w.Dir, fmt.Sprintf("cycle_%d.png", n))
		if err := PlotCycle(fn, fmt.Sprintf("Cycle %d", n), res.Axis, res.Spectra); err != nil {
			return fmt.Errorf("writing %s: %w", fn, err)
		}
		w.record(fn)
	}
	log.Printf("report: cycle %d written to %s", n, w.Dir)
	return nil
}

// WriteParams writes config.csv.  extra is appended after the parameters,
// e.g. the exposure autoscaling settled on.
func (w *Writer) WriteParams(extra yml.MapSlice) error {
	return w.create("config.csv", func(f io.Writer) error {
		return WriteParamsCSV(f, w.Params, extra)
	})
}
