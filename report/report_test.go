package report_test

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/generichttp"
	"github.com/photonlab/scanctl/report"
)

func TestIntensityTable(t *testing.T) {
	p := config.DefaultParams()
	p.Offset = 1
	p.DistanceToHeight = 2
	rows := report.IntensityTable(p, []float64{10, math.NaN()})
	require.Len(t, rows, 2)
	step := 50 * config.PulseDistance
	assert.Equal(t, 1, rows[0].Point)
	assert.InDelta(t, 1+step, rows[0].X, 1e-12)
	assert.InDelta(t, 2*step+2, rows[0].Z, 1e-12)
	assert.InDelta(t, 1+2*step, rows[1].X, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, report.WriteIntensityCSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "point,X(mm),Z(mm),intensity", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
	assert.True(t, strings.HasSuffix(lines[1], ",10"))
	assert.True(t, strings.HasSuffix(lines[2], ","), "unset points are empty cells")
}

func spectra() ([]float64, *mat.Dense) {
	axis := []float64{400, 400.5, 401}
	m := mat.NewDense(3, 2, []float64{
		1, math.NaN(),
		2, math.NaN(),
		3.5, math.NaN(),
	})
	return axis, m
}

func TestWriteSpectraCSV(t *testing.T) {
	axis, m := spectra()
	var buf bytes.Buffer
	require.NoError(t, report.WriteSpectraCSV(&buf, axis, m))
	assert.Equal(t, "Wavelength,Point_1,Point_2\n400,1,\n400.5,2,\n401,3.5,\n", buf.String())

	err := report.WriteSpectraCSV(&buf, axis[:2], m)
	assert.Error(t, err)
}

func TestWriteParamsCSV(t *testing.T) {
	var buf bytes.Buffer
	extra := yml.MapSlice{{Key: "exp_after_autoscaling", Value: 321}}
	require.NoError(t, report.WriteParamsCSV(&buf, config.DefaultParams(), extra))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Parameter,Value\n"))
	assert.Contains(t, out, "smpd,10\n")
	assert.True(t, strings.HasSuffix(out, "exp_after_autoscaling,321\n"))
}

func TestWriteSpectraFITS(t *testing.T) {
	axis, m := spectra()
	var buf bytes.Buffer
	cards := []fitsio.Card{{Name: "CYCLE", Value: 2}}
	require.NoError(t, report.WriteSpectraFITS(&buf, axis, m, cards))

	f, err := fitsio.Open(&buf)
	require.NoError(t, err)
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	require.True(t, ok)
	assert.Equal(t, []int{3, 2}, img.Header().Axes())
	data := make([]float64, 6)
	require.NoError(t, img.Read(&data))
	assert.Equal(t, []float64{1, 2, 3.5}, data[:3])
	assert.True(t, math.IsNaN(data[3]))
}

func TestRecorderNumbersRuns(t *testing.T) {
	root := t.TempDir()
	r := report.NewRecorder(root)
	r.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	a, err := r.NewRun()
	require.NoError(t, err)
	b, err := r.NewRun()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024-05-01", "run000001"), a)
	assert.Equal(t, filepath.Join(root, "2024-05-01", "run000002"), b)

	r2 := report.NewRecorder(root)
	r2.Now = r.Now
	c, err := r2.NewRun()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024-05-01", "run000003"), c, "numbering resumes from disk")
}

type routes struct{ rt generichttp.RouteTable }

func (r routes) RT() generichttp.RouteTable { return r.rt }

func TestRecorderHTTP(t *testing.T) {
	rec := report.NewRecorder(t.TempDir())
	rt := routes{generichttp.RouteTable{}}
	report.NewHTTPWrapper(rec).Inject(rt)
	r := chi.NewRouter()
	rt.rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/output/prefix", strings.NewReader(`{"str": "scan"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scan", rec.Prefix)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/output/prefix", strings.NewReader(`{"str": "a/b"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/output/enabled", nil))
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())
}

func TestWriterWritesCycle(t *testing.T) {
	dir := t.TempDir()
	axis, m := spectra()
	res := &cycle.Result{
		Cycle:      1,
		Axis:       axis,
		Spectra:    m,
		Intensity:  []float64{2, math.NaN()},
		Wavelength: 400.5,
		Start:      time.Now(),
	}
	opts := config.OutputConfig{CSV: true, FITS: true, Plot: true}
	w := report.NewWriter(dir, config.DefaultParams(), opts)
	require.NoError(t, w.WriteCycle(res, 100, 1))
	require.NoError(t, w.WriteParams(nil))

	for _, name := range []string{"cycle_1.csv", "total_data_1.csv", "cycle_1.fits", "cycle_1.png", "config.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	assert.Len(t, w.Files, 5)
	assert.Positive(t, w.Bytes)
}
