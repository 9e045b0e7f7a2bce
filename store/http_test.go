package store_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/generichttp"
	"github.com/photonlab/scanctl/store"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHTTPArchive(t *testing.T) {
	s := open(t)
	p := config.DefaultParams()
	p.PointsPerCycle = 2
	old, err := s.BeginRun(store.Run{Started: time.Now().Add(-time.Hour), Params: p, Exposure: 90})
	require.NoError(t, err)
	id, err := s.BeginRun(store.Run{Started: time.Now(), Params: p, Exposure: 120, Autoscaled: true})
	require.NoError(t, err)
	require.NoError(t, s.RecordCycle(id, p, &cycle.Result{
		Cycle: 1, Intensity: []float64{7, math.NaN()}, Wavelength: 600, Acquired: 1,
		Start: time.Now(), End: time.Now(),
	}))

	rt := table{}
	store.NewHTTPWrapper(s).Inject(rt)
	r := chi.NewRouter()
	rt.RT().Bind(r)

	w := get(r, "/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []store.RunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, old, runs[1].ID)
	assert.Equal(t, 2, runs[0].Points)

	w = get(r, "/runs?limit=1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
	assert.Equal(t, http.StatusBadRequest, get(r, "/runs?limit=x").Code)

	w = get(r, "/runs/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	var run store.RunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, 120, run.Exposure)
	assert.True(t, run.Autoscaled)
	assert.Equal(t, store.StatusRunning, run.Status)
	assert.Equal(t, http.StatusNotFound, get(r, "/runs/nope").Code)

	w = get(r, "/runs/"+id+"/cycles/1")
	require.Equal(t, http.StatusOK, w.Code)
	var pts []store.PointView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pts))
	require.Len(t, pts, 2)
	require.NotNil(t, pts[0].Intensity)
	assert.Equal(t, 7.0, *pts[0].Intensity)
	assert.Nil(t, pts[1].Intensity, "a missed point is null")

	assert.Equal(t, http.StatusNotFound, get(r, "/runs/nope/cycles/1").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/runs/"+id+"/cycles/x").Code)
}
