package store_test

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/store"
)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := open(t)
	p := config.DefaultParams()
	p.Exposure = 250
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.BeginRun(store.Run{Started: started, Params: p, Exposure: 410, Gain: p.Gain, Autoscaled: true, Dir: "/data/run000001"})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	r, err := s.Run(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, r.Status)
	assert.True(t, r.Started.Equal(started))
	assert.True(t, r.Finished.IsZero())
	assert.Equal(t, p, r.Params)

	require.NoError(t, s.FinishRun(id, store.StatusDone))
	r, err = s.Run(id)
	require.NoError(t, err)
	assert.Equal(t, 410, r.Exposure)
	assert.True(t, r.Autoscaled)
	assert.Equal(t, store.StatusDone, r.Status)
	assert.False(t, r.Finished.IsZero())
}

func TestUnknownRun(t *testing.T) {
	s := open(t)
	_, err := s.Run("nope")
	assert.ErrorIs(t, err, store.ErrUnknownRun)
	assert.ErrorIs(t, s.FinishRun("nope", store.StatusDone), store.ErrUnknownRun)
}

func TestRecordCycle(t *testing.T) {
	s := open(t)
	p := config.DefaultParams()
	id, err := s.BeginRun(store.Run{Params: p})
	require.NoError(t, err)

	res := &cycle.Result{
		Cycle:      2,
		Intensity:  []float64{12.5, math.NaN(), 3},
		Wavelength: 600,
		Acquired:   2,
		Start:      time.Now(),
		End:        time.Now(),
	}
	require.NoError(t, s.RecordCycle(id, p, res))
	assert.Error(t, s.RecordCycle(id, p, res), "a cycle is stored once")

	pts, err := s.Points(id, 2)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 12.5, pts[0].Intensity)
	assert.True(t, math.IsNaN(pts[1].Intensity), "unset points read back as NaN")
	x, z := p.Coordinates(3)
	assert.Equal(t, 3, pts[2].Point)
	assert.InDelta(t, x, pts[2].X, 1e-12)
	assert.InDelta(t, z, pts[2].Z, 1e-12)

	pts, err = s.Points(id, 1)
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestRunsNewestFirst(t *testing.T) {
	s := open(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.BeginRun(store.Run{Started: base.Add(time.Duration(i) * time.Hour), Params: config.DefaultParams()})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	runs, err := s.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	runs, err = s.Runs(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	id, err := s.BeginRun(store.Run{Params: config.DefaultParams()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Run(id)
	assert.NoError(t, err)
}
