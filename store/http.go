package store

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/photonlab/scanctl/generichttp"
)

// RunView is a run as served over HTTP
type RunView struct {
	ID         string    `json:"id"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished,omitempty"`
	Status     string    `json:"status"`
	Exposure   int       `json:"exposure"`
	Gain       int       `json:"gain"`
	Autoscaled bool      `json:"autoscaled"`
	Dir        string    `json:"dir"`
	Cycles     int       `json:"cycles"`
	Points     int       `json:"points"`
}

// PointView is a point as served over HTTP; Intensity is null when the point
// was not acquired
type PointView struct {
	Point     int      `json:"point"`
	X         float64  `json:"x_mm"`
	Z         float64  `json:"z_mm"`
	Intensity *float64 `json:"intensity"`
}

func viewRun(r Run) RunView {
	return RunView{
		ID: r.ID, Started: r.Started, Finished: r.Finished, Status: r.Status,
		Exposure: r.Exposure, Gain: r.Gain, Autoscaled: r.Autoscaled, Dir: r.Dir,
		Cycles: r.Params.Cycles, Points: r.Params.PointsPerCycle,
	}
}

// HTTPWrapper serves the archive read only
type HTTPWrapper struct {
	Store *Store
}

// NewHTTPWrapper wraps s
func NewHTTPWrapper(s *Store) HTTPWrapper {
	return HTTPWrapper{Store: s}
}

// Inject adds the archive routes to another route table
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/runs"}] = h.HTTPRuns
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/runs/{id}"}] = h.HTTPRun
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/runs/{id}/cycles/{cycle}"}] = h.HTTPPoints
}

// HTTPRuns lists runs newest first; ?limit=n bounds the list
func (h HTTPWrapper) HTTPRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if str := r.URL.Query().Get("limit"); str != "" {
		n, err := strconv.Atoi(str)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.Store.Runs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, viewRun(run))
	}
	generichttp.RespondJSON(w, out)
}

// HTTPRun returns one run
func (h HTTPWrapper) HTTPRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.Run(chi.URLParam(r, "id"))
	if errors.Is(err, ErrUnknownRun) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, viewRun(run))
}

// HTTPPoints returns the points of one cycle of a run
func (h HTTPWrapper) HTTPPoints(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := strconv.Atoi(chi.URLParam(r, "cycle"))
	if err != nil {
		http.Error(w, "cycle must be an integer", http.StatusBadRequest)
		return
	}
	if _, err := h.Store.Run(id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownRun) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	pts, err := h.Store.Points(id, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]PointView, 0, len(pts))
	for _, pt := range pts {
		v := PointView{Point: pt.Point, X: pt.X, Z: pt.Z}
		if !math.IsNaN(pt.Intensity) {
			f := pt.Intensity
			v.Intensity = &f
		}
		out = append(out, v)
	}
	generichttp.RespondJSON(w, out)
}
