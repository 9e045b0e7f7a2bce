package measure

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/photonlab/scanctl/cycle"
	"github.com/photonlab/scanctl/generichttp"
	"github.com/photonlab/scanctl/generichttp/locker"
)

// ErrBusy is returned when a run is started while another is active
var ErrBusy = errors.New("a run is already active")

// Status is the JSON form of the runner state
type Status struct {
	Running  bool      `json:"running"`
	ID       string    `json:"id,omitempty"`
	Dir      string    `json:"dir,omitempty"`
	Exposure int       `json:"exposure,omitempty"`
	Cycles   int       `json:"cycles"`
	Acquired int       `json:"acquired"`
	Error    string    `json:"error,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// Runner runs measurements in the background on a shared instrument.  While
// a run is active Lock is held, so manual control routes behind the locker
// answer 423.
type Runner struct {
	mu sync.Mutex

	Orch *Orchestrator
	Lock *locker.Locker

	// NewSinks returns fresh sinks for each run
	NewSinks func() []Sink

	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner returns a runner.  The /run routes are exempt from the lock.
func NewRunner(o *Orchestrator, l *locker.Locker, newSinks func() []Sink) *Runner {
	l.DoNotProtect = append(l.DoNotProtect, "run")
	return &Runner{Orch: o, Lock: l, NewSinks: newSinks}
}

// progress mirrors finished cycles into the runner status
type progress struct{ r *Runner }

func (p progress) Start(info RunInfo) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.status.ID, p.r.status.Dir, p.r.status.Exposure = info.ID, info.Dir, info.Exposure
	return nil
}

func (p progress) Cycle(_ RunInfo, res *cycle.Result) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.status.Cycles++
	p.r.status.Acquired += res.Acquired
	return nil
}

func (p progress) Finish(RunInfo, error) error { return nil }

// Start begins a run in the background.  ctx bounds the run, not the call.
func (r *Runner) Start(ctx context.Context) error {
	if !r.Lock.Acquire(locker.Run) {
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.status = Status{Running: true, Start: time.Now()}
	r.cancel = cancel
	r.done = make(chan struct{})
	var sinks []Sink
	if r.NewSinks != nil {
		sinks = r.NewSinks()
	}
	r.Orch.Sinks = append(sinks, progress{r})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer r.Lock.Release(locker.Run)
		defer cancel()
		sum, err := r.Orch.Run(ctx)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.status.Running = false
		r.status.End = time.Now()
		if sum != nil {
			r.status.ID, r.status.Dir = sum.ID, sum.Dir
		}
		if err != nil {
			r.status.Error = err.Error()
			log.Printf("measure: background run: %v", err)
		}
	}()
	return nil
}

// Cancel ends the active run after its current command
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until the active run, if any, has finished
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the state of the active or last run
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// HTTPStart starts a run; 409 if one is active
func (r *Runner) HTTPStart(w http.ResponseWriter, req *http.Request) {
	if err := r.Start(context.Background()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	generichttp.RespondJSON(w, r.Status())
}

// HTTPStatus returns the run status as JSON
func (r *Runner) HTTPStatus(w http.ResponseWriter, req *http.Request) {
	generichttp.RespondJSON(w, r.Status())
}

// HTTPCancel cancels the active run
func (r *Runner) HTTPCancel(w http.ResponseWriter, req *http.Request) {
	r.Cancel()
	w.WriteHeader(http.StatusOK)
}

// RT satisfies generichttp.HTTPer
func (r *Runner) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/run"}:   r.HTTPStart,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/run"}:    r.HTTPStatus,
		generichttp.MethodPath{Method: http.MethodDelete, Path: "/run"}: r.HTTPCancel,
	}
}
