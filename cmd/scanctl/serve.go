package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/generichttp"
	"github.com/photonlab/scanctl/generichttp/locker"
	"github.com/photonlab/scanctl/measure"
	"github.com/photonlab/scanctl/motion"
	"github.com/photonlab/scanctl/report"
	"github.com/photonlab/scanctl/spectro"
	"github.com/photonlab/scanctl/store"
)

// table is a bare route table
type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable {
	return generichttp.RouteTable(t)
}

// BuildMux mounts every route on one router.  The returned runner owns runs started over HTTP.
func BuildMux(c config.Config, inst *measure.Instrument, db *store.Store) (chi.Router, *measure.Runner, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	l := locker.New()
	l.DoNotProtect = append(l.DoNotProtect, "endpoints", "runs")
	root.Use(l.Check)
	supergraph := map[string][]string{}

	mount := func(prefix string, h generichttp.HTTPer) {
		rt := h.RT()
		root.Route(prefix, func(r chi.Router) {
			rt.Bind(r)
		})
		supergraph[prefix] = rt.Endpoints()
	}
	mount("/stage", motion.NewHTTPWrapper(inst.Stage, c.Stage.ExtendedTimeout.D()))
	if sp, ok := inst.Sensor.(*spectro.Spectrometer); ok {
		mount("/spectrometer", spectro.NewHTTPWrapper(sp))
	}

	o, err := measure.New(c, inst)
	if err != nil {
		return nil, nil, err
	}
	o.Recorder = report.NewRecorder(c.Output.Dir)
	runner := measure.NewRunner(o, l, func() []measure.Sink {
		sinks := []measure.Sink{&measure.Reports{Opts: c.Output}}
		if db != nil {
			sinks = append(sinks, measure.Archive{Store: db})
		}
		return sinks
	})

	misc := table(runner.RT())
	report.NewHTTPWrapper(o.Recorder).Inject(misc)
	locker.Inject(misc, l)
	if db != nil {
		store.NewHTTPWrapper(db).Inject(misc)
	}
	misc[generichttp.MethodPath{Method: http.MethodGet, Path: "/endpoints"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	}
	generichttp.RouteTable(misc).Bind(root)
	supergraph["/"] = generichttp.RouteTable(misc).Endpoints()
	return root, runner, nil
}

// shutdownGrace bounds how long in-flight requests get on shutdown
const shutdownGrace = 5 * time.Second

// serveConfig serves until ctx is done or the listener fails.  An active run
// is cancelled and waited for before the instrument is closed.
func serveConfig(ctx context.Context, c config.Config) error {
	inst, err := openInstrument(c)
	if err != nil {
		return err
	}
	defer inst.Close()
	db, err := openArchive(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	mux, runner, err := BuildMux(c, inst, db)
	if err != nil {
		return err
	}
	defer func() {
		runner.Cancel()
		runner.Wait()
	}()

	srv := &http.Server{Addr: c.Server.Addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Println("now listening for requests at ", c.Server.Addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err = srv.Shutdown(sctx)
	if lerr := <-errc; !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}

func serve(script string) error {
	return withLog(script, func(c config.Config) error {
		ctx, stop := signalContext()
		defer stop()
		return serveConfig(ctx, c)
	})
}
