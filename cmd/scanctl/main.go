package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	yml "gopkg.in/yaml.v2"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/measure"
	"github.com/photonlab/scanctl/report"
	"github.com/photonlab/scanctl/store"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scanctl.yml"
)

func root() {
	str := `scanctl runs spectral scans: a motorized stage steps a sample past a lamp
while a line-scan spectrometer records one calibrated spectrum per point.

Usage:
	scanctl <command> [script.txt]

Commands:
	run
	serve
	record
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `scanctl reads scanctl.yml from the working directory when present, then
the legacy key=value parameter script given as the last argument (script.txt
by default), then SCANCTL_* environment variables.  Sections are separated by
a double underscore, e.g. SCANCTL_STAGE__ADDR=/dev/ttyUSB1.

run     performs np_of_cycle cycles and writes the results below output.dir,
        one dated folder per run.  Without a console, set
        autoscale.prompt: false and autoscale.fallbackexposure.
serve   exposes the stage and the spectrometer over HTTP for manual control
        and starts runs with POST /run.  Manual routes answer 423 while a
        run is active.  GET /endpoints lists the routes.
record  captures N raw frames into a FITS cube, e.g. for replay:
        scanctl record 50 frames.fits

mock: true replaces the controller and the spectrometer with simulations.`
	fmt.Println(str)
}

func scriptArg(args []string) string {
	if len(args) > 0 && strings.EqualFold(filepath.Ext(args[len(args)-1]), ".txt") {
		return args[len(args)-1]
	}
	return "script.txt"
}

// loadConfig layers the config file and the parameter script, skipping
// whichever is missing
func loadConfig(script string) (config.Config, error) {
	var paths []string
	for _, p := range []string{ConfigFileName, script} {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	c, err := config.Load(paths...)
	if err != nil {
		return c, fmt.Errorf("error loading config: %w", err)
	}
	return c, nil
}

// teeLog sends the log to stderr and a timestamped file in dir
func teeLog(dir string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}
	fn := filepath.Join(dir, time.Now().Format("20060102_150405")+".log")
	f, err := os.Create(fn)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("logging to %s", fn)
	return f, nil
}

func mkconf() {
	c, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := config.WriteYAML(ConfigFileName, c); err != nil {
		log.Fatal(err)
	}
}

func printconf(script string) {
	c, err := loadConfig(script)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("scanctl version %v\n", Version)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// openInstrument is replaced in tests to observe teardown
var openInstrument = measure.Open

// openArchive returns nil when the archive is disabled
func openArchive(c config.Config) (*store.Store, error) {
	if c.Output.Archive == "" {
		return nil, nil
	}
	s, err := store.Open(c.Output.Archive)
	if err != nil {
		return nil, fmt.Errorf("opening the run archive: %w", err)
	}
	return s, nil
}

// withLog loads the configuration, tees the log, and calls fn
func withLog(script string, fn func(config.Config) error) error {
	c, err := loadConfig(script)
	if err != nil {
		return err
	}
	lf, err := teeLog(c.Output.LogDir)
	if err != nil {
		return err
	}
	defer lf.Close()
	return fn(c)
}

// runConfig performs one run.  The instrument is closed before it returns,
// whatever the outcome.
func runConfig(ctx context.Context, c config.Config) error {
	inst, err := openInstrument(c)
	if err != nil {
		return err
	}
	defer inst.Close()
	o, err := measure.New(c, inst)
	if err != nil {
		return err
	}
	o.Sleep = spinSleep
	o.Recorder = report.NewRecorder(c.Output.Dir)
	if c.Autoscale.Prompt {
		o.Operator = measure.NewConsole(os.Stdin, os.Stdout, c.Autoscale.MinExposure, c.Autoscale.MaxExposure)
	}
	reports := &measure.Reports{Opts: c.Output}
	o.Sinks = []measure.Sink{reports}
	db, err := openArchive(c)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		o.Sinks = append(o.Sinks, measure.Archive{Store: db})
	}

	sum, err := o.Run(ctx)
	summarize(sum, reports)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func run(script string) error {
	return withLog(script, func(c config.Config) error {
		ctx, stop := signalContext()
		defer stop()
		return runConfig(ctx, c)
	})
}

func summarize(sum *measure.Summary, reports *measure.Reports) {
	if sum == nil {
		return
	}
	log.Printf("run %s: %s points in %d cycles, exposure %d ms, took %s",
		sum.ID, humanize.Comma(int64(sum.Acquired())), len(sum.Cycles), sum.Exposure,
		strings.TrimSuffix(humanize.RelTime(sum.Start, sum.End, "", ""), " "))
	if w := reports.Writer(); w != nil {
		log.Printf("run %s: %d files, %s in %s", sum.ID, len(w.Files), humanize.Bytes(uint64(w.Bytes)), w.Dir)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	script := scriptArg(args[2:])
	cmd := strings.ToLower(args[1])
	var err error
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf(script)
	case "run":
		err = run(script)
	case "serve":
		err = serve(script)
	case "record":
		err = record(script, args[2:])
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
