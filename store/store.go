/*Package store keeps a SQLite index of runs, cycles, and per-point
intensities next to the files a run writes.

The schema is versioned with golang-migrate; the migrations are embedded in
the binary and applied by Open.
*/
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	yml "gopkg.in/yaml.v2"
	_ "modernc.org/sqlite"

	"github.com/photonlab/scanctl/config"
	"github.com/photonlab/scanctl/cycle"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Run states
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ErrUnknownRun is returned when a run ID is not in the database
var ErrUnknownRun = errors.New("store: unknown run")

// Run is one row of the runs table
type Run struct {
	ID         string
	Started    time.Time
	Finished   time.Time // zero while running
	Status     string
	Params     config.Params
	Exposure   int
	Gain       int
	Autoscaled bool
	Dir        string
}

// Point is one row of the points table.  Intensity is NaN for a point that
// was not acquired.
type Point struct {
	Cycle     int
	Point     int
	X, Z      float64
	Intensity float64
}

// Store is a handle to the database
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it to the latest
// schema.  ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" a single database and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	// m is not closed, that would close db
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// BeginRun inserts a running run and returns its ID, a new UUID when r.ID
// is empty.  r.Status is ignored.
func (s *Store) BeginRun(r Run) (string, error) {
	params, err := yml.Marshal(r.Params)
	if err != nil {
		return "", err
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.Exec(`INSERT INTO runs (id, started_at, status, params, exposure, gain, autoscaled, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nanos(r.Started), StatusRunning, string(params), r.Exposure, r.Gain, r.Autoscaled, r.Dir)
	if err != nil {
		return "", fmt.Errorf("store: begin run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run finished with the given status
func (s *Store) FinishRun(id, status string) error {
	return s.update(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, status, nanos(time.Now()), id)
}

func (s *Store) update(query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownRun
	}
	return nil
}

// RecordCycle stores a cycle and its per-point intensities in one
// transaction.  p supplies the point coordinates.
func (s *Store) RecordCycle(id string, p config.Params, res *cycle.Result) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	_, err = tx.Exec(`INSERT INTO cycles (run_id, cycle, started_at, finished_at, acquired, failures, wavelength)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, res.Cycle, nanos(res.Start), nanos(res.End), res.Acquired, res.Failures, res.Wavelength)
	if err != nil {
		return fmt.Errorf("store: cycle %d: %w", res.Cycle, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO points (run_id, cycle, point, x_mm, z_mm, intensity) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range res.Intensity {
		k := i + 1
		x, z := p.Coordinates(k)
		val := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
		if _, err = stmt.Exec(id, res.Cycle, k, x, z, val); err != nil {
			return fmt.Errorf("store: cycle %d point %d: %w", res.Cycle, k, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, status, params, exposure, gain, autoscaled, output_dir`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		params   string
	)
	err := row.Scan(&r.ID, &started, &finished, &r.Status, &params, &r.Exposure, &r.Gain, &r.Autoscaled, &r.Dir)
	if err != nil {
		return r, err
	}
	r.Started = fromNanos(started)
	if finished.Valid {
		r.Finished = fromNanos(finished.Int64)
	}
	err = yml.Unmarshal([]byte(params), &r.Params)
	return r, err
}

// Run returns one run by ID
func (s *Store) Run(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrUnknownRun
	}
	return r, err
}

// Runs returns up to limit runs, newest first.  limit <= 0 returns all.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Points returns the points of one cycle of a run, in point order
func (s *Store) Points(id string, n int) ([]Point, error) {
	rows, err := s.db.Query(`SELECT cycle, point, x_mm, z_mm, intensity FROM points
		WHERE run_id = ? AND cycle = ? ORDER BY point`, id, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var (
			pt  Point
			val sql.NullFloat64
		)
		if err := rows.Scan(&pt.Cycle, &pt.Point, &pt.X, &pt.Z, &val); err != nil {
			return nil, err
		}
		pt.Intensity = math.NaN()
		if val.Valid {
			pt.Intensity = val.Float64
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
