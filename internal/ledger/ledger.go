// Package ledger records canonical export runs in a sqlite database.
//
// Each run gets a UUID and one row per exported pair, so a batch can be
// audited after the fact: which files were paired, how many frames were
// written, and why a pair was aborted.
package ledger

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/smilelab/canon/internal/canonical"
	"github.com/smilelab/canon/internal/landmark"
	"github.com/smilelab/canon/internal/monitoring"
	"github.com/smilelab/canon/internal/timeutil"
	"github.com/smilelab/canon/internal/version"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoRun is reported when a pair is observed before BeginRun.
var ErrNoRun = errors.New("no active run")

// Status values stored per pair.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Ledger is a sqlite-backed run log. It implements canonical.Observer.
type Ledger struct {
	db    *sql.DB
	clock timeutil.Clock

	mu      sync.Mutex
	runID   string
	started time.Time
	err     error
}

// Run is one recorded export run.
type Run struct {
	ID             string
	ToolVersion    string
	InputDir       string
	GroundDir      string
	ReferenceLabel string
	LateralLabel   string
	TargetX        float64
	TargetY        float64
	TargetDistance float64
	Pairing        string
	StartedNs      int64
	FinishedNs     sql.NullInt64
	DurationNs     sql.NullInt64
	Exported       int
	Failed         int
	Error          sql.NullString
}

// PairRecord is one recorded pair of a run.
type PairRecord struct {
	ID         int64
	RunID      string
	InputPath  string
	GroundPath string
	InputOut   string
	GroundOut  string
	Frames     int
	Status     string
	Error      sql.NullString
	Warnings   []string
	RecordedNs int64
}

// Open opens (creating if needed) the ledger at path and applies pending
// migrations. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Ledger, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One connection keeps ":memory:" ledgers on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger %s: %w", path, err)
	}

	l := &Ledger{db: db, clock: clock}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// MigrateUp runs all pending migrations. It is a no-op when the schema is
// already at the latest version.
func (l *Ledger) MigrateUp() error {
	m, err := l.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and dirty state.
func (l *Ledger) SchemaVersion() (uint, bool, error) {
	m, err := l.newMigrate()
	if err != nil {
		return 0, false, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (l *Ledger) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// BeginRun records a new run and makes it the target of ObservePair.
func (l *Ledger) BeginRun(inputDir, groundDir string, opts canonical.Options) (string, error) {
	id := uuid.NewString()
	started := l.clock.Now()
	_, err := l.db.Exec(`
		INSERT INTO runs (run_id, tool_version, input_dir, ground_dir, reference_label, lateral_label,
			target_x, target_y, target_distance, pairing, started_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, version.String(), inputDir, groundDir,
		string(opts.Landmarks.Reference), string(opts.Landmarks.Lateral),
		opts.Target.IrisPosition.X, opts.Target.IrisPosition.Y, opts.Target.IrisDistance,
		string(opts.Pairing), started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %v", err)
	}

	l.mu.Lock()
	l.runID = id
	l.started = started
	l.mu.Unlock()
	return id, nil
}

// FinishRun stores the totals of s on the active run and closes it.
func (l *Ledger) FinishRun(s canonical.Summary) error {
	l.mu.Lock()
	id, started := l.runID, l.started
	l.runID = ""
	l.mu.Unlock()
	if id == "" {
		return ErrNoRun
	}
	elapsed := l.clock.Since(started)

	var runErr sql.NullString
	if s.Err != nil {
		runErr = sql.NullString{String: s.Err.Error(), Valid: true}
	}
	_, err := l.db.Exec(`
		UPDATE runs SET finished_ns = ?, duration_ns = ?, exported = ?, failed = ?, run_error = ?
		WHERE run_id = ?`,
		l.clock.Now().UnixNano(), elapsed.Nanoseconds(), s.Exported(), s.Failed(), runErr, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %v", id, err)
	}
	monitoring.Logf("run %s finished in %s: %d exported, %d failed", id, elapsed, s.Exported(), s.Failed())
	return nil
}

// ObservePair records res under the active run. Write failures are kept
// and reported by Err; the export itself is never interrupted.
func (l *Ledger) ObservePair(res canonical.PairResult, _, _ []landmark.Frame) {
	if err := l.recordPair(res); err != nil {
		monitoring.Warnf("ledger: %v", err)
		l.mu.Lock()
		if l.err == nil {
			l.err = err
		}
		l.mu.Unlock()
	}
}

func (l *Ledger) recordPair(res canonical.PairResult) error {
	l.mu.Lock()
	id := l.runID
	l.mu.Unlock()
	if id == "" {
		return fmt.Errorf("record %s: %w", res.Input, ErrNoRun)
	}

	status := StatusOK
	var pairErr sql.NullString
	if res.Err != nil {
		status = StatusFailed
		pairErr = sql.NullString{String: res.Err.Error(), Valid: true}
	}

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	wj, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO pairs (run_id, input_path, ground_path, input_out, ground_out, frames, status, pair_error, warnings, recorded_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.Input, res.Ground, res.InputOut, res.GroundOut, res.Frames,
		status, pairErr, string(wj), l.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert pair %s: %v", res.Input, err)
	}
	return nil
}

// Err returns the first error hit while recording pairs.
func (l *Ledger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Runs lists all recorded runs, oldest first.
func (l *Ledger) Runs() ([]Run, error) {
	rows, err := l.db.Query(`
		SELECT run_id, tool_version, input_dir, ground_dir, reference_label, lateral_label,
			target_x, target_y, target_distance, pairing, started_ns, finished_ns,
			duration_ns, exported, failed, run_error
		FROM runs ORDER BY started_ns, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.ToolVersion, &r.InputDir, &r.GroundDir, &r.ReferenceLabel, &r.LateralLabel,
			&r.TargetX, &r.TargetY, &r.TargetDistance, &r.Pairing, &r.StartedNs, &r.FinishedNs,
			&r.DurationNs, &r.Exported, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Pairs lists the pairs recorded for runID in recording order.
func (l *Ledger) Pairs(runID string) ([]PairRecord, error) {
	rows, err := l.db.Query(`
		SELECT pair_id, run_id, input_path, ground_path, input_out, ground_out, frames,
			status, pair_error, warnings, recorded_ns
		FROM pairs WHERE run_id = ? ORDER BY pair_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []PairRecord
	for rows.Next() {
		var p PairRecord
		var wj string
		if err := rows.Scan(&p.ID, &p.RunID, &p.InputPath, &p.GroundPath, &p.InputOut, &p.GroundOut, &p.Frames,
			&p.Status, &p.Error, &wj, &p.RecordedNs); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if err := json.Unmarshal([]byte(wj), &p.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings of pair %d: %w", p.ID, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
