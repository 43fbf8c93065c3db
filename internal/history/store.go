// internal/history/store.go
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tamzrod/flashqa/internal/quality"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("history: run not found")

// Run is one archived assessment.
type Run struct {
	ID         string
	JEDEC      uint32
	UniqueID   uint64
	CapacityMB uint32
	Grade      quality.Grade
	Health     int
	Stages     quality.Stages
	Started    time.Time
	Finished   time.Time

	// Latency is only loaded by Get.
	Latency *Latency
}

// Store provides SQLite persistence for assessment runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// one connection: serializes writers and keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: configure database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	// unique_id is hex text: SQLite integers are signed 64-bit
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		jedec INTEGER NOT NULL,
		unique_id TEXT NOT NULL,
		capacity_mb INTEGER NOT NULL,
		grade TEXT NOT NULL,
		health INTEGER NOT NULL,
		stages INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		latency BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_runs_unique_id ON runs(unique_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives a finished run. The run ID must be a UUID.
func (s *Store) Save(ctx context.Context, r *quality.Result) error {
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("history: run id %q: %w", r.RunID, err)
	}

	blob, err := EncodeLatency(LatencyOf(r))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, jedec, unique_id, capacity_mb, grade, health, stages, started_at, finished_at, latency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.JEDEC, hexID(r.UniqueID), r.CapacityMB, r.Grade.String(), r.Health, uint8(r.Stages),
		r.Started.UTC(), r.Finished.UTC(), blob)
	if err != nil {
		return fmt.Errorf("history: save run %s: %w", r.RunID, err)
	}
	return nil
}

// Get retrieves a run, latency arrays included.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, jedec, unique_id, capacity_mb, grade, health, stages, started_at, finished_at, latency
		FROM runs WHERE id = ?
	`, id)

	var blob []byte
	run, err := scanRun(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get run %s: %w", id, err)
	}

	if len(blob) > 0 {
		lat, err := DecodeLatency(blob)
		if err != nil {
			return nil, err
		}
		run.Latency = &lat
	}
	return run, nil
}

// List returns the most recent runs, newest first, without latency.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, jedec, unique_id, capacity_mb, grade, health, stages, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return collect(rows)
}

// SeenUniqueID returns earlier runs that read the same factory unique
// ID, oldest first, excluding the run exclude. A unique ID shared by
// distinct parts indicates cloned counterfeits.
func (s *Store) SeenUniqueID(ctx context.Context, uniqueID uint64, exclude string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, jedec, unique_id, capacity_mb, grade, health, stages, started_at, finished_at
		FROM runs WHERE unique_id = ? AND id != ?
		ORDER BY started_at ASC
	`, hexID(uniqueID), exclude)
	if err != nil {
		return nil, fmt.Errorf("history: query unique id: %w", err)
	}
	return collect(rows)
}

// ---- scanning ----

type scanner interface {
	Scan(dest ...any) error
}

// scanRun reads the summary columns, plus the latency blob when blob
// is non-nil.
func scanRun(sc scanner, blob *[]byte) (*Run, error) {
	var (
		run      Run
		uid      string
		grade    string
		stages   uint8
		started  time.Time
		finished time.Time
	)
	dest := []any{&run.ID, &run.JEDEC, &uid, &run.CapacityMB, &grade, &run.Health, &stages, &started, &finished}
	if blob != nil {
		dest = append(dest, blob)
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	id, err := strconv.ParseUint(uid, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("unique id %q: %w", uid, err)
	}
	g, err := quality.ParseGrade(grade)
	if err != nil {
		return nil, err
	}

	run.UniqueID = id
	run.Grade = g
	run.Stages = quality.Stages(stages)
	run.Started = started
	run.Finished = finished
	return &run, nil
}

func collect(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func hexID(v uint64) string {
	return fmt.Sprintf("%016X", v)
}
