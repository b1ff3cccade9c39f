// Package db is the sqlite run registry: one row per pipeline run plus the
// perf samples taken while it ran.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/squeakview/internal/metrics"
)

// ErrRunNotFound is returned when a run id has no registry row.
var ErrRunNotFound = errors.New("db: run not found")

type DB struct {
	*sql.DB
	path string
}

// connPragmas are applied on every pooled connection through the DSN.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// NewDB opens (creating if needed) the registry at path and migrates it to
// the latest embedded schema.
func NewDB(path string) (*DB, error) {
	dsn := "file:" + path
	for i, p := range connPragmas {
		if i == 0 {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dsn += "_pragma=" + p
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path is the file the registry was opened from.
func (db *DB) Path() string { return db.path }

// RunRecord is one registry row.
type RunRecord struct {
	ID        string     `json:"run_id"`
	Dir       string     `json:"dir"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	PoseMode  bool       `json:"pose_mode"`
	Keypoints int        `json:"keypoints"`
	Frames    int64      `json:"frames"`
	Rows      int64      `json:"rows"`
}

// StartRun inserts the registry row for a new run.
func (db *DB) StartRun(r RunRecord) error {
	_, err := db.Exec(
		`INSERT INTO runs (run_id, dir, started_unix, pose_mode, keypoints)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Dir, unixSeconds(r.StartedAt), r.PoseMode, r.Keypoints,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRunCounts records the latest progress of a run.
func (db *DB) UpdateRunCounts(id string, keypoints int, frames, rows int64) error {
	res, err := db.Exec(
		`UPDATE runs SET keypoints = ?, frames = ?, rows_written = ? WHERE run_id = ?`,
		keypoints, frames, rows, id,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// StopRun stamps the stop time. Stopping twice keeps the first stamp.
func (db *DB) StopRun(id string, at time.Time) error {
	res, err := db.Exec(
		`UPDATE runs SET stopped_unix = COALESCE(stopped_unix, ?) WHERE run_id = ?`,
		unixSeconds(at), id,
	)
	if err != nil {
		return fmt.Errorf("stop run %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

const runColumns = `run_id, dir, started_unix, stopped_unix, pose_mode, keypoints, frames, rows_written`

func scanRun(sc interface{ Scan(...any) error }) (RunRecord, error) {
	var (
		r       RunRecord
		started float64
		stopped sql.NullFloat64
	)
	if err := sc.Scan(&r.ID, &r.Dir, &started, &stopped, &r.PoseMode, &r.Keypoints, &r.Frames, &r.Rows); err != nil {
		return RunRecord{}, err
	}
	r.StartedAt = fromUnixSeconds(started)
	if stopped.Valid {
		t := fromUnixSeconds(stopped.Float64)
		r.StoppedAt = &t
	}
	return r, nil
}

// GetRun loads one run by id.
func (db *DB) GetRun(id string) (*RunRecord, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PerfSample is one perf tick. Nil values were unavailable at that tick.
type PerfSample struct {
	RunID        string    `json:"run_id"`
	At           time.Time `json:"at"`
	StreamingFPS *float64  `json:"streaming_fps"`
	InferenceFPS *float64  `json:"inference_fps"`
	LatencyMs    *float64  `json:"latency_ms"`
}

// SampleFromSnapshot maps a perf snapshot onto a registry sample.
func SampleFromSnapshot(runID string, s metrics.Snapshot) PerfSample {
	p := PerfSample{RunID: runID, At: s.Timestamp}
	if s.StreamOK {
		p.StreamingFPS = floatPtr(s.StreamFPS)
	}
	if s.InferOK {
		p.InferenceFPS = floatPtr(s.InferFPS)
	}
	if s.LatencyOK {
		p.LatencyMs = floatPtr(s.LatencyMs)
	}
	return p
}

func (db *DB) RecordPerfSample(s PerfSample) error {
	_, err := db.Exec(
		`INSERT INTO perf_samples (run_id, ts_unix, streaming_fps, inference_fps, latency_ms)
		 VALUES (?, ?, ?, ?, ?)`,
		s.RunID, unixSeconds(s.At), nullable(s.StreamingFPS), nullable(s.InferenceFPS), nullable(s.LatencyMs),
	)
	if err != nil {
		return fmt.Errorf("insert perf sample: %w", err)
	}
	return nil
}

// PerfSamples returns the latest limit samples of a run in time order.
func (db *DB) PerfSamples(runID string, limit int) ([]PerfSample, error) {
	if limit <= 0 {
		limit = 600
	}
	rows, err := db.Query(
		`SELECT ts_unix, streaming_fps, inference_fps, latency_ms FROM (
			SELECT sample_id, ts_unix, streaming_fps, inference_fps, latency_ms
			FROM perf_samples WHERE run_id = ?
			ORDER BY ts_unix DESC, sample_id DESC LIMIT ?
		) ORDER BY ts_unix ASC, sample_id ASC`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []PerfSample
	for rows.Next() {
		var (
			ts                  float64
			stream, infer, late sql.NullFloat64
		)
		if err := rows.Scan(&ts, &stream, &infer, &late); err != nil {
			return nil, err
		}
		samples = append(samples, PerfSample{
			RunID:        runID,
			At:           fromUnixSeconds(ts),
			StreamingFPS: fromNull(stream),
			InferenceFPS: fromNull(infer),
			LatencyMs:    fromNull(late),
		})
	}
	return samples, rows.Err()
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

func floatPtr(f float64) *float64 { return &f }

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return floatPtr(n.Float64)
}
