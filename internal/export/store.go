// Package export persists analysis results to a SQLite database so that
// several traces can be compared with plain SQL.
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/randomizedcoder/go-video-trace/internal/stats"
	"github.com/randomizedcoder/go-video-trace/internal/video"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Existing databases
// with another version are rejected rather than migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by another version.
var ErrSchemaMismatch = errors.New("export schema version mismatch")

// Run is one analyzed trace.
type Run struct {
	TraceID    string
	TraceName  string
	AnalyzedAt time.Time
	Data       *video.StreamingVideoData
	Compiled   *video.StreamingVideoCompiled // may be nil
	Rollup     *stats.Rollup
}

// Store writes runs to a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Save writes run in a single transaction and returns its row id.
func (s *Store) Save(ctx context.Context, run Run) (int64, error) {
	if run.Data == nil || run.Rollup == nil {
		return 0, errors.New("export: run has no data")
	}
	if run.AnalyzedAt.IsZero() {
		run.AnalyzedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin export tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runID, err := insertRun(ctx, tx, run)
	if err != nil {
		return 0, err
	}
	if err := insertStreams(ctx, tx, runID, run.Data); err != nil {
		return 0, err
	}
	if run.Compiled != nil {
		if err := insertSegments(ctx, tx, runID, run.Compiled); err != nil {
			return 0, err
		}
		if err := insertStalls(ctx, tx, runID, run.Compiled.Stalls); err != nil {
			return 0, err
		}
	}
	if err := insertFailures(ctx, tx, runID, run.Data.FailedRequests()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	return runID, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run) (int64, error) {
	r := run.Rollup
	c := r.Counters
	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (
            trace_id, trace_name, analyzed_at, streams, startup_delay, play_seconds,
            stalls, stall_seconds, gaps, segments_total, valid, invalid, duplicates, missing, failed
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TraceID,
		nullableString(run.TraceName),
		run.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		r.Streams,
		r.StartupDelay,
		r.PlayDuration,
		r.Stalls,
		r.StallTime,
		r.Gaps,
		c.Total,
		c.Valid,
		c.Invalid,
		c.Duplicates,
		c.Missing,
		c.Failed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func insertStreams(ctx context.Context, tx *sql.Tx, runID int64, data *video.StreamingVideoData) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO streams (run_id, stream_id, manifest_uri, format, request_time, valid, selected, events)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare streams: %w", err)
	}
	defer stmt.Close()

	for _, st := range data.Streams() {
		var uri, format string
		if st.Manifest != nil {
			uri = st.Manifest.URI
			format = st.Manifest.Type.String()
		}
		if _, err := stmt.ExecContext(ctx,
			runID, st.ID, nullableString(uri), nullableString(format),
			st.RequestTime, st.Valid, st.Selected, st.Len(),
		); err != nil {
			return fmt.Errorf("insert stream %s: %w", st.ID, err)
		}
	}
	return nil
}

func insertSegments(ctx context.Context, tx *sql.Tx, runID int64, c *video.StreamingVideoCompiled) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments (
            run_id, content_type, quality, segment_id, bitrate, size, start_ts, end_ts,
            segment_start, duration, play_time, stall_time, uri
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare segments: %w", err)
	}
	defer stmt.Close()

	played := make([]*video.VideoEvent, 0, len(c.Segments)+len(c.Audio))
	played = append(played, c.Segments...)
	played = append(played, c.Audio...)
	for _, ev := range played {
		var uri string
		if ev.Exchange != nil {
			uri = ev.Exchange.URL()
		}
		if _, err := stmt.ExecContext(ctx,
			runID, ev.ContentType.String(), nullableString(ev.Label()), ev.SegmentID,
			ev.Bitrate, ev.Size, ev.StartTS, ev.EndTS,
			ev.SegmentStartTime, ev.Duration, ev.PlayTime, ev.StallTime, nullableString(uri),
		); err != nil {
			return fmt.Errorf("insert segment %d: %w", ev.SegmentID, err)
		}
	}
	return nil
}

func insertStalls(ctx context.Context, tx *sql.Tx, runID int64, stalls []video.Stall) error {
	for _, st := range stalls {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stalls (run_id, play_time, duration, segment_id, quality, content_type)
            VALUES (?, ?, ?, ?, ?, ?)`,
			runID, st.Time, st.Duration, st.SegmentID, nullableString(st.Quality), st.ContentType.String(),
		); err != nil {
			return fmt.Errorf("insert stall: %w", err)
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, runID int64, failed []video.FailedRequest) error {
	for _, fr := range failed {
		var (
			uri    string
			status any
			req    any
		)
		if ex := fr.Exchange; ex != nil {
			uri = ex.URL()
			status = ex.StatusCode
			req = ex.RequestTime
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, uri, status, request_time, reason, detail)
            VALUES (?, ?, ?, ?, ?, ?)`,
			runID, nullableString(uri), status, req, fr.Reason.String(), nullableString(fr.Detail),
		); err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}
	return nil
}

// RunSummary is a row of the runs table.
type RunSummary struct {
	ID        int64
	TraceID   string
	TraceName string
	Valid     int
	Stalls    int
	Failed    int
}

// Runs lists the stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, trace_id, COALESCE(trace_name, ''), valid, stalls, failed FROM runs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.TraceID, &r.TraceName, &r.Valid, &r.Stalls, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
