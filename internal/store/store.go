// Package store keeps run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/houzhh15/chunkscribe/internal/pipeline"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// timeLayout 固定宽度，保证按字符串排序即按时间排序
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one row of run history.
type Run struct {
	ID           string           `json:"id"`
	AudioPath    string           `json:"audio_path"`
	Status       string           `json:"status"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Language     string           `json:"language,omitempty"`
	Segments     int              `json:"segments"`
	SuccessRate  float64          `json:"success_rate"`
	DurationSec  float64          `json:"duration_sec"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at,omitzero"`
	Result       *pipeline.Result `json:"result,omitempty"`
}

// Store wraps a SQLite-backed run history.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open creates the database file (and its directory) if needed and migrates the schema.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    audio_path TEXT NOT NULL,
    status TEXT NOT NULL,
    error_code TEXT,
    error_message TEXT,
    language TEXT,
    segments INTEGER NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    duration_sec REAL NOT NULL DEFAULT 0,
    result_json TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkRunning records an accepted run before it starts.
func (s *Store) MarkRunning(ctx context.Context, runID, audioPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, audio_path, status, started_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET status=excluded.status, started_at=excluded.started_at`,
		runID, audioPath, StatusRunning, formatTime(s.clock()))
	return err
}

// SaveRun implements pipeline.Recorder.
func (s *Store) SaveRun(ctx context.Context, rec pipeline.RunRecord) error {
	status := StatusSucceeded
	var code, msg, lang, blob sql.NullString
	segments, rate, dur := 0, 0.0, 0.0

	if rec.Err != nil {
		status = StatusFailed
		code = nullString(string(pipeline.CodeOf(rec.Err)))
		msg = nullString(rec.Err.Error())
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		blob = nullString(string(data))
		lang = nullString(rec.Result.Transcript.Language)
		segments = len(rec.Result.Transcript.Segments)
		rate = rec.Result.Metadata.SuccessRate
		dur = rec.Result.Metadata.TotalDurationSec
	}

	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	finishedAt := rec.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, audio_path, status, error_code, error_message, language, segments, success_rate, duration_sec, result_json, started_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, error_code=excluded.error_code, error_message=excluded.error_message,
		   language=excluded.language, segments=excluded.segments, success_rate=excluded.success_rate,
		   duration_sec=excluded.duration_sec, result_json=excluded.result_json, finished_at=excluded.finished_at`,
		rec.RunID, rec.AudioPath, status, code, msg, lang, segments, rate, dur, blob,
		formatTime(startedAt), formatTime(finishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	s.log.Debug("run recorded", "run_id", rec.RunID, "status", status)
	return nil
}

// GetRun returns one run including its full result.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, audio_path, status, error_code, error_message, language, segments, success_rate, duration_sec, result_json, started_at, finished_at
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first, without their results.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, audio_path, status, error_code, error_message, language, segments, success_rate, duration_sec, NULL, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, withResult bool) (*Run, error) {
	var r Run
	var code, msg, lang, blob, finished sql.NullString
	var started string
	if err := sc.Scan(&r.ID, &r.AudioPath, &r.Status, &code, &msg, &lang, &r.Segments, &r.SuccessRate, &r.DurationSec, &blob, &started, &finished); err != nil {
		return nil, err
	}
	r.ErrorCode, r.ErrorMessage, r.Language = code.String, msg.String, lang.String
	if ts, err := time.Parse(timeLayout, started); err == nil {
		r.StartedAt = ts
	}
	if finished.Valid {
		if ts, err := time.Parse(timeLayout, finished.String); err == nil {
			r.FinishedAt = ts
		}
	}
	if withResult && blob.Valid && blob.String != "" {
		var res pipeline.Result
		if err := json.Unmarshal([]byte(blob.String), &res); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", r.ID, err)
		}
		r.Result = &res
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
