// Package store keeps a history of aggregation runs and per-source
// outcomes in SQLite, so source health can be tracked across runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/executor"
)

var errNotInitialized = errors.New("store is not initialized")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one recorded aggregation or briefing run.
type Run struct {
	ID                string
	Mode              string
	Status            string
	StartedAt         time.Time
	Duration          time.Duration
	Posts             int
	SuccessfulSources int
	FailedSources     int
	Invalid           int
	Duplicates        int
	Topics            *int  // briefing runs only
	Fallback          *bool // briefing runs only
	Outcomes          []SourceOutcome
}

// SourceOutcome is one source's result within a run.
type SourceOutcome struct {
	Platform string
	Source   string
	Status   string
	Kind     string
	Error    string
	Posts    int
	Duration time.Duration
}

// RunFromResult converts an aggregation result into a Run. b may be nil.
func RunFromResult(mode string, res *aggregate.Result, b *briefing.Briefing) Run {
	run := Run{
		Mode:              mode,
		Status:            string(res.Status),
		StartedAt:         res.StartedAt,
		Duration:          res.Duration,
		Posts:             len(res.Posts),
		SuccessfulSources: res.SuccessfulSources,
		FailedSources:     res.FailedSources,
		Invalid:           res.Invalid,
		Duplicates:        res.Duplicates,
	}
	if b != nil {
		topics, fallback := len(b.Topics), b.Fallback
		run.Topics, run.Fallback = &topics, &fallback
	}
	for _, o := range res.Outcomes {
		so := SourceOutcome{
			Platform: o.Platform,
			Status:   string(o.Status),
			Kind:     string(o.ErrorKind()),
			Posts:    len(o.Posts),
			Duration: o.Duration,
		}
		if o.Err != nil {
			so.Error = o.Err.Err.Error()
		}
		if len(o.Sources) == 1 {
			so.Source = o.Sources[0]
			run.Outcomes = append(run.Outcomes, so)
			continue
		}
		// Timeframe outcomes cover several sources. Each row gets the posts
		// that came from its source; duration is the shared call's.
		perSource := make(map[string]int, len(o.Sources))
		for _, p := range o.Posts {
			perSource[p.Source]++
		}
		for _, src := range o.Sources {
			row := so
			row.Source = src
			row.Posts = perSource[src]
			if o.Succeeded() {
				row.Status = string(executor.StatusEmpty)
				if row.Posts > 0 {
					row.Status = string(executor.StatusSuccess)
				}
			}
			run.Outcomes = append(run.Outcomes, row)
		}
	}
	return run
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores run and its outcomes in one transaction and returns the
// generated run id.
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	if strings.TrimSpace(run.Mode) == "" {
		return "", errors.New("mode is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	id := uuid.NewString()
	recordedAt := formatTime(run.StartedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin record transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs(id, mode, status, started_at, duration_ms, posts,
			successful_sources, failed_sources, invalid, duplicates, topics, fallback)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.Mode, run.Status, recordedAt, run.Duration.Milliseconds(), run.Posts,
		run.SuccessfulSources, run.FailedSources, run.Invalid, run.Duplicates,
		nullInt(run.Topics), nullBool(run.Fallback),
	)
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO source_outcomes(run_id, platform, source, status, kind, error, posts, duration_ms, recorded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range run.Outcomes {
		if _, err := stmt.ExecContext(ctx,
			id, o.Platform, o.Source, o.Status, nullString(o.Kind), nullString(o.Error),
			o.Posts, o.Duration.Milliseconds(), recordedAt,
		); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("insert outcome %s/%s: %w", o.Platform, o.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first, without outcomes.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, status, started_at, duration_ms, posts,
			successful_sources, failed_sources, invalid, duplicates, topics, fallback
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			durationMs int64
			topics     sql.NullInt64
			fallback   sql.NullBool
		)
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &startedAt, &durationMs, &r.Posts,
			&r.SuccessfulSources, &r.FailedSources, &r.Invalid, &r.Duplicates, &topics, &fallback); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if topics.Valid {
			n := int(topics.Int64)
			r.Topics = &n
		}
		if fallback.Valid {
			r.Fallback = &fallback.Bool
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// SourceHealth aggregates outcomes for one source.
type SourceHealth struct {
	Platform    string
	Source      string
	Attempts    int
	Successes   int
	Timeouts    int
	Failures    int // includes timeouts
	Posts       int
	AvgDuration time.Duration
	LastStatus  string
	LastKind    string
	LastError   string
	LastSeen    time.Time
}

// SuccessRate returns the share of successful attempts in [0, 1].
func (h SourceHealth) SuccessRate() float64 {
	if h.Attempts == 0 {
		return 0
	}
	return float64(h.Successes) / float64(h.Attempts)
}

// SourceHealth returns per-source aggregates for outcomes since the given
// time, ordered by platform and source.
func (s *Store) SourceHealth(ctx context.Context, since time.Time) ([]SourceHealth, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.platform, o.source,
			COUNT(*) AS attempts,
			SUM(CASE WHEN o.status IN ('success', 'empty') THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN o.status = 'timeout' THEN 1 ELSE 0 END) AS timeouts,
			SUM(o.posts) AS posts,
			CAST(AVG(o.duration_ms) AS INTEGER) AS avg_ms,
			MAX(o.recorded_at) AS last_seen,
			(SELECT l.status FROM source_outcomes l
				WHERE l.platform = o.platform AND l.source = o.source
				ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1) AS last_status,
			(SELECT COALESCE(l.kind, '') FROM source_outcomes l
				WHERE l.platform = o.platform AND l.source = o.source
				ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1) AS last_kind,
			(SELECT COALESCE(l.error, '') FROM source_outcomes l
				WHERE l.platform = o.platform AND l.source = o.source
				ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1) AS last_error
		FROM source_outcomes o
		WHERE o.recorded_at >= ?
		GROUP BY o.platform, o.source
		ORDER BY o.platform, o.source
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("get source health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var health []SourceHealth
	for rows.Next() {
		var (
			h        SourceHealth
			avgMs    int64
			lastSeen string
		)
		if err := rows.Scan(&h.Platform, &h.Source, &h.Attempts, &h.Successes, &h.Timeouts, &h.Posts,
			&avgMs, &lastSeen, &h.LastStatus, &h.LastKind, &h.LastError); err != nil {
			return nil, fmt.Errorf("scan source health: %w", err)
		}
		h.Failures = h.Attempts - h.Successes
		h.AvgDuration = time.Duration(avgMs) * time.Millisecond
		if h.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parse last_seen: %w", err)
		}
		health = append(health, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source health: %w", err)
	}
	return health, nil
}

// PruneOld deletes runs older than retainDays. Their outcomes are
// cascade-deleted. Returns the number of runs removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(s.now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
