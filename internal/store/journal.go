package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/observe"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

const journalWriteTimeout = 2 * time.Second

// Run is one journaled orchestration run.
type Run struct {
	ID         string        `json:"id"`
	Task       string        `json:"task"`
	Trigger    string        `json:"trigger"`
	State      string        `json:"state"`
	Strategy   string        `json:"strategy,omitempty"`
	Server     string        `json:"server,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// RunEvent is one journaled event of a run.
type RunEvent struct {
	Seq            int           `json:"seq"`
	Time           time.Time     `json:"time"`
	Kind           string        `json:"kind"`
	State          string        `json:"state,omitempty"`
	Phase          string        `json:"phase,omitempty"`
	Strategy       string        `json:"strategy,omitempty"`
	Server         string        `json:"server,omitempty"`
	Tool           string        `json:"tool,omitempty"`
	Count          int           `json:"count,omitempty"`
	TokensEstimate *float64      `json:"tokensEstimate,omitempty"`
	ExecutionTime  *float64      `json:"executionTime,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	Message        string        `json:"message,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Journal records runs as an observe.Sink and answers queries about them.
// Writes are best-effort: failures are logged and never reach the run.
type Journal struct {
	db     *DB
	logger zerolog.Logger

	mu  sync.Mutex
	seq map[string]int
}

func NewJournal(db *DB, logger zerolog.Logger) *Journal {
	return &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
		seq:    make(map[string]int),
	}
}

func (j *Journal) Emit(ctx context.Context, e observe.Event) {
	if e.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	defer cancel()

	if err := j.record(ctx, e); err != nil {
		j.logger.Warn().Err(err).Str("run_id", e.RunID).Str("kind", string(e.Kind)).Msg("journal write failed")
	}
}

func (j *Journal) record(ctx context.Context, e observe.Event) error {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	var err error
	switch e.Kind {
	case observe.KindRunStarted:
		_, err = j.db.exec(ctx,
			`INSERT INTO runs (id, task, trigger_name, state, started_at) VALUES (?, ?, ?, ?, ?)`,
			e.RunID, e.Message, e.Trigger, e.State, at.UnixMilli())
	case observe.KindStateChanged:
		_, err = j.db.exec(ctx, `UPDATE runs SET state = ? WHERE id = ?`, e.State, e.RunID)
	case observe.KindStrategySelected:
		_, err = j.db.exec(ctx, `UPDATE runs SET strategy = ?, server = ? WHERE id = ?`, e.Strategy, e.Server, e.RunID)
	case observe.KindRunFinished:
		_, err = j.db.exec(ctx,
			`UPDATE runs SET state = ?, error = ?, finished_at = ?, duration_ms = ? WHERE id = ?`,
			e.State, e.Err, at.UnixMilli(), e.Duration.Milliseconds(), e.RunID)
	}
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	seq := j.nextSeq(e.RunID, e.Kind == observe.KindRunFinished)
	_, err = j.db.exec(ctx,
		`INSERT INTO run_events (run_id, seq, at, kind, state, phase, strategy, server, tool, count,
			tokens_estimate, execution_time, duration_ms, message, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, seq, at.UnixMilli(), string(e.Kind), e.State, e.Phase, e.Strategy, e.Server, e.Tool, e.Count,
		nullFloat(e.TokensEstimate), nullFloat(e.ExecutionTime), e.Duration.Milliseconds(), e.Message, e.Err)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// nextSeq numbers events per run. The counter is dropped when the run
// finishes.
func (j *Journal) nextSeq(runID string, last bool) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := j.seq[runID] + 1
	if last {
		delete(j.seq, runID)
	} else {
		j.seq[runID] = n
	}
	return n
}

const runColumns = `id, task, trigger_name, state, strategy, server, error, started_at, finished_at, duration_ms`

// ListRuns returns the most recent runs first. limit <= 0 means 20.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run or ErrNotFound.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(j.db.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// Events returns the events of a run in emission order.
func (j *Journal) Events(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := j.db.query(ctx, `SELECT seq, at, kind, state, phase, strategy, server, tool, count,
		tokens_estimate, execution_time, duration_ms, message, error
		FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("events of %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []RunEvent
	for rows.Next() {
		var (
			ev         RunEvent
			at, durMS  int64
			tokens, et sql.NullFloat64
		)
		if err := rows.Scan(&ev.Seq, &at, &ev.Kind, &ev.State, &ev.Phase, &ev.Strategy, &ev.Server, &ev.Tool,
			&ev.Count, &tokens, &et, &durMS, &ev.Message, &ev.Error); err != nil {
			return nil, fmt.Errorf("events of %s: %w", runID, err)
		}
		ev.Time = time.UnixMilli(at)
		ev.Duration = time.Duration(durMS) * time.Millisecond
		ev.TokensEstimate = floatPtr(tokens)
		ev.ExecutionTime = floatPtr(et)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneBefore deletes runs started before t along with their events and
// reports how many runs were removed.
func (j *Journal) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	cutoff := t.UnixMilli()
	if _, err := j.db.exec(ctx,
		`DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	res, err := j.db.exec(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r               Run
		started         int64
		finished, durMS sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Task, &r.Trigger, &r.State, &r.Strategy, &r.Server, &r.Error,
		&started, &finished, &durMS); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	if durMS.Valid {
		r.Duration = time.Duration(durMS.Int64) * time.Millisecond
	}
	return &r, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
