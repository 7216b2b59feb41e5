package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyaverett/mcp-agent/internal/observe"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "journal", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAndMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	v, err := db.currentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, db.Close())

	// Re-open is idempotent.
	db2, err := Open(ctx, "", path)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, DriverSQLite, db2.Driver())
	v, err = db2.currentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
	_, err = Open(context.Background(), DriverSQLite, "")
	assert.Error(t, err)
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", rebindDollar("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "UPDATE t SET s = '?' WHERE id = $1", rebindDollar("UPDATE t SET s = '?' WHERE id = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))

	db := &DB{driver: DriverSQLite}
	assert.Equal(t, "x = ?", db.rebind("x = ?"))
}

func TestMigrationNumber(t *testing.T) {
	n, err := migrationNumber("001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = migrationNumber("init.sql")
	assert.Error(t, err)
}

func emitRun(ctx context.Context, j *Journal, id string, start time.Time, fail bool) {
	tokens := 150.0
	at := start
	next := func() time.Time { at = at.Add(10 * time.Millisecond); return at }

	j.Emit(ctx, observe.Event{Time: at, RunID: id, Trigger: "cli", Kind: observe.KindRunStarted, State: "idle", Message: "read 'notes.txt'"})
	j.Emit(ctx, observe.Event{Time: next(), RunID: id, Kind: observe.KindStateChanged, State: "discovering"})
	j.Emit(ctx, observe.Event{Time: next(), RunID: id, Kind: observe.KindPhaseCompleted, Phase: "discover", Count: 1, TokensEstimate: &tokens, Duration: 40 * time.Millisecond})
	j.Emit(ctx, observe.Event{Time: next(), RunID: id, Kind: observe.KindStrategySelected, Strategy: "single", Server: "fs", Tool: "read_file"})
	j.Emit(ctx, observe.Event{Time: next(), RunID: id, Kind: observe.KindStateChanged, State: "executing"})
	fin := observe.Event{Time: next(), RunID: id, Kind: observe.KindRunFinished, State: "done", Strategy: "single", Duration: 250 * time.Millisecond}
	if fail {
		fin.State = "failed"
		fin.Err = "exec failed: server unreachable"
	}
	j.Emit(ctx, fin)
}

func TestJournalRecordsRun(t *testing.T) {
	j := NewJournal(openTestDB(t), zerolog.Nop())
	ctx := context.Background()
	start := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	emitRun(ctx, j, "run-1", start, false)

	r, err := j.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "read 'notes.txt'", r.Task)
	assert.Equal(t, "cli", r.Trigger)
	assert.Equal(t, "done", r.State)
	assert.Equal(t, "single", r.Strategy)
	assert.Equal(t, "fs", r.Server)
	assert.Empty(t, r.Error)
	assert.True(t, r.StartedAt.Equal(start))
	require.NotNil(t, r.FinishedAt)
	assert.Equal(t, 250*time.Millisecond, r.Duration)

	events, err := j.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 6)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.Equal(t, "run_started", events[0].Kind)
	assert.Equal(t, "discover", events[2].Phase)
	require.NotNil(t, events[2].TokensEstimate)
	assert.Equal(t, 150.0, *events[2].TokensEstimate)
	assert.Nil(t, events[2].ExecutionTime)
	assert.Equal(t, 40*time.Millisecond, events[2].Duration)
	assert.Equal(t, "run_finished", events[5].Kind)

	j.mu.Lock()
	assert.Empty(t, j.seq)
	j.mu.Unlock()
}

func TestJournalFailedRunAndQueries(t *testing.T) {
	j := NewJournal(openTestDB(t), zerolog.Nop())
	ctx := context.Background()
	now := time.Now()

	emitRun(ctx, j, "old", now.Add(-48*time.Hour), false)
	emitRun(ctx, j, "mid", now.Add(-2*time.Hour), true)
	emitRun(ctx, j, "new", now.Add(-time.Minute), false)

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.Equal(t, "failed", runs[1].State)
	assert.Equal(t, "exec failed: server unreachable", runs[1].Error)

	runs, err = j.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)

	n, err := j.PruneBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = j.GetRun(ctx, "old")
	assert.True(t, errors.Is(err, ErrNotFound))
	events, err := j.Events(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournalIgnoresEventsWithoutRun(t *testing.T) {
	j := NewJournal(openTestDB(t), zerolog.Nop())
	j.Emit(context.Background(), observe.Event{Kind: observe.KindBackendStderr, Message: "warming up"})

	runs, err := j.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestJournalWriteFailureIsSwallowed(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db, zerolog.Nop())
	require.NoError(t, db.Close())

	assert.NotPanics(t, func() {
		j.Emit(context.Background(), observe.Event{RunID: "r", Kind: observe.KindRunStarted, Message: "x"})
	})
}

func TestJournalCancelledContextStillWrites(t *testing.T) {
	j := NewJournal(openTestDB(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j.Emit(ctx, observe.Event{RunID: "r", Kind: observe.KindRunStarted, State: "idle", Message: "x"})
	_, err := j.GetRun(context.Background(), "r")
	assert.NoError(t, err)
}

func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("MCPAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MCPAGENT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	defer db.Close()

	j := NewJournal(db, zerolog.Nop())
	id := "pg-" + time.Now().Format("150405.000000")
	emitRun(ctx, j, id, time.Now(), false)

	r, err := j.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "done", r.State)
	events, err := j.Events(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 6)
	_, _ = db.exec(ctx, `DELETE FROM run_events WHERE run_id = ?`, id)
	_, _ = db.exec(ctx, `DELETE FROM runs WHERE id = ?`, id)
}
