package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/research"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements. QueryRow answers with row; Query is unsupported.
type fakeDB struct {
	mu    sync.Mutex
	calls []execCall
	tag   string
	err   error
	row   pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	tag := f.tag
	if tag == "" {
		tag = "UPDATE 1"
	}
	return pgconn.NewCommandTag(tag), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestNewIterationRecord(t *testing.T) {
	it := research.Iteration{
		IterationNumber: 2,
		Queries:         []string{"a", "b"},
		SearchResults:   make([]research.SearchHit, 5),
		Summaries:       make([]research.Summary, 3),
		Synthesis:       research.SynthesisResult{ConfidenceScore: 6, NeedsMoreResearch: true},
	}

	rec := NewIterationRecord(it)
	assert.Equal(t, IterationRecord{
		IterationNumber:   2,
		ConfidenceScore:   6,
		NeedsMoreResearch: true,
		Queries:           []string{"a", "b"},
		HitCount:          5,
		SummaryCount:      3,
	}, rec)

	assert.NotNil(t, NewIterationRecord(research.Iteration{}).Queries)
}

func TestRecordIteration(t *testing.T) {
	db := &fakeDB{}
	store := &RunStore{DB: db}
	runID := uuid.New()

	err := store.RecordIteration(context.Background(), runID, research.Iteration{IterationNumber: 1, Queries: []string{"q"}})
	require.NoError(t, err)
	require.Len(t, db.calls, 2)
	assert.Contains(t, db.calls[0].sql, "INSERT INTO research_iterations")
	assert.Equal(t, runID, db.calls[0].args[0])
	assert.JSONEq(t, `["q"]`, string(db.calls[0].args[4].([]byte)))
}

func TestCompleteRun(t *testing.T) {
	r := &research.ResearchReport{
		OriginalQuery:   "q",
		ConfidenceScore: 8,
		TotalSources:    4,
		Iterations: []research.Iteration{{
			IterationNumber: 1,
			SearchResults:   []research.SearchHit{{URL: "u", Content: "0123456789"}},
		}},
	}

	t.Run("stores the preview", func(t *testing.T) {
		db := &fakeDB{}
		require.NoError(t, (&RunStore{DB: db}).CompleteRun(context.Background(), uuid.New(), r, 4))

		require.Len(t, db.calls, 1)
		args := db.calls[0].args
		assert.Equal(t, StatusCompleted, args[1])
		assert.Equal(t, 8.0, args[2])
		assert.Equal(t, 4, args[3])

		var stored research.ResearchReport
		require.NoError(t, json.Unmarshal(args[4].([]byte), &stored))
		assert.Equal(t, "0123...", stored.Iterations[0].SearchResults[0].Content)
	})

	t.Run("unknown run", func(t *testing.T) {
		db := &fakeDB{tag: "UPDATE 0"}
		err := (&RunStore{DB: db}).CompleteRun(context.Background(), uuid.New(), r, 4)
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestFailRun(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, (&RunStore{DB: db}).FailRun(context.Background(), uuid.New(), "missing credentials"))
	assert.Equal(t, StatusFailed, db.calls[0].args[1])
	assert.Equal(t, "missing credentials", db.calls[0].args[2])

	db = &fakeDB{err: errors.New("connection refused")}
	assert.Error(t, (&RunStore{DB: db}).FailRun(context.Background(), uuid.New(), "x"))
}

func TestGetRunNotFound(t *testing.T) {
	db := &fakeDB{row: errRow{err: pgx.ErrNoRows}}
	_, err := (&RunStore{DB: db}).GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestDBLogHandler(t *testing.T) {
	db := &fakeDB{}
	var console bytes.Buffer
	runID := uuid.New()
	next := slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(NewDBLogHandler(db, runID, next)).
		With("component", "engine").
		WithGroup("iter")

	logger.Debug("debug goes to console only")
	logger.Info("Iteration complete", "number", 2, "error", errors.New("boom"))

	require.Len(t, db.calls, 1, "debug records stay out of the database")
	args := db.calls[0].args
	assert.Equal(t, runID, args[0])
	assert.Equal(t, "INFO", args[2])
	assert.Equal(t, "Iteration complete", args[3])

	var meta map[string]any
	require.NoError(t, json.Unmarshal(args[4].([]byte), &meta))
	assert.Equal(t, "engine", meta["component"])
	assert.Equal(t, float64(2), meta["iter.number"])
	assert.Equal(t, "boom", meta["iter.error"])

	assert.Contains(t, console.String(), "debug goes to console only")
	assert.Contains(t, console.String(), "Iteration complete")
}

func TestDBLogHandlerWithoutConsole(t *testing.T) {
	db := &fakeDB{err: errors.New("down")}
	h := NewDBLogHandler(db, uuid.New(), nil)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "x", 0))
	assert.Error(t, err)
}
