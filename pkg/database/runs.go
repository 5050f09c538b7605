package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/research"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Run struct {
	ID              uuid.UUID       `json:"id"`
	Query           string          `json:"query"`
	Status          string          `json:"status"`
	MaxIterations   int             `json:"max_iterations"`
	ConfidenceScore *float64        `json:"confidence_score,omitempty"`
	TotalSources    *int            `json:"total_sources,omitempty"`
	Report          json.RawMessage `json:"report,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IterationRecord is the per-iteration row kept alongside a run.
type IterationRecord struct {
	IterationNumber   int      `json:"iteration_number"`
	ConfidenceScore   int      `json:"confidence_score"`
	NeedsMoreResearch bool     `json:"needs_more_research"`
	Queries           []string `json:"queries"`
	HitCount          int      `json:"hit_count"`
	SummaryCount      int      `json:"summary_count"`
}

func NewIterationRecord(it research.Iteration) IterationRecord {
	queries := it.Queries
	if queries == nil {
		queries = []string{}
	}
	return IterationRecord{
		IterationNumber:   it.IterationNumber,
		ConfidenceScore:   it.Synthesis.ConfidenceScore,
		NeedsMoreResearch: it.Synthesis.NeedsMoreResearch,
		Queries:           queries,
		HitCount:          len(it.SearchResults),
		SummaryCount:      len(it.Summaries),
	}
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// RunStore reads and writes the run archive.
type RunStore struct {
	DB Querier
}

func NewRunStore(db *PostgresDB) *RunStore {
	return &RunStore{DB: db.Pool}
}

func (s *RunStore) CreateRun(ctx context.Context, query string, maxIterations int) (*Run, error) {
	sql := `
		INSERT INTO research_runs (id, query, status, max_iterations)
		VALUES ($1, $2, $3, $4)
		RETURNING id, query, status, max_iterations, created_at, updated_at
	`
	run := &Run{}
	err := s.DB.QueryRow(ctx, sql, uuid.New(), query, StatusRunning, maxIterations).Scan(
		&run.ID, &run.Query, &run.Status, &run.MaxIterations, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *RunStore) RecordIteration(ctx context.Context, runID uuid.UUID, it research.Iteration) error {
	rec := NewIterationRecord(it)
	queriesJSON, err := json.Marshal(rec.Queries)
	if err != nil {
		return fmt.Errorf("failed to marshal queries: %w", err)
	}

	_, err = s.DB.Exec(ctx, `
		INSERT INTO research_iterations
			(run_id, iteration_number, confidence_score, needs_more_research, queries, hit_count, summary_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, iteration_number) DO NOTHING
	`, runID, rec.IterationNumber, rec.ConfidenceScore, rec.NeedsMoreResearch, queriesJSON, rec.HitCount, rec.SummaryCount)
	if err != nil {
		return fmt.Errorf("failed to record iteration %d: %w", rec.IterationNumber, err)
	}

	_, _ = s.DB.Exec(ctx, "UPDATE research_runs SET updated_at = NOW() WHERE id = $1", runID)
	return nil
}

// CompleteRun stores the storage form of the report and marks the run completed.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, r *research.ResearchReport, previewLength int) error {
	reportJSON, err := json.Marshal(r.ForStorage(previewLength))
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tag, err := s.DB.Exec(ctx, `
		UPDATE research_runs
		SET status = $2, confidence_score = $3, total_sources = $4, report = $5, updated_at = NOW()
		WHERE id = $1
	`, runID, StatusCompleted, r.ConfidenceScore, r.TotalSources, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *RunStore) FailRun(ctx context.Context, runID uuid.UUID, reason string) error {
	_, err := s.DB.Exec(ctx,
		"UPDATE research_runs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1",
		runID, StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

const runColumns = `id, query, status, max_iterations, confidence_score, total_sources, report, error, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.Query, &run.Status, &run.MaxIterations, &run.ConfidenceScore,
		&run.TotalSources, &run.Report, &run.Error, &run.CreatedAt, &run.UpdatedAt,
	)
	return run, err
}

func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(s.DB.QueryRow(ctx, "SELECT "+runColumns+" FROM research_runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. The report body is omitted.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, query, status, max_iterations, confidence_score, total_sources, NULL::jsonb, error, created_at, updated_at
		FROM research_runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *RunStore) ListIterations(ctx context.Context, runID uuid.UUID) ([]IterationRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT iteration_number, confidence_score, needs_more_research, queries, hit_count, summary_count
		FROM research_iterations
		WHERE run_id = $1
		ORDER BY iteration_number ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var records []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var queries []byte
		if err := rows.Scan(&rec.IterationNumber, &rec.ConfidenceScore, &rec.NeedsMoreResearch, &queries, &rec.HitCount, &rec.SummaryCount); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal(queries, &rec.Queries); err != nil {
			return nil, fmt.Errorf("failed to decode queries: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *RunStore) GetRunLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}
