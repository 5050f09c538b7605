package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DBLogHandler is a slog.Handler that writes records to research_logs
// and optionally forwards them to another handler for console output.
type DBLogHandler struct {
	DB    Execer
	RunID uuid.UUID
	Next  slog.Handler
	Level slog.Leveler

	attrs  []slog.Attr
	groups []string
}

func NewDBLogHandler(db Execer, runID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{DB: db, RunID: runID, Next: next, Level: slog.LevelInfo}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.Next != nil && h.Next.Enabled(ctx, level) {
		return true
	}
	return level >= h.minLevel()
}

func (h *DBLogHandler) minLevel() slog.Level {
	if h.Level == nil {
		return slog.LevelInfo
	}
	return h.Level.Level()
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var nextErr error
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		nextErr = h.Next.Handle(ctx, r)
	}
	if r.Level < h.minLevel() {
		return nextErr
	}

	metaJSON, err := json.Marshal(h.metadata(r))
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Use background context so logs persist even when the run context is cancelled
	if _, err := h.DB.Exec(context.Background(), query, h.RunID, r.Time, r.Level.String(), r.Message, metaJSON); err != nil {
		return fmt.Errorf("failed to write log record: %w", err)
	}
	return nextErr
}

// metadata flattens handler and record attributes into a JSON-ready map.
// Groups become dotted key prefixes.
func (h *DBLogHandler) metadata(r slog.Record) map[string]any {
	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, "", a)
	}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(meta, prefix, a)
		return true
	})
	return meta
}

func addAttr(meta map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(meta, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	switch val := v.Any().(type) {
	case error:
		meta[prefix+a.Key] = val.Error()
	case fmt.Stringer:
		meta[prefix+a.Key] = val.String()
	default:
		meta[prefix+a.Key] = val
	}
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return &clone
}
