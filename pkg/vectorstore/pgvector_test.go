package vectorstore

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid standard", "research_archive", true},
		{"Valid with underscore", "my_collection", true},
		{"Valid with numbers", "collection123", true},
		{"Valid short", "a", true},
		{"Valid max length", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", true}, // 63 chars
		{"Invalid start with number", "1collection", false},
		{"Invalid special chars", "collection-name", false},
		{"Invalid space", "collection name", false},
		{"Invalid SQL injection", "users; DROP TABLE embeddings", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789__", false}, // 64 chars
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidTableName(tt.input))
		})
	}
}

func TestContainment(t *testing.T) {
	tests := []struct {
		name      string
		filter    map[string]any
		wantWhere string
		wantJSON  string
		wantErr   bool
	}{
		{name: "nil filter", filter: nil, wantWhere: "TRUE"},
		{name: "empty filter", filter: map[string]any{}, wantWhere: "TRUE"},
		{
			name:      "run id",
			filter:    map[string]any{"run_id": "2f1c"},
			wantWhere: "metadata @> $1",
			wantJSON:  `{"run_id": "2f1c"}`,
		},
		{
			name:      "several keys share one argument",
			filter:    map[string]any{"run_id": "2f1c", "kind": "finding", "iteration": 2},
			wantWhere: "metadata @> $1",
			wantJSON:  `{"run_id": "2f1c", "kind": "finding", "iteration": 2}`,
		},
		{name: "operator key", filter: map[string]any{"$or": []any{}}, wantErr: true},
		{name: "blank key", filter: map[string]any{"": 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []any
			where, err := containment(tt.filter, &args)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, args)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWhere, where)
			if tt.wantJSON == "" {
				assert.Empty(t, args)
				return
			}
			require.Len(t, args, 1)
			assert.JSONEq(t, tt.wantJSON, string(args[0].([]byte)))
		})
	}
}

func TestContainmentContinuesPlaceholders(t *testing.T) {
	args := []any{"query embedding"}

	where, err := containment(map[string]any{"run_id": "abc"}, &args)
	require.NoError(t, err)
	assert.Equal(t, "metadata @> $2", where)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"run_id": "abc"}`, string(args[1].([]byte)))
}

type execRecorder struct {
	DB
	sql  string
	args []any
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return pgconn.NewCommandTag("DELETE 4"), nil
}

func TestDeleteByMetadata(t *testing.T) {
	db := &execRecorder{}
	vs, err := NewPGVectorStore(db, "research_archive")
	require.NoError(t, err)

	n, err := vs.DeleteByMetadata(context.Background(), map[string]any{"run_id": "abc"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, `DELETE FROM "research_archive" WHERE metadata @> $1`, db.sql)
	require.Len(t, db.args, 1)
	assert.JSONEq(t, `{"run_id": "abc"}`, string(db.args[0].([]byte)))
}

func TestDeleteByMetadataRequiresFilter(t *testing.T) {
	db := &execRecorder{}
	vs := &PGVectorStore{pool: db, tableName: "research_archive"}

	_, err := vs.DeleteByMetadata(context.Background(), nil)
	assert.Error(t, err)
	assert.Empty(t, db.sql)

	_, err = vs.DeleteByMetadata(context.Background(), map[string]any{"$not": map[string]any{}})
	assert.Error(t, err)
	assert.Empty(t, db.sql)
}
