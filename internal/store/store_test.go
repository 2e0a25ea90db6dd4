package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/hooks"
	"github.com/soyeahso/querydesk/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NoError(t, db.Ping())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/audit.db"
	db, err := Open(path, logging.New(nil, "silent"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"runs", "tool_calls"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Audit log tests ---

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:           id,
		Profile:      "sql",
		UserID:       "alice",
		SessionID:    "sess-1",
		Question:     "how many orders?",
		Answer:       "There are 3 orders.",
		Status:       "answered",
		Iterations:   2,
		InputTokens:  120,
		OutputTokens: 15,
		StartedAt:    started,
		Duration:     1500 * time.Millisecond,
	}
}

func TestAudit_RecordAndReadRuns(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, audit.RecordRun(ctx, sampleRun("run-1", base)))
	require.NoError(t, audit.RecordRun(ctx, sampleRun("run-2", base.Add(time.Minute))))
	other := sampleRun("run-3", base)
	other.UserID = "bob"
	require.NoError(t, audit.RecordRun(ctx, other))

	runs, err := audit.RecentRuns(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, base, runs[1].StartedAt)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.Equal(t, 120, runs[1].InputTokens)

	runs, err = audit.RecentRuns(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAudit_DuplicateRunFails(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	ctx := context.Background()

	require.NoError(t, audit.RecordRun(ctx, sampleRun("run-1", time.Now())))
	err := audit.RecordRun(ctx, sampleRun("run-1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording run run-1")
}

func TestAudit_ToolCallRequiresRun(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	err := audit.RecordToolCall(context.Background(), ToolCallRecord{RunID: "missing", Seq: 1, CallID: "c1", Name: "sql_query"})
	assert.Error(t, err)
}

func TestAudit_RecordTrace(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	ctx := context.Background()

	ok := domain.NewSuccess(domain.KindTabular, domain.TabularPayload{}, "SELECT COUNT(*) FROM orders", 1)
	bad := domain.NewFailure("query rejected: only SELECT").WithQuery("DELETE FROM orders")
	calls := []domain.ToolCall{
		{ID: "c1", Name: "sql_query", Arguments: map[string]any{"sql": "SELECT COUNT(*) FROM orders"}, Result: &ok},
		{ID: "c2", Name: "sql_query", Arguments: map[string]any{"sql": "DELETE FROM orders"}, Result: &bad},
		{ID: "c3", Name: "sql_list_tables"},
	}
	require.NoError(t, audit.RecordTrace(ctx, sampleRun("run-1", time.Now()), calls))

	recs, err := audit.ToolCalls(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, 1, recs[0].Seq)
	assert.Equal(t, "c1", recs[0].CallID)
	assert.True(t, recs[0].Success)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", recs[0].Query)
	assert.Equal(t, map[string]any{"sql": "SELECT COUNT(*) FROM orders"}, recs[0].Arguments)

	assert.False(t, recs[1].Success)
	assert.Equal(t, "DELETE FROM orders", recs[1].Query)
	assert.Contains(t, recs[1].Error, "query rejected")

	assert.Equal(t, "sql_list_tables", recs[2].Name)
	assert.Empty(t, recs[2].Arguments)
}

func TestAudit_RecordTraceRollsBack(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	ctx := context.Background()
	require.NoError(t, audit.RecordRun(ctx, sampleRun("run-1", time.Now())))

	err := audit.RecordTrace(ctx, sampleRun("run-1", time.Now()), []domain.ToolCall{{ID: "c1", Name: "x"}})
	require.Error(t, err)

	recs, err := audit.ToolCalls(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAudit_AttachRecordsFinishedRuns(t *testing.T) {
	audit := NewAuditLog(testDB(t))
	m := hooks.NewManager(logging.New(nil, "silent"))
	audit.Attach(m)
	assert.Equal(t, 1, m.Count(hooks.EventRunFinished))

	res := domain.NewSuccess(domain.KindCounts, domain.CountsPayload{}, "count", 6)
	m.Emit(context.Background(), hooks.EventRunFinished, &hooks.RunEvent{
		RunID:      "run-9",
		Profile:    "documents",
		UserID:     "alice",
		Question:   "how many dramas?",
		Answer:     "6",
		Status:     "answered",
		Iterations: 2,
		Calls:      []domain.ToolCall{{ID: "c1", Name: "mongo_query", Result: &res}},
		StartedAt:  time.Now(),
	})
	// payloads of other types are ignored
	m.Emit(context.Background(), hooks.EventRunFinished, "not a run")

	runs, err := audit.RecentRuns(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "documents", runs[0].Profile)

	recs, err := audit.ToolCalls(context.Background(), "run-9")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 6, recs[0].TotalCount)
}
