package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/hooks"
)

// timeLayout is fixed-width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one recorded orchestration run.
type Run struct {
	ID           string        `json:"id"`
	Profile      string        `json:"profile"`
	UserID       string        `json:"userId"`
	SessionID    string        `json:"sessionId"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Iterations   int           `json:"iterations"`
	InputTokens  int           `json:"inputTokens"`
	OutputTokens int           `json:"outputTokens"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
}

// ToolCallRecord is one recorded tool invocation of a run.
type ToolCallRecord struct {
	RunID      string         `json:"runId"`
	Seq        int            `json:"seq"`
	CallID     string         `json:"callId"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Success    bool           `json:"success"`
	Query      string         `json:"query,omitempty"`
	TotalCount int            `json:"totalCount"`
	Error      string         `json:"error,omitempty"`
}

// AuditLog records what every run asked, which queries it executed and
// how it ended.
type AuditLog struct {
	db *DB
}

// NewAuditLog creates an audit log on db.
func NewAuditLog(db *DB) *AuditLog {
	return &AuditLog{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RecordRun writes a run row.
func (a *AuditLog) RecordRun(ctx context.Context, r Run) error {
	return insertRun(ctx, a.db.sql, r)
}

// RecordToolCall writes a tool call row. The run must already be recorded.
func (a *AuditLog) RecordToolCall(ctx context.Context, c ToolCallRecord) error {
	return insertToolCall(ctx, a.db.sql, c)
}

// RecordTrace writes a run and its tool calls in one transaction.
func (a *AuditLog) RecordTrace(ctx context.Context, r Run, calls []domain.ToolCall) error {
	tx, err := a.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, r); err != nil {
		return err
	}
	for i, c := range calls {
		if err := insertToolCall(ctx, tx, recordOf(r.ID, i+1, c)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	a.db.log.Debug().Str("runId", r.ID).Int("toolCalls", len(calls)).Msg("run recorded")
	return nil
}

func insertRun(ctx context.Context, ex execer, r Run) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO runs (id, profile, user_id, session_id, question, answer, status, error,
		                   iterations, input_tokens, output_tokens, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Profile, r.UserID, r.SessionID, r.Question, r.Answer, r.Status, r.Error,
		r.Iterations, r.InputTokens, r.OutputTokens,
		r.StartedAt.UTC().Format(timeLayout), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", r.ID, err)
	}
	return nil
}

func insertToolCall(ctx context.Context, ex execer, c ToolCallRecord) error {
	args := "{}"
	if len(c.Arguments) > 0 {
		data, err := json.Marshal(c.Arguments)
		if err != nil {
			return fmt.Errorf("encoding arguments of %s: %w", c.CallID, err)
		}
		args = string(data)
	}

	_, err := ex.ExecContext(ctx,
		`INSERT INTO tool_calls (run_id, seq, call_id, name, arguments, success, query, total_count, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Seq, c.CallID, c.Name, args, c.Success, c.Query, c.TotalCount, c.Error,
	)
	if err != nil {
		return fmt.Errorf("recording tool call %s: %w", c.CallID, err)
	}
	return nil
}

// RecentRuns returns the user's latest n runs, newest first.
func (a *AuditLog) RecentRuns(ctx context.Context, userID string, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := a.db.sql.QueryContext(ctx,
		`SELECT id, profile, user_id, session_id, question, answer, status, error,
		        iterations, input_tokens, output_tokens, started_at, duration_ms
		 FROM runs WHERE user_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Profile, &r.UserID, &r.SessionID, &r.Question, &r.Answer,
			&r.Status, &r.Error, &r.Iterations, &r.InputTokens, &r.OutputTokens,
			&startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ToolCalls returns the tool calls of a run in the order the model
// requested them.
func (a *AuditLog) ToolCalls(ctx context.Context, runID string) ([]ToolCallRecord, error) {
	rows, err := a.db.sql.QueryContext(ctx,
		`SELECT run_id, seq, call_id, name, arguments, success, query, total_count, error
		 FROM tool_calls WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCallRecord
	for rows.Next() {
		var c ToolCallRecord
		var args sql.NullString
		if err := rows.Scan(&c.RunID, &c.Seq, &c.CallID, &c.Name, &args, &c.Success,
			&c.Query, &c.TotalCount, &c.Error); err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		if args.Valid && args.String != "" {
			_ = json.Unmarshal([]byte(args.String), &c.Arguments)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// Attach subscribes the log to run.finished so every run is recorded.
func (a *AuditLog) Attach(m *hooks.Manager) {
	m.On(hooks.EventRunFinished, "audit", func(ctx context.Context, p hooks.Payload) error {
		ev, ok := p.Data.(*hooks.RunEvent)
		if !ok {
			return nil
		}
		return a.RecordTrace(ctx, Run{
			ID:           ev.RunID,
			Profile:      ev.Profile,
			UserID:       ev.UserID,
			SessionID:    ev.SessionID,
			Question:     ev.Question,
			Answer:       ev.Answer,
			Status:       ev.Status,
			Error:        ev.Error,
			Iterations:   ev.Iterations,
			InputTokens:  ev.InputTokens,
			OutputTokens: ev.OutputTokens,
			StartedAt:    ev.StartedAt,
			Duration:     ev.Duration,
		}, ev.Calls)
	})
}

func recordOf(runID string, seq int, c domain.ToolCall) ToolCallRecord {
	rec := ToolCallRecord{
		RunID:     runID,
		Seq:       seq,
		CallID:    c.ID,
		Name:      c.Name,
		Arguments: c.Arguments,
	}
	if c.Result != nil {
		rec.Success = c.Result.Success
		rec.Query = c.Result.Query
		rec.TotalCount = c.Result.TotalCount
		rec.Error = c.Result.Error
	}
	return rec
}
