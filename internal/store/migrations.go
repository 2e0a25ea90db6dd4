package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create runs and tool calls",
		SQL: `
			CREATE TABLE runs (
				id             TEXT PRIMARY KEY,
				profile        TEXT NOT NULL,
				user_id        TEXT NOT NULL,
				session_id     TEXT NOT NULL DEFAULT '',
				question       TEXT NOT NULL,
				answer         TEXT NOT NULL DEFAULT '',
				status         TEXT NOT NULL,
				error          TEXT NOT NULL DEFAULT '',
				iterations     INTEGER NOT NULL DEFAULT 0,
				input_tokens   INTEGER NOT NULL DEFAULT 0,
				output_tokens  INTEGER NOT NULL DEFAULT 0,
				started_at     TEXT NOT NULL,
				duration_ms    INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_runs_user ON runs (user_id, started_at);

			CREATE TABLE tool_calls (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id       TEXT NOT NULL,
				seq          INTEGER NOT NULL,
				call_id      TEXT NOT NULL,
				name         TEXT NOT NULL,
				arguments    TEXT NOT NULL DEFAULT '{}',
				success      INTEGER NOT NULL,
				query        TEXT NOT NULL DEFAULT '',
				total_count  INTEGER NOT NULL DEFAULT 0,
				error        TEXT NOT NULL DEFAULT '',
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_tool_calls_run ON tool_calls (run_id, seq);
		`,
	},
}
