// Package ledger is a rebuildable, append-only analytics index over the
// JSON-file task/session store: run durations, escalation counts, and
// loop-detector triggers, queried read-only by `taskforge status`. It is
// explicitly not the Task Store — CORE SPEC's Non-goals forbid a database
// engine as the task-persistence layer — so nothing here is ever the only
// copy of a fact; every row can be rebuilt from the JSON files it
// summarizes.
//
// The versioned-migration idiom (a Go-literal SQL string per schema
// version, applied in order against a schema_version table) is adapted
// from the teacher's internal/learning/migration.go, generalized from
// that package's wide multi-table behavioral schema down to this
// package's three narrow tables.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskforge/taskforge/internal/ids"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS run_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	success INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_records_session ON run_records(session_id);
CREATE INDEX IF NOT EXISTS idx_run_records_task ON run_records(task_id);

CREATE TABLE IF NOT EXISTS escalation_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	escalation_id TEXT NOT NULL,
	target TEXT NOT NULL,
	reason TEXT NOT NULL,
	task_id TEXT,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_escalation_records_session ON escalation_records(session_id);

CREATE TABLE IF NOT EXISTS loop_detector_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	step TEXT NOT NULL,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	iterations INTEGER NOT NULL,
	similarity REAL NOT NULL,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loop_detector_events_session ON loop_detector_events(session_id);
`,
	},
}

// Ledger wraps the sqlite analytics database.
type Ledger struct {
	db *sql.DB
}

// Open creates (if necessary) and migrates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ledger: create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	var current int
	row := l.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		// schema_version doesn't exist yet; run every migration from the start.
		current = 0
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("ledger: apply migration %d: %w", m.version, err)
		}
		if _, err := l.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("ledger: record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RunRecord is one Worker/Judge agent invocation.
type RunRecord struct {
	SessionId  ids.SessionId
	TaskId     ids.TaskId
	RunId      ids.RunId
	AgentType  string
	Success    bool
	DurationMs int64
	RecordedAt time.Time
}

// RecordRun appends a run record.
func (l *Ledger) RecordRun(ctx context.Context, r RunRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_records (session_id, task_id, run_id, agent_type, success, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.SessionId), string(r.TaskId), string(r.RunId), r.AgentType, boolToInt(r.Success), r.DurationMs, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record run: %w", err)
	}
	return nil
}

// EscalationEvent is one raised EscalationRecord.
type EscalationEvent struct {
	SessionId    ids.SessionId
	EscalationId ids.EscalationId
	Target       string
	Reason       string
	TaskId       *ids.TaskId
	RecordedAt   time.Time
}

// RecordEscalation appends an escalation event.
func (l *Ledger) RecordEscalation(ctx context.Context, e EscalationEvent) error {
	var taskId *string
	if e.TaskId != nil {
		s := string(*e.TaskId)
		taskId = &s
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO escalation_records (session_id, escalation_id, target, reason, task_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.SessionId), string(e.EscalationId), e.Target, e.Reason, taskId, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record escalation: %w", err)
	}
	return nil
}

// LoopDetectorEvent is one non-OK loopdetector.Result/Action pair.
type LoopDetectorEvent struct {
	SessionId  ids.SessionId
	Step       string
	Kind       string
	Action     string
	Iterations int
	Similarity float64
	RecordedAt time.Time
}

// RecordLoopDetectorEvent appends a loop-detector trigger.
func (l *Ledger) RecordLoopDetectorEvent(ctx context.Context, e LoopDetectorEvent) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO loop_detector_events (session_id, step, kind, action, iterations, similarity, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.SessionId), e.Step, e.Kind, e.Action, e.Iterations, e.Similarity, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record loop detector event: %w", err)
	}
	return nil
}

// SessionSummary is the aggregate `taskforge status` reads per session.
type SessionSummary struct {
	SessionId        ids.SessionId
	RunCount         int
	SuccessRunCount  int
	EscalationCount  int
	LoopDetectorHits int
	LastActivity     time.Time
}

// Summaries returns a SessionSummary for every session the ledger has
// recorded anything for, most recently active first.
func (l *Ledger) Summaries(ctx context.Context) ([]SessionSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id,
			COUNT(*) AS run_count,
			COALESCE(SUM(success), 0) AS success_count,
			MAX(recorded_at) AS last_activity
		FROM run_records
		GROUP BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query run summaries: %w", err)
	}
	defer rows.Close()

	summaries := map[ids.SessionId]*SessionSummary{}
	var order []ids.SessionId
	for rows.Next() {
		var sessionId string
		var runCount, successCount int
		var lastActivity time.Time
		if err := rows.Scan(&sessionId, &runCount, &successCount, &lastActivity); err != nil {
			return nil, fmt.Errorf("ledger: scan run summary: %w", err)
		}
		sid := ids.SessionId(sessionId)
		summaries[sid] = &SessionSummary{
			SessionId:       sid,
			RunCount:        runCount,
			SuccessRunCount: successCount,
			LastActivity:    lastActivity,
		}
		order = append(order, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate run summaries: %w", err)
	}

	if err := l.fillEscalationCounts(ctx, summaries); err != nil {
		return nil, err
	}
	if err := l.fillLoopDetectorCounts(ctx, summaries); err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(order))
	for _, sid := range order {
		out = append(out, *summaries[sid])
	}
	return out, nil
}

func (l *Ledger) fillEscalationCounts(ctx context.Context, summaries map[ids.SessionId]*SessionSummary) error {
	rows, err := l.db.QueryContext(ctx, `SELECT session_id, COUNT(*) FROM escalation_records GROUP BY session_id`)
	if err != nil {
		return fmt.Errorf("ledger: query escalation counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sessionId string
		var count int
		if err := rows.Scan(&sessionId, &count); err != nil {
			return fmt.Errorf("ledger: scan escalation count: %w", err)
		}
		if s, ok := summaries[ids.SessionId(sessionId)]; ok {
			s.EscalationCount = count
		}
	}
	return rows.Err()
}

func (l *Ledger) fillLoopDetectorCounts(ctx context.Context, summaries map[ids.SessionId]*SessionSummary) error {
	rows, err := l.db.QueryContext(ctx, `SELECT session_id, COUNT(*) FROM loop_detector_events GROUP BY session_id`)
	if err != nil {
		return fmt.Errorf("ledger: query loop detector counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sessionId string
		var count int
		if err := rows.Scan(&sessionId, &count); err != nil {
			return fmt.Errorf("ledger: scan loop detector count: %w", err)
		}
		if s, ok := summaries[ids.SessionId(sessionId)]; ok {
			s.LoopDetectorHits = count
		}
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
