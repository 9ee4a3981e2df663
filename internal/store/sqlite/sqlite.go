// Package sqlite is the embedded store used by the local build target. It
// rides on modernc.org/sqlite so the binary stays cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS personas (
    user_id            TEXT PRIMARY KEY,
    risk_preference    TEXT NOT NULL DEFAULT '',
    interested_sectors TEXT NOT NULL DEFAULT '[]',
    core_principles    TEXT NOT NULL DEFAULT '',
    last_updated       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS consolidation_tasks (
    task_id      TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON consolidation_tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_key ON consolidation_tasks(user_id, agent_id);
`

// Open opens (or creates) the SQLite database at path with WAL enabled and
// bootstraps the schema.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New constructs a Store backed by db.
func New(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Personas() store.Personas { return &personas{db: s.db} }
func (s *sqliteStore) Tasks() store.Tasks       { return &tasks{db: s.db} }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqliteStore) Close() error                   { return s.db.Close() }

type personas struct{ db *sql.DB }

func (p *personas) Get(ctx context.Context, userID string) (*model.PersonaProfile, error) {
	var out model.PersonaProfile
	var sectors string
	row := p.db.QueryRowContext(ctx, `
        SELECT user_id, risk_preference, interested_sectors, core_principles, last_updated
        FROM personas WHERE user_id = ?
    `, userID)
	if err := row.Scan(&out.UserID, &out.RiskPreference, &sectors, &out.CorePrinciples, &out.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: persona %s", model.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("%w: get persona: %v", model.ErrStorage, err)
	}
	if err := json.Unmarshal([]byte(sectors), &out.InterestedSectors); err != nil {
		return nil, fmt.Errorf("%w: decode sectors for %s: %v", model.ErrData, userID, err)
	}
	return &out, nil
}

func (p *personas) Upsert(ctx context.Context, m *model.PersonaProfile) error {
	sectors, err := json.Marshal(m.InterestedSectors)
	if err != nil {
		return fmt.Errorf("%w: encode sectors: %v", model.ErrStorage, err)
	}
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO personas (user_id, risk_preference, interested_sectors, core_principles, last_updated)
        VALUES (?,?,?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET
            risk_preference    = excluded.risk_preference,
            interested_sectors = excluded.interested_sectors,
            core_principles    = excluded.core_principles,
            last_updated       = excluded.last_updated
    `, m.UserID, m.RiskPreference, string(sectors), m.CorePrinciples, m.LastUpdated)
	if err != nil {
		return fmt.Errorf("%w: upsert persona: %v", model.ErrStorage, err)
	}
	return nil
}

type tasks struct{ db *sql.DB }

func (t *tasks) Create(ctx context.Context, m *model.ConsolidationTask) error {
	_, err := t.db.ExecContext(ctx, `
        INSERT INTO consolidation_tasks (task_id, user_id, agent_id, status, error, created_at, completed_at)
        VALUES (?,?,?,?,?,?,?)
    `, m.TaskID, m.UserID, m.AgentID, string(m.Status), m.Error, m.CreatedAt, m.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: create task: %v", model.ErrStorage, err)
	}
	return nil
}

func (t *tasks) Get(ctx context.Context, taskID string) (*model.ConsolidationTask, error) {
	row := t.db.QueryRowContext(ctx, `
        SELECT task_id, user_id, agent_id, status, error, created_at, completed_at
        FROM consolidation_tasks WHERE task_id = ?
    `, taskID)
	return scanTask(row, taskID)
}

func scanTask(row *sql.Row, taskID string) (*model.ConsolidationTask, error) {
	var out model.ConsolidationTask
	var status string
	var completed sql.NullTime
	if err := row.Scan(&out.TaskID, &out.UserID, &out.AgentID, &status, &out.Error, &out.CreatedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: get task: %v", model.ErrStorage, err)
	}
	out.Status = model.TaskStatus(status)
	if completed.Valid {
		ts := completed.Time
		out.CompletedAt = &ts
	}
	return &out, nil
}

func (t *tasks) UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, errMsg string, completedAt *time.Time) error {
	res, err := t.db.ExecContext(ctx, `
        UPDATE consolidation_tasks SET status = ?, error = ?, completed_at = ?
        WHERE task_id = ?
    `, string(status), errMsg, completedAt, taskID)
	if err != nil {
		return fmt.Errorf("%w: update task: %v", model.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: task %s", model.ErrNotFound, taskID)
	}
	return nil
}

func (t *tasks) ListByStatus(ctx context.Context, statuses []model.TaskStatus) ([]*model.ConsolidationTask, error) {
	if len(statuses) == 0 {
		return []*model.ConsolidationTask{}, nil
	}
	query := `
        SELECT task_id, user_id, agent_id, status, error, created_at, completed_at
        FROM consolidation_tasks WHERE status IN (` + placeholders(len(statuses)) + `)
        ORDER BY created_at
    `
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %v", model.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ConsolidationTask
	for rows.Next() {
		var m model.ConsolidationTask
		var status string
		var completed sql.NullTime
		if err := rows.Scan(&m.TaskID, &m.UserID, &m.AgentID, &status, &m.Error, &m.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("%w: scan task: %v", model.ErrStorage, err)
		}
		m.Status = model.TaskStatus(status)
		if completed.Valid {
			ts := completed.Time
			m.CompletedAt = &ts
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tasks: %v", model.ErrStorage, err)
	}
	return out, nil
}

func (t *tasks) CountByStatus(ctx context.Context, userID, agentID string) (map[string]int, error) {
	rows, err := t.db.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM consolidation_tasks
        WHERE user_id = ? AND agent_id = ?
        GROUP BY status
    `, userID, agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: count tasks: %v", model.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: scan count: %v", model.ErrStorage, err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: count tasks: %v", model.ErrStorage, err)
	}
	return out, nil
}

func (t *tasks) FailStale(ctx context.Context, reason string) (int, error) {
	res, err := t.db.ExecContext(ctx, `
        UPDATE consolidation_tasks SET status = ?, error = ?, completed_at = ?
        WHERE status IN (?, ?)
    `, string(model.TaskFailed), reason, time.Now().UTC(),
		string(model.TaskQueued), string(model.TaskRunning))
	if err != nil {
		return 0, fmt.Errorf("%w: fail stale tasks: %v", model.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func placeholders(n int) string {
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}
