// Package store defines the persistence operations behind personas and
// consolidation task tracking. Implementations live under
// internal/store/<driver>/ (postgres, sqlite).
package store

import (
	"context"
	"time"

	"github.com/marketmind/memoryd/internal/model"
)

// Store exposes the relational persistence required by services.
type Store interface {
	Personas() Personas
	Tasks() Tasks

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
	Close() error
}

// Personas reads and writes per-user persona profiles. Merging semantics
// live in model.MergePersona; the store only persists the result.
type Personas interface {
	// Get returns the profile for userID, or model.ErrNotFound.
	Get(ctx context.Context, userID string) (*model.PersonaProfile, error)
	Upsert(ctx context.Context, p *model.PersonaProfile) error
}

// Tasks tracks consolidation tasks through their lifecycle.
type Tasks interface {
	Create(ctx context.Context, t *model.ConsolidationTask) error
	// Get returns the task, or model.ErrNotFound.
	Get(ctx context.Context, taskID string) (*model.ConsolidationTask, error)
	// UpdateStatus moves a task to status; completedAt and errMsg are set
	// when provided.
	UpdateStatus(ctx context.Context, taskID string, status model.TaskStatus, errMsg string, completedAt *time.Time) error
	ListByStatus(ctx context.Context, statuses []model.TaskStatus) ([]*model.ConsolidationTask, error)
	// CountByStatus tallies the key's tasks per status for stats.
	CountByStatus(ctx context.Context, userID, agentID string) (map[string]int, error)
	// FailStale marks every queued or running task failed with reason.
	// Called once at startup to reclassify tasks orphaned by a crash.
	FailStale(ctx context.Context, reason string) (int, error)
}
