// Package storetest holds a compliance suite run against every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// makeStore must provide a clean, isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	userID := "u-" + uuid.New().String()

	// Personas: absent, upsert, get, overwrite.
	if _, err := s.Personas().Get(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetPersona on empty store: want ErrNotFound, got %v", err)
	}
	p := &model.PersonaProfile{
		UserID:            userID,
		RiskPreference:    "conservative",
		InterestedSectors: []string{"energy", "tech"},
		CorePrinciples:    "value investing",
		LastUpdated:       time.Now().UTC(),
	}
	if err := s.Personas().Upsert(ctx, p); err != nil {
		t.Fatalf("UpsertPersona: %v", err)
	}
	got, err := s.Personas().Get(ctx, userID)
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}
	if got.RiskPreference != "conservative" || len(got.InterestedSectors) != 2 {
		t.Fatalf("GetPersona: got %+v", got)
	}
	p.RiskPreference = "aggressive"
	if err := s.Personas().Upsert(ctx, p); err != nil {
		t.Fatalf("UpsertPersona overwrite: %v", err)
	}
	if got, err = s.Personas().Get(ctx, userID); err != nil || got.RiskPreference != "aggressive" {
		t.Fatalf("GetPersona after overwrite: got=%+v err=%v", got, err)
	}

	// Tasks: create, get, status transitions, not-found.
	task := &model.ConsolidationTask{
		TaskID:    uuid.New().String(),
		UserID:    userID,
		AgentID:   "a1",
		Status:    model.TaskQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Tasks().Create(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	gt, err := s.Tasks().Get(ctx, task.TaskID)
	if err != nil || gt.Status != model.TaskQueued || gt.CompletedAt != nil {
		t.Fatalf("GetTask: got=%+v err=%v", gt, err)
	}
	if err := s.Tasks().UpdateStatus(ctx, task.TaskID, model.TaskRunning, "", nil); err != nil {
		t.Fatalf("UpdateStatus running: %v", err)
	}
	done := time.Now().UTC()
	if err := s.Tasks().UpdateStatus(ctx, task.TaskID, model.TaskCompleted, "", &done); err != nil {
		t.Fatalf("UpdateStatus completed: %v", err)
	}
	gt, err = s.Tasks().Get(ctx, task.TaskID)
	if err != nil || gt.Status != model.TaskCompleted || gt.CompletedAt == nil {
		t.Fatalf("GetTask after complete: got=%+v err=%v", gt, err)
	}
	if _, err := s.Tasks().Get(ctx, "missing-"+uuid.New().String()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetTask missing: want ErrNotFound, got %v", err)
	}
	if err := s.Tasks().UpdateStatus(ctx, "missing-"+uuid.New().String(), model.TaskFailed, "x", nil); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("UpdateStatus missing: want ErrNotFound, got %v", err)
	}

	// ListByStatus and CountByStatus.
	t2 := &model.ConsolidationTask{
		TaskID:    uuid.New().String(),
		UserID:    userID,
		AgentID:   "a1",
		Status:    model.TaskQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Tasks().Create(ctx, t2); err != nil {
		t.Fatalf("CreateTask t2: %v", err)
	}
	queued, err := s.Tasks().ListByStatus(ctx, []model.TaskStatus{model.TaskQueued})
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	found := false
	for _, item := range queued {
		if item.TaskID == t2.TaskID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListByStatus: queued task %s missing", t2.TaskID)
	}
	counts, err := s.Tasks().CountByStatus(ctx, userID, "a1")
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[string(model.TaskQueued)] != 1 || counts[string(model.TaskCompleted)] != 1 {
		t.Fatalf("CountByStatus: got %v", counts)
	}

	// FailStale reclassifies queued and running tasks.
	n, err := s.Tasks().FailStale(ctx, "server restarted")
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n < 1 {
		t.Fatalf("FailStale: want >=1 reclassified, got %d", n)
	}
	gt, err = s.Tasks().Get(ctx, t2.TaskID)
	if err != nil || gt.Status != model.TaskFailed || gt.Error != "server restarted" {
		t.Fatalf("GetTask after FailStale: got=%+v err=%v", gt, err)
	}
}
