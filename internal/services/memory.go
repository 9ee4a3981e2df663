// Package services orchestrates memory use cases on top of the stores and
// the consolidation pipeline.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketmind/memoryd/internal/assembler"
	"github.com/marketmind/memoryd/internal/consolidation"
	"github.com/marketmind/memoryd/internal/graph"
	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
	"github.com/marketmind/memoryd/internal/vectorindex"
	"github.com/marketmind/memoryd/internal/working"
)

// MemoryService is the single entry point the API layer talks to.
type MemoryService struct {
	working   *working.Store
	assembler *assembler.Assembler
	pipeline  *consolidation.Pipeline
	graph     *graph.Store
	index     vectorindex.Index
	store     store.Store
}

func NewMemoryService(wm *working.Store, asm *assembler.Assembler, p *consolidation.Pipeline, g *graph.Store, idx vectorindex.Index, s store.Store) *MemoryService {
	return &MemoryService{working: wm, assembler: asm, pipeline: p, graph: g, index: idx, store: s}
}

// AddMemory records one conversational turn in working memory and returns
// the record ID. Synchronous and never blocked by consolidation.
func (s *MemoryService) AddMemory(ctx context.Context, userID, agentID string, role model.Role, content string, metadata map[string]any) (string, error) {
	if content == "" {
		return "", fmt.Errorf("%w: content is required", model.ErrValidation)
	}
	return s.working.Add(userID, agentID, role, content, metadata)
}

// GetContext assembles the token-budgeted bundle for the key and query.
func (s *MemoryService) GetContext(ctx context.Context, userID, agentID, query string) (*model.ContextBundle, error) {
	return s.assembler.GetContext(ctx, userID, agentID, query)
}

// Finalize enqueues consolidation for the key, returning the task ID.
func (s *MemoryService) Finalize(ctx context.Context, userID, agentID string) (string, error) {
	return s.pipeline.Finalize(ctx, userID, agentID)
}

// TaskStatus reports the current state of a consolidation task.
func (s *MemoryService) TaskStatus(ctx context.Context, taskID string) (*model.ConsolidationTask, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", model.ErrValidation)
	}
	return s.store.Tasks().Get(ctx, taskID)
}

// Stats aggregates store sizes for one (user, agent) key.
func (s *MemoryService) Stats(ctx context.Context, userID, agentID string) (*model.MemoryStats, error) {
	if userID == "" || agentID == "" {
		return nil, fmt.Errorf("%w: userId and agentId are required", model.ErrValidation)
	}
	out := &model.MemoryStats{
		WorkingRecords: s.working.Len(userID, agentID),
	}

	if n, err := s.index.Count(ctx); err == nil {
		out.EpisodicCount = n
	}
	if gs, err := s.graph.Stats(ctx); err == nil {
		out.Graph = gs
	}
	counts, err := s.store.Tasks().CountByStatus(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	out.TasksByStatus = counts

	if _, err := s.store.Personas().Get(ctx, userID); err == nil {
		out.PersonaPresent = true
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

// DeleteEvent retracts everything a consolidation event wrote: its graph
// edges and its episodic document. Admin surface for bad consolidations.
func (s *MemoryService) DeleteEvent(ctx context.Context, eventID string) (int, error) {
	if eventID == "" {
		return 0, fmt.Errorf("%w: eventId is required", model.ErrValidation)
	}
	removed, err := s.graph.DeleteEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	// Episodic document IDs equal their event ID.
	if err := s.index.Delete(ctx, []string{eventID}); err != nil {
		return removed, err
	}
	return removed, nil
}
