// Package consolidation drains finalize requests through a worker pool,
// turning working-memory snapshots into durable episodic, graph and persona
// writes.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketmind/memoryd/internal/extraction"
	"github.com/marketmind/memoryd/internal/graph"
	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
	"github.com/marketmind/memoryd/internal/vectorindex"
	"github.com/marketmind/memoryd/internal/working"
)

type task struct {
	taskID  string
	userID  string
	agentID string
}

// Pipeline owns the consolidation queue and worker pool. At most one task
// per (user, agent) key is queued or running at any time; a second finalize
// for the same key is rejected with model.ErrConflict until the first
// reaches a terminal state.
type Pipeline struct {
	working   *working.Store
	index     vectorindex.Index
	graph     *graph.Store
	personas  store.Personas
	tasks     store.Tasks
	extractor extraction.Extractor
	log       zerolog.Logger

	extractTimeout time.Duration
	queue          chan task
	wg             sync.WaitGroup

	mu      sync.Mutex
	active  map[string]struct{}
	stopped bool
}

// New constructs a Pipeline. queueSize bounds pending finalize requests;
// extractTimeout bounds each extraction call.
func New(wm *working.Store, idx vectorindex.Index, g *graph.Store, personas store.Personas, tasks store.Tasks, ex extraction.Extractor, log zerolog.Logger, queueSize int, extractTimeout time.Duration) *Pipeline {
	if queueSize <= 0 {
		queueSize = 256
	}
	if extractTimeout <= 0 {
		extractTimeout = 45 * time.Second
	}
	return &Pipeline{
		working:        wm,
		index:          idx,
		graph:          g,
		personas:       personas,
		tasks:          tasks,
		extractor:      ex,
		log:            log,
		extractTimeout: extractTimeout,
		queue:          make(chan task, queueSize),
		active:         make(map[string]struct{}),
	}
}

// Start sweeps tasks orphaned by a previous crash and launches the worker
// pool. Workers run until Stop is called or ctx is canceled.
func (p *Pipeline) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 2
	}
	n, err := p.tasks.FailStale(ctx, "reclassified by liveness sweep after restart")
	if err != nil {
		return fmt.Errorf("liveness sweep: %w", err)
	}
	if n > 0 {
		p.log.Warn().Int("tasks", n).Msg("orphaned consolidation tasks marked failed")
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info().Int("workers", workers).Int("queue", cap(p.queue)).Msg("consolidation pipeline started")
	return nil
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	p.log.Info().Msg("consolidation pipeline stopped")
}

// Finalize enqueues a consolidation task for the key and returns its ID
// without waiting for the work. Returns model.ErrConflict when a task for
// the key is already queued or running.
func (p *Pipeline) Finalize(ctx context.Context, userID, agentID string) (string, error) {
	if userID == "" || agentID == "" {
		return "", fmt.Errorf("%w: userId and agentId are required", model.ErrValidation)
	}

	key := userID + "\x00" + agentID
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pipeline is shutting down", model.ErrTransient)
	}
	if _, busy := p.active[key]; busy {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: consolidation already in progress for this key", model.ErrConflict)
	}
	p.active[key] = struct{}{}
	p.mu.Unlock()

	t := &model.ConsolidationTask{
		TaskID:    uuid.New().String(),
		UserID:    userID,
		AgentID:   agentID,
		Status:    model.TaskQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.tasks.Create(ctx, t); err != nil {
		p.release(key)
		return "", err
	}

	select {
	case p.queue <- task{taskID: t.TaskID, userID: userID, agentID: agentID}:
		return t.TaskID, nil
	default:
		p.release(key)
		now := time.Now().UTC()
		_ = p.tasks.UpdateStatus(ctx, t.TaskID, model.TaskFailed, "consolidation queue full", &now)
		return "", fmt.Errorf("%w: consolidation queue full", model.ErrTransient)
	}
}

func (p *Pipeline) release(key string) {
	p.mu.Lock()
	delete(p.active, key)
	p.mu.Unlock()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, t)
		}
	}
}

// run executes one task. Extraction failure leaves working memory untouched;
// downstream writes are idempotent by event ID so an explicit re-finalize
// after a partial failure re-applies without duplication.
func (p *Pipeline) run(ctx context.Context, t task) {
	key := t.userID + "\x00" + t.agentID
	defer p.release(key)

	lg := p.log.With().Str("taskId", t.taskID).Str("userId", t.userID).Str("agentId", t.agentID).Logger()

	if err := p.tasks.UpdateStatus(ctx, t.taskID, model.TaskRunning, "", nil); err != nil {
		lg.Error().Err(err).Msg("mark running failed")
		return
	}

	snapshot, err := p.working.Snapshot(t.userID, t.agentID)
	if err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}
	if len(snapshot) == 0 {
		now := time.Now().UTC()
		if err := p.tasks.UpdateStatus(ctx, t.taskID, model.TaskCompleted, "", &now); err != nil {
			lg.Error().Err(err).Msg("mark completed failed")
		}
		lg.Info().Msg("empty snapshot, consolidation is a no-op")
		return
	}
	lastSeq := snapshot[len(snapshot)-1].Seq

	ectx, cancel := context.WithTimeout(ctx, p.extractTimeout)
	result, err := p.extractor.Extract(ectx, transcript(snapshot))
	cancel()
	if err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}

	// Stable event ID derived from the task makes every downstream write
	// replayable.
	eventID := "evt-" + t.taskID
	now := time.Now().UTC()

	content := result.Summary
	if content == "" {
		content = transcript(snapshot)
	}
	doc := model.EpisodicDocument{
		ID:         eventID,
		Content:    content,
		EventID:    eventID,
		UserID:     t.userID,
		AgentID:    t.agentID,
		Importance: result.Importance,
		Timestamp:  now,
	}
	if err := p.index.Add(ctx, []model.EpisodicDocument{doc}); err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}

	nodes := make([]model.GraphNode, 0, len(result.Entities))
	for _, e := range result.Entities {
		nodes = append(nodes, model.GraphNode{Name: e.Name, Type: e.Type})
	}
	edges := make([]model.GraphEdge, 0, len(result.Relations))
	for _, r := range result.Relations {
		edges = append(edges, model.GraphEdge{
			Subject:   r.Subject,
			Predicate: r.Predicate,
			Object:    r.Object,
			EventID:   eventID,
			Timestamp: now,
			Weight:    result.Importance,
		})
	}
	if err := p.graph.AddEvent(ctx, nodes, edges); err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}

	base, err := p.personas.Get(ctx, t.userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			p.fail(ctx, t.taskID, lg, err)
			return
		}
		base = nil
	}
	merged := model.MergePersona(base, t.userID, result.Persona, now)
	if err := p.personas.Upsert(ctx, merged); err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}

	// All writes landed; trim only the consolidated prefix so turns added
	// mid-flight survive.
	if err := p.working.ClearThrough(t.userID, t.agentID, lastSeq); err != nil {
		p.fail(ctx, t.taskID, lg, err)
		return
	}

	done := time.Now().UTC()
	if err := p.tasks.UpdateStatus(ctx, t.taskID, model.TaskCompleted, "", &done); err != nil {
		lg.Error().Err(err).Msg("mark completed failed")
		return
	}
	lg.Info().Int("records", len(snapshot)).Str("eventId", eventID).Msg("consolidation completed")
}

func (p *Pipeline) fail(ctx context.Context, taskID string, lg zerolog.Logger, cause error) {
	now := time.Now().UTC()
	if err := p.tasks.UpdateStatus(ctx, taskID, model.TaskFailed, cause.Error(), &now); err != nil {
		lg.Error().Err(err).Msg("mark failed errored")
	}
	lg.Warn().Err(cause).Msg("consolidation failed")
}

func transcript(records []model.MemoryRecord) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, string(r.Role)+": "+r.Content)
	}
	return strings.Join(parts, "\n")
}
