package consolidation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/memoryd/internal/graph"
	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
	"github.com/marketmind/memoryd/internal/store/sqlite"
	"github.com/marketmind/memoryd/internal/vectorindex"
	"github.com/marketmind/memoryd/internal/working"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)%7 + 1), 1, 0}, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	result *model.ExtractionResult
	err    error
	block  chan struct{}
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, _ string) (*model.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	res, err := f.result, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: extraction timed out: %v", model.ErrTransient, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	wm       *working.Store
	index    vectorindex.Index
	graph    *graph.Store
	store    store.Store
	ex       *fakeExtractor
	pipeline *Pipeline
}

func newFixture(t *testing.T, queueSize int, extractTimeout time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()

	wm := working.NewStore(50)
	idx, err := vectorindex.NewChromemIndex(filepath.Join(dir, "chromem"), fakeEmbedder{})
	require.NoError(t, err)
	g, err := graph.NewStore(filepath.Join(dir, "graph.json"), zerolog.Nop())
	require.NoError(t, err)
	db, err := sqlite.Open(filepath.Join(dir, "memoryd.db"))
	require.NoError(t, err)
	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })

	ex := &fakeExtractor{result: &model.ExtractionResult{
		Summary:    "User tracks AAPL earnings closely.",
		Entities:   []model.ExtractionEntity{{Name: "AAPL", Type: "company"}, {Name: "Q1 earnings", Type: "other"}},
		Relations:  []model.ExtractionRelation{{Subject: "AAPL", Predicate: "reported", Object: "Q1 earnings"}},
		Persona:    model.PersonaUpdate{InterestedSectors: []string{"tech"}},
		Importance: 0.7,
	}}

	p := New(wm, idx, g, s.Personas(), s.Tasks(), ex, zerolog.Nop(), queueSize, extractTimeout)
	return &fixture{wm: wm, index: idx, graph: g, store: s, ex: ex, pipeline: p}
}

func (f *fixture) waitTerminal(t *testing.T, taskID string) *model.ConsolidationTask {
	t.Helper()
	var got *model.ConsolidationTask
	require.Eventually(t, func() bool {
		task, err := f.store.Tasks().Get(context.Background(), taskID)
		if err != nil {
			return false
		}
		got = task
		return task.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestConsolidationHappyPath(t *testing.T) {
	f := newFixture(t, 16, time.Second)
	ctx := context.Background()

	_, err := f.wm.Add("u1", "a1", model.RoleUser, "what did AAPL report", nil)
	require.NoError(t, err)
	_, err = f.wm.Add("u1", "a1", model.RoleAgent, "AAPL beat Q1 estimates", nil)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()

	taskID, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	task := f.waitTerminal(t, taskID)
	require.Equal(t, model.TaskCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := f.graph.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)

	persona, err := f.store.Personas().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, persona.InterestedSectors)

	assert.Zero(t, f.wm.Len("u1", "a1"))
}

func TestConsolidationEmptySnapshotIsNoOp(t *testing.T) {
	f := newFixture(t, 16, time.Second)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()

	taskID, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	task := f.waitTerminal(t, taskID)
	assert.Equal(t, model.TaskCompleted, task.Status)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.ex.callCount())
}

func TestConsolidationExtractionFailureLeavesWorkingMemory(t *testing.T) {
	f := newFixture(t, 16, time.Second)
	ctx := context.Background()
	f.ex.err = fmt.Errorf("%w: model returned garbage", model.ErrData)

	_, err := f.wm.Add("u1", "a1", model.RoleUser, "remember this", nil)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()

	taskID, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	task := f.waitTerminal(t, taskID)
	require.Equal(t, model.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "garbage")

	// Nothing was written and working memory survives for a retry.
	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.wm.Len("u1", "a1"))
}

func TestConsolidationExtractionTimeout(t *testing.T) {
	f := newFixture(t, 16, 30*time.Millisecond)
	ctx := context.Background()
	f.ex.block = make(chan struct{})

	_, err := f.wm.Add("u1", "a1", model.RoleUser, "slow model ahead", nil)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()
	defer close(f.ex.block)

	taskID, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	task := f.waitTerminal(t, taskID)
	assert.Equal(t, model.TaskFailed, task.Status)
	assert.Equal(t, 1, f.wm.Len("u1", "a1"))
}

func TestFinalizeConflictWhileRunning(t *testing.T) {
	f := newFixture(t, 16, 5*time.Second)
	ctx := context.Background()
	f.ex.block = make(chan struct{})

	_, err := f.wm.Add("u1", "a1", model.RoleUser, "turn", nil)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Start(ctx, 1))

	first, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	// Same key is rejected while the first task is in flight.
	require.Eventually(t, func() bool {
		return f.ex.callCount() > 0
	}, time.Second, 5*time.Millisecond)
	_, err = f.pipeline.Finalize(ctx, "u1", "a1")
	assert.ErrorIs(t, err, model.ErrConflict)

	// A different key is not affected.
	_, err = f.pipeline.Finalize(ctx, "u2", "a1")
	require.NoError(t, err)

	close(f.ex.block)
	task := f.waitTerminal(t, first)
	assert.Equal(t, model.TaskCompleted, task.Status)

	// Terminal state releases the key.
	_, err = f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)
	f.pipeline.Stop()
}

func TestFinalizeQueueFull(t *testing.T) {
	// Workers never started, so the single queue slot stays occupied.
	f := newFixture(t, 1, time.Second)
	ctx := context.Background()

	_, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	_, err = f.pipeline.Finalize(ctx, "u2", "a1")
	assert.ErrorIs(t, err, model.ErrTransient)
}

func TestMidFlightRecordsSurviveConsolidation(t *testing.T) {
	f := newFixture(t, 16, 5*time.Second)
	ctx := context.Background()
	f.ex.block = make(chan struct{})

	_, err := f.wm.Add("u1", "a1", model.RoleUser, "before finalize", nil)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()

	taskID, err := f.pipeline.Finalize(ctx, "u1", "a1")
	require.NoError(t, err)

	// Add a turn while extraction is in flight; it must survive the trim.
	require.Eventually(t, func() bool {
		return f.ex.callCount() > 0
	}, time.Second, 5*time.Millisecond)
	_, err = f.wm.Add("u1", "a1", model.RoleUser, "during consolidation", nil)
	require.NoError(t, err)

	close(f.ex.block)
	task := f.waitTerminal(t, taskID)
	require.Equal(t, model.TaskCompleted, task.Status)

	remaining, err := f.wm.Snapshot("u1", "a1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "during consolidation", remaining[0].Content)
}

func TestLivenessSweepFailsOrphans(t *testing.T) {
	f := newFixture(t, 16, time.Second)
	ctx := context.Background()

	orphan := &model.ConsolidationTask{
		TaskID:    "orphan-task",
		UserID:    "u1",
		AgentID:   "a1",
		Status:    model.TaskRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.Tasks().Create(ctx, orphan))

	require.NoError(t, f.pipeline.Start(ctx, 1))
	defer f.pipeline.Stop()

	task, err := f.store.Tasks().Get(ctx, "orphan-task")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "liveness sweep")
}
