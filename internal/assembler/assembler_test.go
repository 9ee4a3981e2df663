package assembler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/tokenizer"
	"github.com/marketmind/memoryd/internal/working"
)

type fakePersonas struct {
	profile *model.PersonaProfile
	err     error
}

func (f *fakePersonas) Get(_ context.Context, userID string) (*model.PersonaProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.profile == nil || f.profile.UserID != userID {
		return nil, fmt.Errorf("%w: persona %s", model.ErrNotFound, userID)
	}
	return f.profile, nil
}

func (f *fakePersonas) Upsert(_ context.Context, p *model.PersonaProfile) error {
	f.profile = p
	return nil
}

type fakeIndex struct {
	hits []model.EpisodicHit
	err  error
}

func (f *fakeIndex) Add(context.Context, []model.EpisodicDocument) error { return nil }
func (f *fakeIndex) Delete(context.Context, []string) error              { return nil }
func (f *fakeIndex) Count(context.Context) (int, error)                  { return len(f.hits), nil }
func (f *fakeIndex) Query(context.Context, string, string, string, int) ([]model.EpisodicHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func hit(id, content string, score float64) model.EpisodicHit {
	return model.EpisodicHit{
		Document: model.EpisodicDocument{ID: id, Content: content, Timestamp: time.Now()},
		Score:    score,
	}
}

func newAssembler(t *testing.T, personas *fakePersonas, index *fakeIndex, wm *working.Store, maxTokens int) *Assembler {
	t.Helper()
	return New(personas, index, wm, tokenizer.NewCounter("cl100k_base"), zerolog.Nop(), 5, 10, maxTokens)
}

func TestGetContextNewUser(t *testing.T) {
	wm := working.NewStore(50)
	a := newAssembler(t, &fakePersonas{}, &fakeIndex{}, wm, 4000)

	_, err := wm.Add("u1", "a1", model.RoleUser, "hello", nil)
	require.NoError(t, err)

	b, err := a.GetContext(context.Background(), "u1", "a1", "hello")
	require.NoError(t, err)

	assert.Nil(t, b.UserPersona)
	assert.Empty(t, b.CorePrinciples)
	assert.Empty(t, b.EpisodicMemory)
	require.Len(t, b.WorkingMemory, 1)
	assert.Equal(t, "hello", b.WorkingMemory[0].Content)
	assert.Equal(t, b.TokenUsage.Total, b.TokenUsage.Persona+b.TokenUsage.Episodic+b.TokenUsage.Working)
}

func TestGetContextValidation(t *testing.T) {
	a := newAssembler(t, &fakePersonas{}, &fakeIndex{}, working.NewStore(50), 4000)
	_, err := a.GetContext(context.Background(), "", "a1", "q")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestGetContextBudgetNeverExceeded(t *testing.T) {
	wm := working.NewStore(50)
	for i := 0; i < 20; i++ {
		_, err := wm.Add("u1", "a1", model.RoleUser, strings.Repeat("market analysis turn ", 10), nil)
		require.NoError(t, err)
	}
	personas := &fakePersonas{profile: &model.PersonaProfile{
		UserID:         "u1",
		CorePrinciples: strings.Repeat("diversify holdings. ", 20),
	}}
	index := &fakeIndex{hits: []model.EpisodicHit{
		hit("d1", strings.Repeat("episodic fact one ", 15), 0.9),
		hit("d2", strings.Repeat("episodic fact two ", 15), 0.8),
	}}

	budget := 120
	a := newAssembler(t, personas, index, wm, budget)
	b, err := a.GetContext(context.Background(), "u1", "a1", "what happened")
	require.NoError(t, err)
	assert.LessOrEqual(t, b.TokenUsage.Total, budget)
}

func TestGetContextTrimOrder(t *testing.T) {
	wm := working.NewStore(50)
	_, err := wm.Add("u1", "a1", model.RoleUser, "oldest turn with quite a few extra words in it", nil)
	require.NoError(t, err)
	_, err = wm.Add("u1", "a1", model.RoleAgent, "newest turn", nil)
	require.NoError(t, err)

	index := &fakeIndex{hits: []model.EpisodicHit{
		hit("d1", "most similar fact", 0.9),
		hit("d2", "least similar fact", 0.2),
	}}

	// Budget forces dropping the oldest working record but keeps the rest.
	a := newAssembler(t, &fakePersonas{}, index, wm, 20)
	b, err := a.GetContext(context.Background(), "u1", "a1", "query")
	require.NoError(t, err)

	require.NotEmpty(t, b.WorkingMemory)
	assert.Equal(t, "newest turn", b.WorkingMemory[len(b.WorkingMemory)-1].Content)
	assert.Less(t, len(b.WorkingMemory), 2)
	// Episodic outranks working, so it is trimmed only after working is gone.
	require.NotEmpty(t, b.EpisodicMemory)
	assert.Equal(t, "d1", b.EpisodicMemory[0].Document.ID)
	assert.LessOrEqual(t, b.TokenUsage.Total, 20)
}

func TestGetContextPersonaLinesRespectBudget(t *testing.T) {
	// Sectors grow by set-union over many consolidations and are never
	// shrunk, so the persona preference lines alone can outgrow a small
	// budget even with empty principles.
	sectors := []string{
		"tech", "energy", "utilities", "materials", "financials",
		"healthcare", "industrials", "staples", "telecom",
	}
	personas := &fakePersonas{profile: &model.PersonaProfile{
		UserID:            "u1",
		RiskPreference:    "moderately aggressive",
		InterestedSectors: sectors,
	}}

	budget := 5
	a := newAssembler(t, personas, &fakeIndex{}, working.NewStore(50), budget)
	b, err := a.GetContext(context.Background(), "u1", "a1", "allocation")
	require.NoError(t, err)
	assert.LessOrEqual(t, b.TokenUsage.Total, budget)

	// The stored profile is degraded only in the returned bundle.
	assert.Len(t, personas.profile.InterestedSectors, len(sectors))
	assert.Equal(t, "moderately aggressive", personas.profile.RiskPreference)
}

func TestGetContextPersonaTruncationKeepsPreferences(t *testing.T) {
	personas := &fakePersonas{profile: &model.PersonaProfile{
		UserID:            "u1",
		RiskPreference:    "conservative",
		InterestedSectors: []string{"tech"},
		CorePrinciples:    strings.Repeat("diversify broadly. ", 40),
	}}

	budget := 30
	a := newAssembler(t, personas, &fakeIndex{}, working.NewStore(50), budget)
	b, err := a.GetContext(context.Background(), "u1", "a1", "allocation")
	require.NoError(t, err)
	assert.LessOrEqual(t, b.TokenUsage.Total, budget)

	// Cutting the principles suffices here; the preference lines survive.
	require.NotNil(t, b.UserPersona)
	assert.Equal(t, "conservative", b.UserPersona.RiskPreference)
	assert.Equal(t, []string{"tech"}, b.UserPersona.InterestedSectors)
	assert.Less(t, len(b.CorePrinciples), len(personas.profile.CorePrinciples))
}

func TestGetContextDeterministic(t *testing.T) {
	wm := working.NewStore(50)
	for i := 0; i < 5; i++ {
		_, err := wm.Add("u1", "a1", model.RoleUser, fmt.Sprintf("turn number %d with padding words", i), nil)
		require.NoError(t, err)
	}
	index := &fakeIndex{hits: []model.EpisodicHit{
		hit("d2", "tied score b", 0.5),
		hit("d1", "tied score a", 0.5),
		hit("d3", "lower score", 0.3),
	}}
	a := newAssembler(t, &fakePersonas{}, index, wm, 30)

	first, err := a.GetContext(context.Background(), "u1", "a1", "query")
	require.NoError(t, err)
	second, err := a.GetContext(context.Background(), "u1", "a1", "query")
	require.NoError(t, err)

	assert.Equal(t, first.TokenUsage, second.TokenUsage)
	require.Equal(t, len(first.EpisodicMemory), len(second.EpisodicMemory))
	for i := range first.EpisodicMemory {
		assert.Equal(t, first.EpisodicMemory[i].Document.ID, second.EpisodicMemory[i].Document.ID)
	}
	// Ties break by document ID.
	if len(first.EpisodicMemory) >= 2 {
		assert.Equal(t, "d1", first.EpisodicMemory[0].Document.ID)
		assert.Equal(t, "d2", first.EpisodicMemory[1].Document.ID)
	}
}

func TestGetContextFailingStoresYieldEmptySections(t *testing.T) {
	wm := working.NewStore(50)
	personas := &fakePersonas{err: fmt.Errorf("%w: db down", model.ErrStorage)}
	index := &fakeIndex{err: fmt.Errorf("%w: index down", model.ErrStorage)}
	a := newAssembler(t, personas, index, wm, 4000)

	b, err := a.GetContext(context.Background(), "u1", "a1", "query")
	require.NoError(t, err)
	assert.Nil(t, b.UserPersona)
	assert.Empty(t, b.EpisodicMemory)
	assert.Empty(t, b.WorkingMemory)
}
