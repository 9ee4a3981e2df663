// Package assembler composes the token-budgeted context bundle returned for
// every get-context call.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/store"
	"github.com/marketmind/memoryd/internal/tokenizer"
	"github.com/marketmind/memoryd/internal/vectorindex"
	"github.com/marketmind/memoryd/internal/working"
)

// Assembler gathers persona, episodic and working sections, then trims the
// lowest-priority content until the bundle fits the token budget. Retrieval
// of each section is best-effort; a failing store yields an empty section,
// never a failed call.
type Assembler struct {
	personas store.Personas
	index    vectorindex.Index
	working  *working.Store
	counter  *tokenizer.Counter
	log      zerolog.Logger

	topK         int
	recentWindow int
	maxTokens    int
}

// New constructs an Assembler. topK bounds episodic retrieval, recentWindow
// bounds the working section, maxTokens is the hard budget.
func New(personas store.Personas, index vectorindex.Index, wm *working.Store, counter *tokenizer.Counter, log zerolog.Logger, topK, recentWindow, maxTokens int) *Assembler {
	if topK <= 0 {
		topK = 5
	}
	if recentWindow <= 0 {
		recentWindow = 10
	}
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &Assembler{
		personas:     personas,
		index:        index,
		working:      wm,
		counter:      counter,
		log:          log,
		topK:         topK,
		recentWindow: recentWindow,
		maxTokens:    maxTokens,
	}
}

// GetContext assembles the bundle for one (user, agent) key and query.
func (a *Assembler) GetContext(ctx context.Context, userID, agentID, query string) (*model.ContextBundle, error) {
	if userID == "" || agentID == "" {
		return nil, fmt.Errorf("%w: userId and agentId are required", model.ErrValidation)
	}

	persona, err := a.personas.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			a.log.Warn().Err(err).Str("userId", userID).Msg("persona fetch failed, section left empty")
		}
		persona = nil
	}

	hits, err := a.index.Query(ctx, userID, agentID, query, a.topK)
	if err != nil {
		a.log.Warn().Err(err).Str("userId", userID).Msg("episodic query failed, section left empty")
		hits = []model.EpisodicHit{}
	}
	// Stable order: descending similarity, then document ID. Trimming drops
	// from the tail, so identical inputs trim identically.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})

	recent, err := a.working.GetRecent(userID, agentID, a.recentWindow)
	if err != nil {
		a.log.Warn().Err(err).Str("userId", userID).Msg("working fetch failed, section left empty")
		recent = []model.MemoryRecord{}
	}

	bundle := &model.ContextBundle{
		EpisodicMemory: hits,
		WorkingMemory:  recent,
		UserPersona:    persona,
	}
	if persona != nil {
		bundle.CorePrinciples = persona.CorePrinciples
	}

	a.trim(bundle)
	bundle.TokenUsage = a.usage(bundle)
	return bundle, nil
}

// trim drops content in reverse priority order until the bundle fits:
// oldest working records first, then least-similar episodic documents, then
// the persona section is degraded field by field, principles before
// preferences. An empty bundle counts zero tokens, so the loop always
// terminates on budget.
func (a *Assembler) trim(b *model.ContextBundle) {
	for a.totalTokens(b) > a.maxTokens && len(b.WorkingMemory) > 0 {
		b.WorkingMemory = b.WorkingMemory[1:]
	}
	for a.totalTokens(b) > a.maxTokens && len(b.EpisodicMemory) > 0 {
		b.EpisodicMemory = b.EpisodicMemory[:len(b.EpisodicMemory)-1]
	}
	if a.totalTokens(b) <= a.maxTokens {
		return
	}

	// Only the persona section remains. Degrade a copy so the stored
	// profile is never mutated.
	if b.UserPersona != nil {
		cp := *b.UserPersona
		cp.InterestedSectors = append([]string(nil), cp.InterestedSectors...)
		b.UserPersona = &cp
	}
	for a.totalTokens(b) > a.maxTokens && b.CorePrinciples != "" {
		keep := a.counter.Count(b.CorePrinciples) - (a.totalTokens(b) - a.maxTokens)
		if keep < 0 {
			keep = 0
		}
		next := a.counter.Truncate(b.CorePrinciples, keep)
		if next == b.CorePrinciples {
			// Token counts are not additive across concatenated sections;
			// force progress when the estimated cut removed nothing.
			next = a.counter.Truncate(next, a.counter.Count(next)-1)
		}
		b.CorePrinciples = next
	}
	for a.totalTokens(b) > a.maxTokens && b.UserPersona != nil && len(b.UserPersona.InterestedSectors) > 0 {
		b.UserPersona.InterestedSectors = b.UserPersona.InterestedSectors[:len(b.UserPersona.InterestedSectors)-1]
	}
	if a.totalTokens(b) > a.maxTokens && b.UserPersona != nil {
		b.UserPersona.RiskPreference = ""
	}
}

func (a *Assembler) totalTokens(b *model.ContextBundle) int {
	u := a.usage(b)
	return u.Total
}

func (a *Assembler) usage(b *model.ContextBundle) model.TokenUsage {
	var u model.TokenUsage
	u.Persona = a.counter.Count(personaText(b))
	u.Episodic = a.counter.Count(episodicText(b.EpisodicMemory))
	u.Working = a.counter.Count(workingText(b.WorkingMemory))
	u.Total = u.Persona + u.Episodic + u.Working
	return u
}

func personaText(b *model.ContextBundle) string {
	var sb strings.Builder
	sb.WriteString(b.CorePrinciples)
	if b.UserPersona != nil {
		if b.UserPersona.RiskPreference != "" {
			sb.WriteString("\nrisk preference: ")
			sb.WriteString(b.UserPersona.RiskPreference)
		}
		if len(b.UserPersona.InterestedSectors) > 0 {
			sb.WriteString("\ninterested sectors: ")
			sb.WriteString(strings.Join(b.UserPersona.InterestedSectors, ", "))
		}
	}
	return sb.String()
}

func episodicText(hits []model.EpisodicHit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Document.Content)
	}
	return strings.Join(parts, "\n")
}

func workingText(records []model.MemoryRecord) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, string(r.Role)+": "+r.Content)
	}
	return strings.Join(parts, "\n")
}
