// Package extraction calls the LLM collaborator that turns a working-memory
// snapshot into structured long-term knowledge.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketmind/memoryd/internal/model"
)

// Extractor converts conversation text into summary, entities, relations and
// persona deltas. Implementations must distinguish transient transport
// failures (model.ErrTransient) from malformed output (model.ErrData) so the
// pipeline can classify task failures.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*model.ExtractionResult, error)
}

const extractPrompt = `You are a memory consolidation assistant for a financial analysis agent.
Given the conversation below, respond with a single JSON object:
{
  "summary": "one-paragraph summary of durable facts",
  "entities": [{"name": "...", "type": "company|person|sector|instrument|other"}],
  "relations": [{"subject": "...", "predicate": "...", "object": "..."}],
  "personaUpdates": {"riskPreference": "", "interestedSectors": [], "corePrinciples": ""},
  "importance": 0.0
}
Leave persona fields empty when the conversation reveals nothing new.
importance is 0.0-1.0. Respond with JSON only.

Conversation:
%s`

// OllamaExtractor runs extraction against a local Ollama generate endpoint
// with JSON-constrained output.
type OllamaExtractor struct {
	client *resty.Client
	model  string
}

// NewOllamaExtractor builds an extractor for the model at baseURL. timeout
// bounds the whole generate call.
func NewOllamaExtractor(baseURL, modelName string, timeout time.Duration) *OllamaExtractor {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &OllamaExtractor{client: c, model: modelName}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (e *OllamaExtractor) Extract(ctx context.Context, transcript string) (*model.ExtractionResult, error) {
	req := generateRequest{
		Model:  e.model,
		Prompt: fmt.Sprintf(extractPrompt, transcript),
		Format: "json",
		Stream: false,
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/api/generate")
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, fmt.Errorf("%w: extraction request: %v", model.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: extraction status %d: %s", model.ErrTransient, resp.StatusCode(), resp.String())
	}

	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return nil, fmt.Errorf("%w: decode generate envelope: %v", model.ErrData, err)
	}
	return ParseResult(gr.Response)
}

// ParseResult decodes the model's JSON payload into an ExtractionResult.
// Out-of-range importance is clamped rather than rejected; models drift.
func ParseResult(payload string) (*model.ExtractionResult, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty extraction payload", model.ErrData)
	}
	var out model.ExtractionResult
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("%w: decode extraction payload: %v", model.ErrData, err)
	}
	if out.Importance < 0 {
		out.Importance = 0
	}
	if out.Importance > 1 {
		out.Importance = 1
	}
	return &out, nil
}
