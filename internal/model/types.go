// Package model defines the domain types and error taxonomy for the memory
// service.
package model

import "time"

// Role identifies the author of a working-memory record.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// ValidRole reports whether r is one of the closed set of roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// MemoryRecord is one conversational turn held in working memory. Records are
// owned by the working store: created on add, destroyed on trim or eviction.
type MemoryRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	AgentID   string         `json:"agentId"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Seq is a per-key monotonic sequence assigned by the working store.
	// Consolidation trims up to the highest Seq it snapshotted so records
	// added mid-flight survive.
	Seq uint64 `json:"-"`
}

// EpisodicDocument is a consolidated event stored in the vector index.
// Writes are upserts keyed by ID.
type EpisodicDocument struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	AgentID    string    `json:"agentId"`
	Importance float64   `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
}

// EpisodicHit is a ranked query result from the vector index.
type EpisodicHit struct {
	Document EpisodicDocument `json:"document"`
	Score    float64          `json:"score"`
}

// GraphNode is an entity in the relationship graph, uniquely keyed by Name.
// Repeat insertion merges attributes instead of duplicating the node.
type GraphNode struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// GraphEdge is a relation between two entities. Edges accumulate; replaying
// the same EventID must not duplicate them.
type GraphEdge struct {
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Weight    float64   `json:"weight"`
}

// GraphStats summarises graph size.
type GraphStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// PersonaProfile is the evolving per-user profile derived from consolidation.
type PersonaProfile struct {
	UserID            string    `json:"userId"`
	RiskPreference    string    `json:"riskPreference,omitempty"`
	InterestedSectors []string  `json:"interestedSectors,omitempty"`
	CorePrinciples    string    `json:"corePrinciples,omitempty"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// PersonaUpdate is a delta produced by the extraction collaborator. Scalar
// fields are last-write-wins; set-valued fields are unioned, never shrunk.
type PersonaUpdate struct {
	RiskPreference    string   `json:"riskPreference,omitempty"`
	InterestedSectors []string `json:"interestedSectors,omitempty"`
	CorePrinciples    string   `json:"corePrinciples,omitempty"`
}

// TaskStatus is the lifecycle state of a consolidation task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether s is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ConsolidationTask records one finalize request. Tasks are never deleted;
// they remain for polling and audit.
type ConsolidationTask struct {
	TaskID      string     `json:"taskId"`
	UserID      string     `json:"userId"`
	AgentID     string     `json:"agentId"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ExtractionRelation is one subject-predicate-object triple from extraction.
type ExtractionRelation struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// ExtractionEntity is one entity mention from extraction.
type ExtractionEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractionResult is the structured output of the extraction collaborator
// for one working-memory snapshot.
type ExtractionResult struct {
	Summary    string               `json:"summary"`
	Entities   []ExtractionEntity   `json:"entities"`
	Relations  []ExtractionRelation `json:"relations"`
	Persona    PersonaUpdate        `json:"personaUpdates"`
	Importance float64              `json:"importance"`
}

// TokenUsage reports per-section and total token counts for a bundle.
type TokenUsage struct {
	Persona  int `json:"persona"`
	Episodic int `json:"episodic"`
	Working  int `json:"working"`
	Total    int `json:"total"`
}

// ContextBundle is the token-budgeted assembly returned per get-context call.
// Ephemeral; never persisted.
type ContextBundle struct {
	CorePrinciples string           `json:"corePrinciples"`
	EpisodicMemory []EpisodicHit    `json:"episodicMemory"`
	WorkingMemory  []MemoryRecord   `json:"workingMemory"`
	UserPersona    *PersonaProfile  `json:"userPersona,omitempty"`
	TokenUsage     TokenUsage       `json:"tokenUsage"`
}

// MemoryStats aggregates store sizes for one (user, agent) key.
type MemoryStats struct {
	WorkingRecords int            `json:"workingRecords"`
	EpisodicCount  int            `json:"episodicCount"`
	Graph          GraphStats     `json:"graph"`
	TasksByStatus  map[string]int `json:"tasksByStatus"`
	PersonaPresent bool           `json:"personaPresent"`
}
