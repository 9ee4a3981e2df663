package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	respond "github.com/marketmind/memoryd/internal/api/respond"
	"github.com/marketmind/memoryd/internal/model"
	"github.com/marketmind/memoryd/internal/services"
)

type MemoryHandler struct {
	svc *services.MemoryService
}

func NewMemoryHandler(svc *services.MemoryService) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

type addMemoryRequest struct {
	AgentID  string         `json:"agent_id"`
	UserID   string         `json:"user_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AddMemory POST /api/v1/memory/add
func (h *MemoryHandler) AddMemory(w http.ResponseWriter, r *http.Request) {
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	role := model.RoleUser
	if v, ok := req.Metadata["role"].(string); ok && v != "" {
		role = model.Role(v)
	}
	if !model.ValidRole(role) {
		respond.WriteBadRequest(w, "metadata.role must be user, agent or system")
		return
	}

	id, err := h.svc.AddMemory(r.Context(), req.UserID, req.AgentID, role, req.Content, req.Metadata)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "record_id": id})
}

type contextRequest struct {
	AgentID   string `json:"agent_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// GetContext POST /api/v1/memory/context
func (h *MemoryHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	bundle, err := h.svc.GetContext(r.Context(), req.UserID, req.AgentID, req.Query)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"context": map[string]any{
			"core_principles": bundle.CorePrinciples,
			"episodic_memory": bundle.EpisodicMemory,
			"working_memory":  bundle.WorkingMemory,
			"user_persona":    bundle.UserPersona,
		},
		"token_usage": bundle.TokenUsage,
	})
}

type finalizeRequest struct {
	AgentID string `json:"agent_id"`
	UserID  string `json:"user_id"`
}

// Finalize POST /api/v1/memory/finalize
func (h *MemoryHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	taskID, err := h.svc.Finalize(r.Context(), req.UserID, req.AgentID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

// TaskStatus GET /api/v1/memory/task/{taskId}
func (h *MemoryHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]

	task, err := h.svc.TaskStatus(r.Context(), taskID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	data := map[string]any{"status": task.Status}
	if task.Error != "" {
		data["error"] = task.Error
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Stats GET /api/v1/memory/stats?user_id=..&agent_id=..
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")

	stats, err := h.svc.Stats(r.Context(), userID, agentID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// DeleteEvent DELETE /api/v1/memory/event/{eventId}
func (h *MemoryHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["eventId"]

	removed, err := h.svc.DeleteEvent(r.Context(), eventID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed_edges": removed})
}
