package api

import (
	"github.com/gorilla/mux"

	"github.com/marketmind/memoryd/internal/api/recovery"
	"github.com/marketmind/memoryd/internal/services"
)

// NewRouter wires all HTTP routes.
func NewRouter(svc *services.MemoryService, isReady func() bool) *mux.Router {
	router := mux.NewRouter()

	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler(isReady)
	memoryHandler := NewMemoryHandler(svc)

	// Health endpoints
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/health/ready", healthHandler.CheckReady).Methods("GET")

	// Memory endpoints
	router.HandleFunc("/api/v1/memory/add", memoryHandler.AddMemory).Methods("POST")
	router.HandleFunc("/api/v1/memory/context", memoryHandler.GetContext).Methods("POST")
	router.HandleFunc("/api/v1/memory/finalize", memoryHandler.Finalize).Methods("POST")
	router.HandleFunc("/api/v1/memory/task/{taskId}", memoryHandler.TaskStatus).Methods("GET")
	router.HandleFunc("/api/v1/memory/stats", memoryHandler.Stats).Methods("GET")

	// Admin endpoint to retract a consolidation event
	router.HandleFunc("/api/v1/memory/event/{eventId}", memoryHandler.DeleteEvent).Methods("DELETE")

	return router
}
