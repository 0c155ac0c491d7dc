package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupHealthRoutes registers the liveness and readiness probes outside the
// admission pipeline.
func SetupHealthRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/healthz/live", h.Liveness).Methods("GET")
	router.HandleFunc("/healthz/ready", h.Readiness).Methods("GET")
}

// Liveness handles GET /healthz/live
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /healthz/ready: the service is ready when the
// database answers.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
