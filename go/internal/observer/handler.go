package observer

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gameboard/gamesync/go/internal/session"
)

// Handler serves observer WebSocket upgrades and JSON state snapshots.
type Handler struct {
	connectionManager *ConnectionManager
	merger            *session.Merger
}

// NewHandler creates an observer HTTP handler.
func NewHandler(cm *ConnectionManager, merger *session.Merger) *Handler {
	return &Handler{
		connectionManager: cm,
		merger:            merger,
	}
}

// HandleSessionConnection upgrades an observer to a WebSocket watching
// one owner's session.
func (h *Handler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, ownerID); err != nil {
		log.Error().
			Err(err).
			Str("owner_id", ownerID).
			Msg("failed to upgrade observer connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleSessionState returns the current merged state snapshot for an
// owner, so observers can render before the first broadcast arrives.
func (h *Handler) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	state, tracked := h.merger.State(ownerID)
	if !tracked {
		http.Error(w, "owner is not tracked", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"owner_id": ownerID,
		"state":    state,
	}); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to encode state snapshot")
	}
}

// HandleConnectionStats returns statistics about observer connections.
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers observer routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/api/observer/state", h.HandleSessionState)
	mux.HandleFunc("/api/observer/stats", h.HandleConnectionStats)
}
