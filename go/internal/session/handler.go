package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes the lifecycle controller over HTTP, mirroring the
// platform UI's session controls (start, stop, reset, launch).
type Handler struct {
	controller *Controller
}

// NewHandler creates a lifecycle HTTP handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// RegisterRoutes registers the lifecycle routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/lifecycle/start", h.HandleStart)
	mux.HandleFunc("/api/lifecycle/stop", h.HandleStop)
	mux.HandleFunc("/api/lifecycle/reset", h.HandleReset)
	mux.HandleFunc("/api/lifecycle/launch", h.HandleLaunch)
	mux.HandleFunc("/api/lifecycle/phase", h.HandlePhase)
	log.Info().Msg("lifecycle routes registered")
}

// HandleStart starts a session for an owner and begins sync.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requirePost(w, r)
	if !ok {
		return
	}

	state, err := h.controller.StartSession(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, ownerID, "start", err)
		return
	}
	h.writeJSON(w, ownerID, state)
}

// HandleStop ends an owner's session and tears down sync.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requirePost(w, r)
	if !ok {
		return
	}

	if err := h.controller.StopSession(r.Context(), ownerID); err != nil {
		h.writeError(w, ownerID, "stop", err)
		return
	}
	h.writeJSON(w, ownerID, map[string]string{"status": "stopped"})
}

// HandleReset undeploys the owner's gamespace before ending the session.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	gameID := r.URL.Query().Get("game_id")
	if gameID == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}

	if err := h.controller.ResetSession(r.Context(), ownerID, gameID); err != nil {
		h.writeError(w, ownerID, "reset", err)
		return
	}
	h.writeJSON(w, ownerID, map[string]string{"status": "reset"})
}

// HandleLaunch deploys a challenge instance within an active session.
func (h *Handler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requirePost(w, r)
	if !ok {
		return
	}
	specID := r.URL.Query().Get("spec_id")
	if specID == "" {
		http.Error(w, "spec_id is required", http.StatusBadRequest)
		return
	}

	instance, err := h.controller.Launch(r.Context(), ownerID, specID)
	if err != nil {
		h.writeError(w, ownerID, "launch", err)
		return
	}
	h.writeJSON(w, ownerID, instance)
}

// HandlePhase returns the owner's current lifecycle phase.
func (h *Handler) HandlePhase(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, ownerID, map[string]Phase{"phase": h.controller.Phase(ownerID)})
}

func (h *Handler) requirePost(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return "", false
	}
	return ownerID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, ownerID string, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to encode lifecycle response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, ownerID, action string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrConflictingAction),
		errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, ErrRemoteRequestTimedOut):
		status = http.StatusGatewayTimeout
	}

	log.Warn().
		Err(err).
		Str("owner_id", ownerID).
		Str("action", action).
		Msg("lifecycle action failed")
	http.Error(w, err.Error(), status)
}
