package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/pastoralscape/internal/orchestrator"
)

// EventLog replays the lifecycle events recorded for a run.
type EventLog interface {
	History(ctx context.Context, runID string) ([]*orchestrator.RunEvent, error)
}

// NetworkStore answers questions about an exported household network.
type NetworkStore interface {
	Neighbours(ctx context.Context, runID string, agentID int) ([]int, error)
	Adoption(ctx context.Context, runID string) (map[string]map[string]int, error)
}

// SetEvents enables GET /api/runs/{id}/events.
func (h *Handler) SetEvents(ev EventLog) { h.events = ev }

// SetNetwork enables the household network routes.
func (h *Handler) SetNetwork(n NetworkStore) { h.network = n }

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "run events are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	events, err := h.events.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for run")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getAdoption(w http.ResponseWriter, r *http.Request) {
	if h.network == nil {
		writeError(w, http.StatusServiceUnavailable, "household network is not configured")
		return
	}
	adoption, err := h.network.Adoption(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(adoption) == 0 {
		writeError(w, http.StatusNotFound, "run has no exported network")
		return
	}
	writeJSON(w, http.StatusOK, adoption)
}

func (h *Handler) getNeighbours(w http.ResponseWriter, r *http.Request) {
	if h.network == nil {
		writeError(w, http.StatusServiceUnavailable, "household network is not configured")
		return
	}
	agentID, err := strconv.Atoi(chi.URLParam(r, "agent"))
	if err != nil || agentID <= 0 {
		writeError(w, http.StatusBadRequest, "agent must be a positive integer")
		return
	}
	ids, err := h.network.Neighbours(r.Context(), chi.URLParam(r, "id"), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, ids)
}
