package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/config"
	"github.com/nidhogg/pastoralscape/internal/orchestrator"
	"github.com/nidhogg/pastoralscape/internal/sim"
	"github.com/nidhogg/pastoralscape/internal/store"
)

// maxParamsBytes bounds the size of a submitted parameter document.
const maxParamsBytes = 1 << 20

// RunStore is the persisted run history the API falls back to when a run
// is no longer cached.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*store.RunRecord, error)
	ListDecisions(ctx context.Context, runID string, agentID int) ([]sim.DecisionRecord, error)
}

type runResponse struct {
	orchestrator.Job
	Summary *sim.Summary `json:"summary,omitempty"`
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > maxParamsBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "params document too large")
		return
	}

	params := h.base
	if len(bytes.TrimSpace(body)) > 0 {
		params, err = config.ParseParams(bytes.NewReader(body))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Requests may not make the server read arbitrary files.
		if params.Environment.CSV != "" && params.Environment.CSV != h.base.Environment.CSV {
			writeError(w, http.StatusBadRequest, "environment.csv may not be set by a request")
			return
		}
	}

	seed, ok, err := queryUint(r, "seed")
	if err != nil {
		writeError(w, http.StatusBadRequest, "seed must be an unsigned integer")
		return
	}
	if !ok {
		seed = params.Seed
	}

	field, err := sim.LoadField(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.runner.Submit(r.Context(), orchestrator.Request{Params: params, Field: field, Seed: seed})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.metrics.RunsSubmitted.Inc()
	h.logger.Info("run submitted", zap.String("run", job.ID), zap.Uint64("seed", seed))
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Jobs())
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.runner.Job(id)
	if err == nil {
		resp := runResponse{Job: job}
		if out, ok := h.results.Get(id); ok {
			resp.Summary = &out.Summary
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if h.store != nil {
		rec, err := h.store.GetRun(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, rec)
			return
		case !errors.Is(err, store.ErrRunNotFound):
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}

func (h *Handler) getDecisions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agentID := 0
	if v := r.URL.Query().Get("agent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "agent must be a positive integer")
			return
		}
		agentID = n
	}

	if out, ok := h.results.Get(id); ok {
		writeJSON(w, http.StatusOK, filterDecisions(out.Decisions, agentID))
		return
	}

	if job, err := h.runner.Job(id); err == nil && job.Status != orchestrator.JobDone {
		writeError(w, http.StatusConflict, "run is "+string(job.Status))
		return
	}

	if h.store != nil {
		if _, err := h.store.GetRun(r.Context(), id); err == nil {
			decisions, err := h.store.ListDecisions(r.Context(), id, agentID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, decisions)
			return
		} else if !errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}

func filterDecisions(all []sim.DecisionRecord, agentID int) []sim.DecisionRecord {
	if agentID == 0 {
		return all
	}
	out := make([]sim.DecisionRecord, 0)
	for _, d := range all {
		if d.AgentID == agentID {
			out = append(out, d)
		}
	}
	return out
}
