package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chorus-dao/kodo/internal/docstore"
	"github.com/chorus-dao/kodo/internal/edo"
	"github.com/chorus-dao/kodo/internal/gate"
	"github.com/chorus-dao/kodo/internal/model"
)

const defaultHistoryLimit = 20

// Handlers implements the HTTP endpoint handlers.
type Handlers struct {
	gate       *gate.Service
	heartbeats *gate.Heartbeats
	decisions  *edo.Log
	logger     *slog.Logger
	version    string
}

// HandleHealth returns liveness and version info.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

type gateResponse struct {
	Gate           *model.BudgetGate `json:"gate"`
	Revision       int64             `json:"revision"`
	Classification string            `json:"classification"`
}

// HandleGate returns the current budget gate, its revision, and how the
// classifier sees it right now.
func (h *Handlers) HandleGate(w http.ResponseWriter, r *http.Request) {
	g, rev, err := h.gate.Read(r.Context())
	if err != nil {
		h.logger.Error("read gate", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read gate")
		return
	}
	writeJSON(w, r, http.StatusOK, gateResponse{
		Gate:           g,
		Revision:       rev,
		Classification: h.gate.Classify(g).String(),
	})
}

// HandleHeartbeats returns every charter's current heartbeat.
func (h *Handlers) HandleHeartbeats(w http.ResponseWriter, r *http.Request) {
	hbs, err := h.heartbeats.Latest(r.Context())
	if err != nil {
		h.logger.Error("list heartbeats", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list heartbeats")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"heartbeats": hbs})
}

// HandleHeartbeatHistory returns a charter's prior heartbeats, newest first.
func (h *Handlers) HandleHeartbeatHistory(w http.ResponseWriter, r *http.Request) {
	charterID := r.PathValue("charter_id")
	if charterID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "charter_id is required")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	hbs, err := h.heartbeats.History(r.Context(), charterID, limit)
	if err != nil {
		h.logger.Error("heartbeat history", "charter_id", charterID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read heartbeat history")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"charter_id": charterID,
		"heartbeats": hbs,
	})
}

// HandleDecisions returns all recorded decisions, newest first.
func (h *Handlers) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.decisions.List(r.Context())
	if err != nil {
		h.logger.Error("list decisions", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list decisions")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"decisions": recs})
}

// HandleDecision returns a single decision by id.
func (h *Handlers) HandleDecision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.decisions.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "decision not found")
		case edo.IsCorrupted(err):
			h.logger.Error("decision log corrupted", "id", id, "error", err)
			writeError(w, r, http.StatusInternalServerError, "corrupted", "decision log corrupted")
		default:
			h.logger.Error("get decision", "id", id, "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read decision")
		}
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleIntegrity runs a full decision-log verification pass.
func (h *Handlers) HandleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.decisions.Verify(r.Context())
	if err != nil {
		if edo.IsCorrupted(err) {
			h.logger.Error("decision log corrupted", "error", err)
			writeError(w, r, http.StatusConflict, "corrupted", err.Error())
			return
		}
		h.logger.Error("verify decision log", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "verification failed")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
