package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// EngineHandler serves engine control and the market-side snapshots.
type EngineHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(e Engine, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: e, logger: logHandler(logger, "engine")}
}

// GetStatus returns running state, feed health and limits.
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Start starts the engine loops.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		writeDomainError(w, r, h.logger, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// Stop stops the engine loops.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		writeDomainError(w, r, h.logger, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// GetWindow returns the current window with its reference state.
// GET /api/window
func (h *EngineHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Window())
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListOpportunities returns recent opportunities, newest first.
// GET /api/opportunities?limit=50
func (h *EngineHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.engine.RecentOpportunities(parseLimit(r, 50, 200))
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// GetSeries returns recent recorder samples.
// GET /api/series?limit=600
func (h *EngineHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"points": h.engine.Series(parseLimit(r, 600, 3000))})
}

// ListLabels returns the instrument-pair label cache.
// GET /api/labels?limit=100
func (h *EngineHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.engine.Labels(r.Context(), parseLimit(r, 100, 500))
	if err != nil {
		writeDomainError(w, r, h.logger, "list labels", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
