package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/paper"
)

// PaperHandler serves the per-tier ledger views.
type PaperHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewPaperHandler creates a PaperHandler.
func NewPaperHandler(e Engine, logger *slog.Logger) *PaperHandler {
	return &PaperHandler{engine: e, logger: logHandler(logger, "paper")}
}

type overviewResponse struct {
	Tiers []paper.Overview `json:"tiers"`
}

// Overview returns the headline numbers of every tier.
// GET /api/paper/overview
func (h *PaperHandler) Overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, overviewResponse{Tiers: h.engine.Overview()})
}

type positionsResponse struct {
	Tier      domain.Tier            `json:"tier"`
	Positions []paper.MarkedPosition `json:"positions"`
}

// Positions returns the marked positions of a tier, newest first.
// GET /api/paper/{tier}/positions
func (h *PaperHandler) Positions(w http.ResponseWriter, r *http.Request) {
	tier := tierParam(r)
	pos, err := h.engine.Positions(tier)
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{Tier: tier, Positions: pos})
}

// Stats returns the detailed performance of a tier.
// GET /api/paper/{tier}/stats
func (h *PaperHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.TierStats(tierParam(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "tier stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Trades returns the BUY/SELL log of a tier.
// GET /api/paper/{tier}/trades?limit=100
func (h *PaperHandler) Trades(w http.ResponseWriter, r *http.Request) {
	tier := tierParam(r)
	trades, err := h.engine.TradeLog(tier, parseLimit(r, 100, 1000))
	if err != nil {
		writeDomainError(w, r, h.logger, "trade log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier, "trades": trades})
}

// Equity returns the equity curve of a tier, oldest first.
// GET /api/paper/{tier}/equity?limit=500
func (h *PaperHandler) Equity(w http.ResponseWriter, r *http.Request) {
	tier := tierParam(r)
	pts, err := h.engine.Equity(r.Context(), tier, parseLimit(r, 500, 5000))
	if err != nil {
		writeDomainError(w, r, h.logger, "equity", err)
		return
	}
	if pts == nil {
		pts = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier, "points": pts})
}

// Reset restores a tier to its starting bankroll. The engine must be
// stopped.
// POST /api/paper/{tier}/reset
func (h *PaperHandler) Reset(w http.ResponseWriter, r *http.Request) {
	tier := tierParam(r)
	if err := h.engine.ResetTier(r.Context(), tier); err != nil {
		writeDomainError(w, r, h.logger, "reset", err)
		return
	}
	h.logger.InfoContext(r.Context(), "tier reset via api", slog.String("tier", string(tier)))
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier, "reset": true})
}
