package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/engine"
	"github.com/alanyoungcy/polypaper/internal/paper"
)

// Engine is the surface of the paper engine the API serves.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Status() engine.Status
	Window() engine.WindowView
	RecentOpportunities(limit int) []domain.Opportunity
	Series(limit int) []domain.SeriesPoint
	Labels(ctx context.Context, limit int) ([]domain.MarketLabel, error)

	Overview() []paper.Overview
	TierStats(tier domain.Tier) (paper.Stats, error)
	Positions(tier domain.Tier) ([]paper.MarkedPosition, error)
	TradeLog(tier domain.Tier, limit int) ([]domain.TradeLogEntry, error)
	Equity(ctx context.Context, tier domain.Tier, limit int) ([]domain.EquityPoint, error)
	ResetTier(ctx context.Context, tier domain.Tier) error
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownTier):
		writeError(w, http.StatusNotFound, "unknown tier")
	case errors.Is(err, domain.ErrEngineRunning):
		writeError(w, http.StatusConflict, "stop the engine first")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// parseLimit reads the limit query parameter, falling back to def and
// capping at ceiling.
func parseLimit(r *http.Request, def, ceiling int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}

// tierParam extracts the {tier} path value.
func tierParam(r *http.Request) domain.Tier {
	return domain.Tier(r.PathValue("tier"))
}
