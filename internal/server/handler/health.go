package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polypaper/internal/engine"
	"github.com/alanyoungcy/polypaper/internal/feed"
)

// StatusSource is the part of the engine the health check reads.
type StatusSource interface {
	Status() engine.Status
}

// Health states.
const (
	HealthOK       = "ok"
	HealthIdle     = "idle"
	HealthDegraded = "degraded"
)

// HealthHandler reports whether the engine trades on live data.
type HealthHandler struct {
	mode   string
	engine StatusSource
	now    func() time.Time
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the engine running in mode.
func NewHealthHandler(mode string, e StatusSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{mode: mode, engine: e, now: time.Now, logger: logHandler(logger, "health")}
}

type feedHealth struct {
	Name    string     `json:"name"`
	State   feed.State `json:"state"`
	Attempt int        `json:"attempt,omitempty"`
}

type healthResponse struct {
	Status        string       `json:"status"`
	Mode          string       `json:"mode"`
	Running       bool         `json:"running"`
	UptimeSeconds *float64     `json:"uptimeSeconds,omitempty"`
	Feeds         []feedHealth `json:"feeds"`
	Timestamp     string       `json:"timestamp"`
}

// HealthCheck answers 200 while the engine is stopped or trading with both
// feeds connected, and 503 while it runs with a feed down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Status()
	now := h.now()
	resp := healthResponse{
		Status:    HealthIdle,
		Mode:      h.mode,
		Running:   st.Running,
		Feeds:     make([]feedHealth, 0, len(st.Feeds)),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	for _, f := range st.Feeds {
		resp.Feeds = append(resp.Feeds, feedHealth{Name: f.Name, State: f.State, Attempt: f.Attempt})
	}

	code := http.StatusOK
	if st.Running {
		resp.Status = HealthOK
		if st.StartedAt != nil {
			up := now.Sub(*st.StartedAt).Seconds()
			resp.UptimeSeconds = &up
		}
		if !st.FeedConnected || !st.IndexConnected {
			resp.Status = HealthDegraded
			code = http.StatusServiceUnavailable
			h.logger.DebugContext(r.Context(), "health degraded",
				slog.Bool("book", st.FeedConnected),
				slog.Bool("index", st.IndexConnected),
			)
		}
	}
	writeJSON(w, code, resp)
}
