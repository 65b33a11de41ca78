package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// Budget is the per-window request allowance of one client. Control
// requests (engine start, stop, tier reset) draw on their own allowance.
type Budget struct {
	Reads    int
	Controls int
	Window   time.Duration
}

// RateLimit limits each client, as identified by Client, per request class.
// Limiter failures let the request through.
func RateLimit(limiter domain.RateLimiter, b Budget, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(b.Window.Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, limit := "read", b.Reads
			if !isRead(r.Method) {
				class, limit = "control", b.Controls
			}
			if limit <= 0 || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			client := Client(r)
			allowed, err := limiter.Allow(r.Context(), "ratelimit:api:"+class+":"+client, limit, b.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.DebugContext(r.Context(), "rate limited",
					slog.String("client", client),
					slog.String("class", class),
				)
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
