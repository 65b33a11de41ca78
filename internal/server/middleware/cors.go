package middleware

import (
	"net/http"
	"strings"
)

// The API only serves GET snapshots and POST control actions.
const (
	corsMethods = "GET, POST"
	corsHeaders = "Content-Type, Authorization, X-API-Key"
	corsExpose  = "Retry-After"
	corsMaxAge  = "600"
)

// CORS lets the listed dashboard origins call the API from a browser. "*"
// allows any origin; an empty list allows none. Preflights from other
// origins get 403, and preflights for methods the API does not serve get
// 405.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	anyOrigin := false
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := origin != "" && (anyOrigin || allowed[strings.ToLower(origin)])
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExpose)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			reqMethod := r.Header.Get("Access-Control-Request-Method")
			switch {
			case reqMethod == "":
				w.WriteHeader(http.StatusNoContent)
			case !ok:
				writeJSONError(w, http.StatusForbidden, "origin not allowed")
			case reqMethod != http.MethodGet && reqMethod != http.MethodPost:
				w.Header().Set("Allow", corsMethods)
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			default:
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
			}
		})
	}
}
