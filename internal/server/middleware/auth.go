package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"slices"
	"strings"
)

// Access decides which requests need the API key. With a key configured,
// engine control (start, stop, reset) always requires it.
type Access struct {
	APIKey string
	// Public paths are served without a key, e.g. the health check.
	Public []string
	// OpenReads serves GET requests without a key so a read-only dashboard
	// can poll the snapshots.
	OpenReads bool
}

type clientCtxKey struct{}

// Auth checks the Bearer token or X-API-Key header against a.APIKey and
// records the caller identity for Client. An empty key disables the check.
func Auth(a Access) func(http.Handler) http.Handler {
	keyID := "key:" + fingerprint(a.APIKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.APIKey == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			switch {
			case token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.APIKey)) == 1:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientCtxKey{}, keyID)))
			case slices.Contains(a.Public, r.URL.Path):
				next.ServeHTTP(w, r)
			case token != "":
				writeUnauthorized(w, "invalid authentication token")
			case a.OpenReads && isRead(r.Method):
				next.ServeHTTP(w, r)
			default:
				writeUnauthorized(w, "missing authentication token")
			}
		})
	}
}

// Client identifies the caller: "key:<fingerprint>" once Auth accepted the
// API key, otherwise "ip:<address>".
func Client(r *http.Request) string {
	if id, ok := r.Context().Value(clientCtxKey{}).(string); ok {
		return id
	}
	return "ip:" + clientIP(r)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// fingerprint names a key in rate-limit buckets and logs without exposing it.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
