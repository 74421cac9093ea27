package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader carries the API key on authenticated requests.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware rejects requests whose X-API-Key does not match apiKey.
// An empty apiKey disables the check. Health checks and CORS preflight
// requests are always let through.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" ||
				r.Method == http.MethodOptions ||
				r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				// Browsers cannot set headers on websocket upgrades.
				if strings.HasSuffix(r.URL.Path, "/stream") {
					key = r.URL.Query().Get("api_key")
				}
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Unauthorized",
					"code":  "UNAUTHORIZED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
