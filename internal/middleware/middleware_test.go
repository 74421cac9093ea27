package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"garia/internal/config"
	"garia/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		method   string
		path     string
		header   string
		expected int
	}{
		{"disabled", "", http.MethodGet, "/api/v1/model/status", "", http.StatusOK},
		{"missing key", "secret", http.MethodGet, "/api/v1/model/status", "", http.StatusUnauthorized},
		{"wrong key", "secret", http.MethodGet, "/api/v1/model/status", "nope", http.StatusUnauthorized},
		{"valid key", "secret", http.MethodGet, "/api/v1/model/status", "secret", http.StatusOK},
		{"health is public", "secret", http.MethodGet, "/health", "", http.StatusOK},
		{"preflight is public", "secret", http.MethodOptions, "/api/v1/detect", "", http.StatusOK},
		{"stream query key", "secret", http.MethodGet, "/api/v1/stream?api_key=secret", "", http.StatusOK},
		{"query key elsewhere", "secret", http.MethodGet, "/api/v1/detections?api_key=secret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tt.apiKey)(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		CORSMiddleware([]string{"*"})(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allow list", func(t *testing.T) {
		handler := CORSMiddleware([]string{"http://app.local"})(okHandler)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://app.local")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.local")
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/detect", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		CORSMiddleware([]string{"*"})(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
	})
}

func TestLoggingMiddleware(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewLogger(&config.Config{LogDirectory: dir, LogLevel: "info"})
	defer log.Close()

	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(log)(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/detect", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	data, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "POST /api/v1/detect -> 500")
}
