package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"garia/internal/logger"

	"github.com/pkg/errors"
)

// statusRecorder remembers the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// LoggingMiddleware logs method, path, status and duration of every request.
// Server errors are logged at error level, client errors at warning level.
func LoggingMiddleware(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			switch {
			case rec.status >= 500:
				logger.Error("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
			case rec.status >= 400:
				logger.Warning("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
			default:
				logger.Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
			}
		})
	}
}
