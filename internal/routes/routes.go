package routes

import (
	"net/http"

	"garia/internal/config"
	"garia/internal/handlers"
	"garia/internal/logger"
	"garia/internal/middleware"
	"garia/internal/services"

	"github.com/gorilla/mux"
)

// SetupRoutes registers the detection API, history, live stream, health and
// log endpoints, and wraps the router with CORS, API key and request logging
// middleware.
func SetupRoutes(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", handlers.HealthHandler(manager, logger)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Detection endpoints
	api.HandleFunc("/detect", handlers.DetectHandler(manager, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/detect/url", handlers.DetectURLHandler(manager, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/detect/batch", handlers.DetectBatchHandler(manager, cfg, logger)).Methods(http.MethodPost)

	// Model endpoints
	api.HandleFunc("/model/status", handlers.ModelStatusHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/model/config", handlers.ModelConfigHandler(manager, cfg, logger)).Methods(http.MethodPut)

	// History endpoints
	api.HandleFunc("/detections", handlers.ListResultsHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/detections", handlers.ClearResultsHandler(manager, logger)).Methods(http.MethodDelete)
	api.HandleFunc("/detections/stats", handlers.ResultStatsHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/detections/{id:[0-9]+}", handlers.GetResultHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/detections/{id:[0-9]+}/snapshot", handlers.SnapshotHandler(manager, logger)).Methods(http.MethodGet)

	// Live feed
	api.HandleFunc("/stream", handlers.StreamWebsocketHandler(manager, logger)).Methods(http.MethodGet)

	// Log endpoints
	r.HandleFunc("/logs/{level}", handlers.ShowLogsHandler(logger)).Methods(http.MethodGet)
	r.HandleFunc("/logs/{level}/clear", handlers.ClearLogsHandler(logger)).Methods(http.MethodPost)

	// Wrapped outside the router so preflight requests to POST-only routes
	// reach the CORS handler instead of a 405.
	var handler http.Handler = r
	handler = middleware.AuthMiddleware(cfg.APIKey)(handler)
	handler = middleware.CORSMiddleware(cfg.CORSOrigins)(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)
	return handler
}
