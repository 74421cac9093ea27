package handlers

import (
	"net/http"
	"time"

	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/services"
)

// HealthHandler reports liveness. The server is healthy even before the
// first model load.
func HealthHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := dto.HealthResponse{
			Status:      "healthy",
			ModelLoaded: manager.GetPipeline().Status().ModelLoaded,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
		if hub := manager.GetWebsocketService(); hub != nil {
			resp.Viewers = hub.GetClientCount()
		}
		writeJSON(w, http.StatusOK, resp, logger)
	}
}
