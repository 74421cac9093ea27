package handlers

import (
	"encoding/json"
	"net/http"

	"garia/internal/config"
	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/services"
)

// ModelStatusHandler reports whether a model is loaded and with which configuration.
func ModelStatusHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.StatusResponse{
			Success: true,
			Status:  manager.GetPipeline().Status(),
		}, logger)
	}
}

// ModelConfigHandler merges the JSON body onto the active configuration and
// makes the result the new active configuration. The model itself is loaded
// lazily by the next detection.
func ModelConfigHandler(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var override models.ConfigOverride
		if err := json.NewDecoder(r.Body).Decode(&override); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidConfiguration, "Invalid configuration body", err, cfg.Debug, logger)
			return
		}

		pipeline := manager.GetPipeline()
		if _, err := pipeline.Reconfigure(override); err != nil {
			writePipelineError(w, err, cfg.Debug, logger)
			return
		}

		writeJSON(w, http.StatusOK, dto.StatusResponse{Success: true, Status: pipeline.Status()}, logger)
	}
}
