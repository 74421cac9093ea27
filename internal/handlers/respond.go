package handlers

import (
	"encoding/json"
	"net/http"

	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
)

// Error codes returned in dto.ErrorResponse.
const (
	CodeNoImageFile          = "NO_IMAGE_FILE"
	CodeNoFileSelected       = "NO_FILE_SELECTED"
	CodeInvalidFileType      = "INVALID_FILE_TYPE"
	CodeInvalidConfidence    = "INVALID_CONFIDENCE"
	CodeInvalidIoU           = "INVALID_IOU_THRESHOLD"
	CodeInvalidMaxDetections = "INVALID_MAX_DETECTIONS"
	CodeImageProcessing      = "IMAGE_PROCESSING_ERROR"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeModelUnavailable     = "MODEL_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
	CodeNoImageURL           = "NO_IMAGE_URL"
	CodeImageFetch           = "IMAGE_FETCH_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeHistoryUnavailable   = "HISTORY_UNAVAILABLE"
)

func writeJSON(w http.ResponseWriter, status int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// writeError sends an error payload. details is only exposed when debug is set.
func writeError(w http.ResponseWriter, status int, code, message string, details error, debug bool, logger *logger.Logger) {
	resp := dto.ErrorResponse{Error: message, Code: code}
	if debug && details != nil {
		msg := details.Error()
		resp.Details = &msg
	}
	writeJSON(w, status, resp, logger)
}

// writePipelineError maps a pipeline failure to its HTTP status and code.
func writePipelineError(w http.ResponseWriter, err error, debug bool, logger *logger.Logger) {
	switch models.KindOf(err) {
	case models.ErrInvalidConfiguration:
		writeError(w, http.StatusBadRequest, CodeInvalidConfiguration, "Invalid detection configuration", err, debug, logger)
	case models.ErrImageDecode:
		writeError(w, http.StatusBadRequest, CodeImageProcessing, "Error processing image", err, debug, logger)
	case models.ErrModelLoad:
		logger.Error("Model unavailable: %v", err)
		writeError(w, http.StatusServiceUnavailable, CodeModelUnavailable, "Detection model unavailable", err, debug, logger)
	default:
		logger.Error("Error during object detection: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", err, debug, logger)
	}
}
