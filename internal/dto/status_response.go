package dto

import "garia/internal/services/detection"

// StatusResponse wraps the pipeline status.
type StatusResponse struct {
	Success bool             `json:"success"`
	Status  detection.Status `json:"status"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Viewers     int    `json:"viewers"`
	Timestamp   string `json:"timestamp"`
}
