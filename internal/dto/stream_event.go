package dto

import (
	"time"

	"garia/internal/models"
)

// StreamEvent is broadcast to live viewers for every recorded result.
type StreamEvent struct {
	Type            string         `json:"type"`
	ID              int64          `json:"id,omitempty"`
	Source          string         `json:"source"`
	TotalDetections int            `json:"total_detections"`
	Counts          map[string]int `json:"counts"`
	ProcessingTime  float64        `json:"processing_time"`
	Timestamp       string         `json:"timestamp"`
	Error           string         `json:"error,omitempty"`
	Snapshot        string         `json:"snapshot,omitempty"`
}

// NewStreamEvent summarizes a recorded result.
func NewStreamEvent(id int64, source string, result *models.DetectionResult) StreamEvent {
	return StreamEvent{
		Type:            "detection",
		ID:              id,
		Source:          source,
		TotalDetections: result.DetectionCount(),
		Counts:          result.ClassCounts(),
		ProcessingTime:  Round(result.ProcessingTime, 4),
		Timestamp:       result.Timestamp.Format(time.RFC3339),
		Error:           result.ImageInfo.ErrorMessage(),
	}
}
