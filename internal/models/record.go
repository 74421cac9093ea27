package models

import "time"

// ResultRecord is a DetectionResult as stored in the history database.
type ResultRecord struct {
	ID             int64       `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	SourceName     string      `json:"source_name"`
	SourceType     string      `json:"source_type"`
	ImageWidth     int         `json:"image_width"`
	ImageHeight    int         `json:"image_height"`
	ProcessingTime float64     `json:"processing_time"`
	ModelPath      string      `json:"model_path"`
	Device         string      `json:"device"`
	DetectionCount int         `json:"detection_count"`
	Error          string      `json:"error,omitempty"`
	SnapshotPath   string      `json:"snapshot_path,omitempty"`
	Detections     []Detection `json:"detections,omitempty"`
}

// NewResultRecord flattens result for storage.
func NewResultRecord(result *DetectionResult, sourceName string) *ResultRecord {
	rec := &ResultRecord{
		Timestamp:      result.Timestamp,
		SourceName:     sourceName,
		ProcessingTime: result.ProcessingTime,
		ModelPath:      result.ModelInfo["model_path"],
		Device:         result.ModelInfo["device"],
		DetectionCount: len(result.Detections),
		Error:          result.ImageInfo.ErrorMessage(),
		Detections:     result.Detections,
	}
	if st, ok := result.ImageInfo["source_type"].(string); ok {
		rec.SourceType = st
	}
	if w, ok := result.ImageInfo["width"].(int); ok {
		rec.ImageWidth = w
	}
	if h, ok := result.ImageInfo["height"].(int); ok {
		rec.ImageHeight = h
	}
	return rec
}

// ResultFilter contains filtering options for querying stored results.
type ResultFilter struct {
	ClassName  string
	SourceType string
	After      time.Time
	Before     time.Time
	OnlyFailed bool
	Limit      int
	Offset     int
}

// ResultStats contains statistics about stored results.
type ResultStats struct {
	TotalResults    int            `json:"total_results"`
	TotalDetections int            `json:"total_detections"`
	FailedResults   int            `json:"failed_results"`
	ClassCounts     map[string]int `json:"class_counts"`
}
