package dto

import (
	"math"
	"time"

	"garia/internal/models"
)

// BBox is a bounding box as returned to API clients.
type BBox struct {
	X1     float64    `json:"x1"`
	Y1     float64    `json:"y1"`
	X2     float64    `json:"x2"`
	Y2     float64    `json:"y2"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Center [2]float64 `json:"center"`
}

// Detection is a single detected object.
type Detection struct {
	ClassID    int                   `json:"class_id"`
	ClassName  string                `json:"class_name"`
	Confidence float64               `json:"confidence"`
	BBox       BBox                  `json:"bbox"`
	Normalized *models.NormalizedBox `json:"bbox_normalized,omitempty"`
}

// GarbageItem is the short name/confidence pair of a detection.
type GarbageItem struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// DetectionResponse is the payload of a successful detection request.
type DetectionResponse struct {
	Success         bool              `json:"success"`
	TotalDetections int               `json:"total_detections"`
	GarbageDetected []GarbageItem     `json:"garbage_detected"`
	Counts          map[string]int    `json:"counts"`
	UniqueClasses   []string          `json:"unique_classes"`
	Detections      []Detection       `json:"detections"`
	Statistics      models.Statistics `json:"statistics"`
	ImageInfo       models.ImageInfo  `json:"image_info"`
	ModelInfo       map[string]string `json:"model_info"`
	ProcessingTime  float64           `json:"processing_time"`
	Timestamp       string            `json:"timestamp"`
	Error           string            `json:"error,omitempty"`
	ID              int64             `json:"id,omitempty"`
}

// NewDetectionResponse renders result for the API.
func NewDetectionResponse(result *models.DetectionResult) DetectionResponse {
	resp := DetectionResponse{
		Success:         !result.Failed(),
		TotalDetections: result.DetectionCount(),
		GarbageDetected: make([]GarbageItem, 0, len(result.Detections)),
		Counts:          result.ClassCounts(),
		UniqueClasses:   result.UniqueClasses(),
		Detections:      make([]Detection, 0, len(result.Detections)),
		Statistics:      result.Statistics(),
		ImageInfo:       result.ImageInfo,
		ModelInfo:       result.ModelInfo,
		ProcessingTime:  Round(result.ProcessingTime, 4),
		Timestamp:       result.Timestamp.Format(time.RFC3339),
		Error:           result.ImageInfo.ErrorMessage(),
	}
	resp.Statistics.ProcessingTime = resp.ProcessingTime

	for _, d := range result.Detections {
		resp.GarbageDetected = append(resp.GarbageDetected, GarbageItem{Name: d.ClassName, Confidence: d.Confidence})
		resp.Detections = append(resp.Detections, NewDetection(d))
	}
	return resp
}

// NewDetection renders d for the API.
func NewDetection(d models.Detection) Detection {
	cx, cy := d.BBox.Center()
	return Detection{
		ClassID:    d.ClassID,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBox: BBox{
			X1:     d.BBox.X1,
			Y1:     d.BBox.Y1,
			X2:     d.BBox.X2,
			Y2:     d.BBox.Y2,
			Width:  d.BBox.Width(),
			Height: d.BBox.Height(),
			Center: [2]float64{cx, cy},
		},
		Normalized: d.Normalized,
	}
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
