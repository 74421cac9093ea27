package models

import (
	"sort"
	"time"
)

// ImageInfo describes the source image of a result. Its keys depend on the
// source kind; see ImageSource.Info.
type ImageInfo map[string]any

// ErrorMessage returns the error description carried by a failed batch item, or "".
// Inspection problems of a successful result ("inspect_error") are not failures.
func (i ImageInfo) ErrorMessage() string {
	if msg, ok := i["error"].(string); ok {
		return msg
	}
	return ""
}

// DetectionResult is the outcome of one detection request.
//
// Detections keep the detector's output order. All accessors are read-only.
type DetectionResult struct {
	Detections     []Detection       `json:"detections"`
	ImageInfo      ImageInfo         `json:"image_info"`
	ProcessingTime float64           `json:"processing_time"`
	ModelInfo      map[string]string `json:"model_info"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Statistics summarizes the detections of a result.
type Statistics struct {
	TotalDetections int      `json:"total_detections"`
	UniqueClasses   []string `json:"unique_classes"`
	AvgConfidence   float64  `json:"avg_confidence"`
	MaxConfidence   float64  `json:"max_confidence"`
	MinConfidence   float64  `json:"min_confidence"`
	ProcessingTime  float64  `json:"processing_time"`
}

// NewFailedResult builds the placeholder a batch stores for an item that failed.
func NewFailedResult(err error, modelInfo map[string]string) *DetectionResult {
	return &DetectionResult{
		Detections: []Detection{},
		ImageInfo:  ImageInfo{"error": err.Error()},
		ModelInfo:  modelInfo,
		Timestamp:  time.Now(),
	}
}

// Failed reports whether the result stands in for a failed batch item.
func (r *DetectionResult) Failed() bool {
	return r.ImageInfo.ErrorMessage() != ""
}

// DetectionCount returns the number of detections.
func (r *DetectionResult) DetectionCount() int {
	return len(r.Detections)
}

// UniqueClasses returns the distinct class names, sorted.
func (r *DetectionResult) UniqueClasses() []string {
	seen := make(map[string]struct{}, len(r.Detections))
	classes := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		if _, ok := seen[d.ClassName]; ok {
			continue
		}
		seen[d.ClassName] = struct{}{}
		classes = append(classes, d.ClassName)
	}
	sort.Strings(classes)
	return classes
}

// ClassCounts returns the number of detections per class name.
func (r *DetectionResult) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, d := range r.Detections {
		counts[d.ClassName]++
	}
	return counts
}

// FilterByConfidence returns the detections with confidence >= minConfidence, in order.
func (r *DetectionResult) FilterByConfidence(minConfidence float64) []Detection {
	filtered := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		if d.Confidence >= minConfidence {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// FilterByClass returns the detections whose class name is one of names, in order.
func (r *DetectionResult) FilterByClass(names ...string) []Detection {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}

	filtered := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		if _, ok := allowed[d.ClassName]; ok {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// Statistics computes the aggregate statistics. An empty result yields zero
// confidences and an empty class list.
func (r *DetectionResult) Statistics() Statistics {
	stats := Statistics{
		TotalDetections: len(r.Detections),
		UniqueClasses:   r.UniqueClasses(),
		ProcessingTime:  r.ProcessingTime,
	}
	if len(r.Detections) == 0 {
		return stats
	}

	var sum float64
	stats.MinConfidence = r.Detections[0].Confidence
	stats.MaxConfidence = r.Detections[0].Confidence
	for _, d := range r.Detections {
		sum += d.Confidence
		stats.MinConfidence = min(stats.MinConfidence, d.Confidence)
		stats.MaxConfidence = max(stats.MaxConfidence, d.Confidence)
	}
	stats.AvgConfidence = sum / float64(len(r.Detections))

	return stats
}
