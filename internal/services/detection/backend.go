package detection

import (
	"context"

	"garia/internal/models"
)

// Backend loads detection models for the pipeline.
type Backend interface {
	// Load opens the model named by id. Failures are reported as models.ErrModelLoad.
	Load(ctx context.Context, id models.ModelIdentifier) (Model, error)
}

// Model is a loaded detector.
type Model interface {
	// Infer runs the detector on src. Decode failures carry models.ErrImageDecode,
	// everything else models.ErrInference.
	Infer(ctx context.Context, src models.ImageSource, params InferParams) ([]RawPrediction, error)
	Describe() ModelInfo
	// Labels maps class ids to class names.
	Labels() []string
	Close() error
}

// InferParams are the per-request thresholds handed to a Model.
type InferParams struct {
	Confidence    float64
	IoU           float64
	MaxDetections int
	// ClassIDs restricts the detector to these class ids. Nil means all classes.
	ClassIDs []int
}

// RawPrediction is one box as produced by a Model, in source image pixels.
type RawPrediction struct {
	ClassID    int
	ClassName  string
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
	Normalized *models.NormalizedBox
}

// ModelInfo is the provenance of a loaded model.
type ModelInfo struct {
	Name   string
	Path   string
	Device string
	Task   string
}

// Map renders the info the way results and status report it.
func (i ModelInfo) Map() map[string]string {
	return map[string]string{
		"status":     "loaded",
		"model_name": i.Name,
		"model_path": i.Path,
		"device":     i.Device,
		"task":       i.Task,
	}
}
