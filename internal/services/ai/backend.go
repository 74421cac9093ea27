package ai

import (
	"strings"

	"garia/internal/config"
	"garia/internal/logger"
	"garia/internal/services/ai/yolo"
	"garia/internal/services/detection"

	"github.com/pkg/errors"
)

// Inference engines selectable with INFERENCE_ENGINE.
const (
	EngineOpenCV      = "opencv"
	EngineONNXRuntime = "onnxruntime"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// NewBackend returns the detection backend selected by cfg.
func NewBackend(cfg *config.Config, logger *logger.Logger) (detection.Backend, error) {
	labels, err := yolo.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	inputSize := cfg.InputSize
	if inputSize <= 0 {
		inputSize = yolo.InputSize
	}
	device := strings.ToLower(cfg.Device)
	if device != DeviceCUDA {
		device = DeviceCPU
	}

	switch strings.ToLower(cfg.InferenceEngine) {
	case EngineOpenCV, "":
		return NewOpenCVBackend(cfg.ModelDirectory, device, inputSize, labels, logger), nil
	case EngineONNXRuntime:
		return NewONNXBackend(cfg.ModelDirectory, cfg.ORTLibraryPath, device, inputSize, labels, logger), nil
	default:
		return nil, errors.Errorf("unknown inference engine %q", cfg.InferenceEngine)
	}
}
