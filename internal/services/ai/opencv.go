package ai

import (
	"context"
	"image"
	"os"
	"sort"
	"sync"

	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/services/ai/yolo"
	"garia/internal/services/detection"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCVBackend loads ONNX detectors into the OpenCV DNN module.
type OpenCVBackend struct {
	modelDir  string
	device    string
	inputSize int
	labels    []string
	logger    *logger.Logger
}

func NewOpenCVBackend(modelDir, device string, inputSize int, labels []string, logger *logger.Logger) *OpenCVBackend {
	return &OpenCVBackend{
		modelDir:  modelDir,
		device:    device,
		inputSize: inputSize,
		labels:    labels,
		logger:    logger,
	}
}

// Load reads the network named by id and selects the preferred target.
func (b *OpenCVBackend) Load(_ context.Context, id models.ModelIdentifier) (detection.Model, error) {
	path := yolo.ResolveModelPath(b.modelDir, id)
	if _, err := os.Stat(path); err != nil {
		return nil, models.NewError(models.ErrModelLoad, errors.Wrapf(err, "model file %s", path))
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, models.NewError(models.ErrModelLoad, errors.Errorf("failed to load network %s", path))
	}

	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if b.device == DeviceCUDA {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, models.NewError(models.ErrModelLoad, errors.Errorf("failed to set preferable backend or target for %s", b.device))
	}

	b.logger.Info("Detection network initialized: %s (%s)", path, b.device)
	return &openCVModel{
		net:       net,
		info:      detection.ModelInfo{Name: id.Name, Path: path, Device: b.device, Task: "detect"},
		inputSize: b.inputSize,
		labels:    b.labels,
	}, nil
}

// openCVModel serializes Forward calls; a gocv.Net is not safe for concurrent use.
type openCVModel struct {
	mu        sync.Mutex
	net       gocv.Net
	info      detection.ModelInfo
	inputSize int
	labels    []string
}

func (m *openCVModel) Infer(ctx context.Context, src models.ImageSource, params detection.InferParams) ([]detection.RawPrediction, error) {
	mat, err := readMat(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	width, height := mat.Cols(), mat.Rows()
	size := max(width, height)

	// Pad to a square so boxes scale back with a single factor.
	square := gocv.NewMatWithSizeWithScalar(size, size, gocv.MatTypeCV8UC3, gocv.NewScalar(0, 0, 0, 0))
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	mat.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	m.mu.Lock()
	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	m.mu.Unlock()
	defer output.Close()

	classes, anchors, err := yolo.Shape(output.Size())
	if err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, models.NewError(models.ErrInference, errors.Wrap(err, "read network output"))
	}

	lb := yolo.NewLetterbox(width, height, m.inputSize)
	candidates, err := yolo.Decode(data, classes, anchors, lb, float32(params.Confidence), params.ClassIDs)
	if err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	kept := nmsBoxes(candidates, float32(params.Confidence), float32(params.IoU), params.MaxDetections)
	return yolo.Predictions(kept, m.labels, width, height), nil
}

func (m *openCVModel) Describe() detection.ModelInfo { return m.info }

func (m *openCVModel) Labels() []string { return m.labels }

func (m *openCVModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// nmsBoxes runs OpenCV NMS per class and merges the survivors, best first.
func nmsBoxes(candidates []yolo.Candidate, confidence, iou float32, maxDetections int) []yolo.Candidate {
	byClass := make(map[int][]yolo.Candidate)
	for _, c := range candidates {
		byClass[c.ClassID] = append(byClass[c.ClassID], c)
	}

	var kept []yolo.Candidate
	for _, group := range byClass {
		boxes := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			boxes[i] = c.Rect()
			scores[i] = c.Score
		}
		for _, idx := range gocv.NMSBoxes(boxes, scores, confidence, iou) {
			kept = append(kept, group[idx])
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if maxDetections > 0 && len(kept) > maxDetections {
		kept = kept[:maxDetections]
	}
	return kept
}

// readMat loads src as a BGR Mat. Files OpenCV cannot read fall back to the
// Go decoders.
func readMat(src models.ImageSource) (gocv.Mat, error) {
	if src.Kind == models.SourceFilePath {
		mat := gocv.IMRead(src.Path, gocv.IMReadColor)
		if !mat.Empty() {
			return mat, nil
		}
		mat.Close()
	}

	img, err := src.Decode()
	if err != nil {
		return gocv.Mat{}, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, models.NewError(models.ErrImageDecode, errors.Wrap(err, "convert image"))
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, models.NewError(models.ErrImageDecode, errors.New("decoded image is empty"))
	}
	return mat, nil
}
