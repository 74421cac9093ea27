package ai

import (
	"context"
	"image"
	"image/color"
	"os"
	"sync"

	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/services/ai/yolo"
	"garia/internal/services/detection"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initializeORT prepares the onnxruntime environment once per process.
func initializeORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXBackend runs detectors through onnxruntime.
type ONNXBackend struct {
	modelDir  string
	libPath   string
	device    string
	inputSize int
	labels    []string
	logger    *logger.Logger
}

func NewONNXBackend(modelDir, libPath, device string, inputSize int, labels []string, logger *logger.Logger) *ONNXBackend {
	return &ONNXBackend{
		modelDir:  modelDir,
		libPath:   libPath,
		device:    device,
		inputSize: inputSize,
		labels:    labels,
		logger:    logger,
	}
}

// Load creates a session with preallocated input and output tensors.
func (b *ONNXBackend) Load(_ context.Context, id models.ModelIdentifier) (detection.Model, error) {
	path := yolo.ResolveModelPath(b.modelDir, id)
	if _, err := os.Stat(path); err != nil {
		return nil, models.NewError(models.ErrModelLoad, errors.Wrapf(err, "model file %s", path))
	}
	if err := initializeORT(b.libPath); err != nil {
		return nil, models.NewError(models.ErrModelLoad, errors.Wrap(err, "initialize onnxruntime"))
	}

	inputName, outputName := "images", "output0"
	outputShape := ort.NewShape(1, int64(4+len(b.labels)), 8400)
	if inputs, outputs, err := ort.GetInputOutputInfo(path); err == nil && len(inputs) == 1 && len(outputs) == 1 {
		inputName, outputName = inputs[0].Name, outputs[0].Name
		if dims := outputs[0].Dimensions; len(dims) == 3 && dims[1] > 0 && dims[2] > 0 {
			outputShape = ort.NewShape(1, dims[1], dims[2])
		}
	} else if err != nil {
		b.logger.Warning("Could not inspect %s, assuming YOLOv8 layout: %v", path, err)
	}

	size := int64(b.inputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, models.NewError(models.ErrModelLoad, errors.Wrap(err, "create input tensor"))
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, models.NewError(models.ErrModelLoad, errors.Wrap(err, "create output tensor"))
	}

	options, err := b.sessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, models.NewError(models.ErrModelLoad, err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, models.NewError(models.ErrModelLoad, errors.Wrap(err, "create session"))
	}

	b.logger.Info("ONNX session created: %s (%s, output %v)", path, b.device, outputShape)
	return &onnxModel{
		session:   session,
		input:     input,
		output:    output,
		info:      detection.ModelInfo{Name: id.Name, Path: path, Device: b.device, Task: "detect"},
		inputSize: b.inputSize,
		labels:    b.labels,
	}, nil
}

func (b *ONNXBackend) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	if b.device != DeviceCUDA {
		return options, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "create CUDA provider options")
	}
	defer cuda.Destroy()
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "enable CUDA")
	}
	return options, nil
}

// onnxModel owns one session and its tensors; Infer is serialized.
type onnxModel struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	info      detection.ModelInfo
	inputSize int
	labels    []string
}

func (m *onnxModel) Infer(ctx context.Context, src models.ImageSource, params detection.InferParams) ([]detection.RawPrediction, error) {
	img, err := openImage(src)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, models.NewError(models.ErrImageDecode, errors.New("decoded image is empty"))
	}

	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fillInput(letterbox(img, m.inputSize), m.input.GetData())
	if err := m.session.Run(); err != nil {
		return nil, models.NewError(models.ErrInference, errors.Wrap(err, "run session"))
	}

	dims := m.output.GetShape()
	classes, anchors, err := yolo.Shape([]int{int(dims[0]), int(dims[1]), int(dims[2])})
	if err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	lb := yolo.NewLetterbox(width, height, m.inputSize)
	candidates, err := yolo.Decode(m.output.GetData(), classes, anchors, lb, float32(params.Confidence), params.ClassIDs)
	if err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	kept := yolo.NMS(candidates, float32(params.IoU), params.MaxDetections)
	return yolo.Predictions(kept, m.labels, width, height), nil
}

func (m *onnxModel) Describe() detection.ModelInfo { return m.info }

func (m *onnxModel) Labels() []string { return m.labels }

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	return err
}

// openImage decodes src, honoring EXIF orientation for files.
func openImage(src models.ImageSource) (image.Image, error) {
	if src.Kind != models.SourceFilePath {
		return src.Decode()
	}
	img, err := imaging.Open(src.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, models.NewError(models.ErrImageDecode, errors.Wrapf(err, "decode %s", src.Name))
	}
	return img, nil
}

// letterbox pads img at the bottom/right to a square and resizes it to size.
func letterbox(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	side := max(b.Dx(), b.Dy())
	canvas := imaging.New(side, side, color.Black)
	canvas = imaging.Paste(canvas, img, image.Pt(0, 0))
	return imaging.Resize(canvas, size, size, imaging.Linear)
}

// fillInput writes img into dst as planar RGB scaled to [0,1].
func fillInput(img *image.NRGBA, dst []float32) {
	b := img.Bounds()
	plane := b.Dx() * b.Dy()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*b.Dx() + x
			p := img.Pix[y*img.Stride+x*4:]
			dst[i] = float32(p[0]) / 255.0
			dst[plane+i] = float32(p[1]) / 255.0
			dst[2*plane+i] = float32(p[2]) / 255.0
		}
	}
}
