package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"garia/internal/logger"
	"garia/internal/models"

	"github.com/pkg/errors"
)

// Status is the snapshot returned by Pipeline.Status.
type Status struct {
	ModelLoaded bool                       `json:"model_loaded"`
	ModelConfig *models.ModelConfiguration `json:"model_config"`
	ModelInfo   map[string]string          `json:"model_info"`
}

// Pipeline turns image sources into DetectionResults using the model named
// by the merged request configuration. It is safe for concurrent use.
//
// Inference holds the read lock; loading a different model takes the write
// lock, so a reload waits for in-flight requests to finish.
type Pipeline struct {
	backend      Backend
	defaultModel models.ModelIdentifier
	workers      int
	logger       *logger.Logger

	mu        sync.RWMutex
	active    *models.ModelConfiguration
	model     Model
	loadedKey string
}

// NewPipeline creates a pipeline. defaultModel is used until Configure sets
// an active configuration. workers bounds RunBatch parallelism.
func NewPipeline(backend Backend, defaultModel models.ModelIdentifier, workers int, logger *logger.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		backend:      backend,
		defaultModel: defaultModel,
		workers:      workers,
		logger:       logger,
	}
}

// Configure replaces the active configuration.
func (p *Pipeline) Configure(cfg models.ModelConfiguration) error {
	if !cfg.IsValid() {
		return invalidConfiguration(cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.setActiveLocked(cfg)
	return nil
}

// Reconfigure merges override onto the active configuration and makes the
// result active. Concurrent calls never lose each other's fields.
func (p *Pipeline) Reconfigure(override models.ConfigOverride) (models.ModelConfiguration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.configurationLocked().Merge(override)
	if !cfg.IsValid() {
		return cfg, invalidConfiguration(cfg)
	}
	p.setActiveLocked(cfg)
	return cfg, nil
}

func (p *Pipeline) setActiveLocked(cfg models.ModelConfiguration) {
	p.active = &cfg
	p.logger.Info("⚙️  Active configuration: model=%s confidence=%.2f iou=%.2f max=%d",
		cfg.Model.Key(), cfg.ConfidenceThreshold, cfg.IoUThreshold, cfg.MaxDetections)
}

// Configuration returns the active configuration, or the defaults when none was set.
func (p *Pipeline) Configuration() models.ModelConfiguration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configurationLocked()
}

func (p *Pipeline) configurationLocked() models.ModelConfiguration {
	if p.active != nil {
		return p.active.Merge(models.ConfigOverride{})
	}
	return models.DefaultModelConfiguration(p.defaultModel)
}

// Warmup loads the model of the active configuration.
func (p *Pipeline) Warmup(ctx context.Context) error {
	return p.load(ctx, p.Configuration().Model)
}

// Run detects objects in src using the active configuration with override applied.
// The active configuration itself is left untouched.
func (p *Pipeline) Run(ctx context.Context, src models.ImageSource, override models.ConfigOverride) (*models.DetectionResult, error) {
	cfg := p.Configuration().Merge(override)
	if !cfg.IsValid() {
		return nil, invalidConfiguration(cfg)
	}

	model, release, err := p.acquire(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrInference, err)
	}

	start := time.Now()
	raw, err := model.Infer(ctx, src, InferParams{
		Confidence:    cfg.ConfidenceThreshold,
		IoU:           cfg.IoUThreshold,
		MaxDetections: cfg.MaxDetections,
		ClassIDs:      override.ClassIDs,
	})
	if err != nil {
		if models.KindOf(err) == nil {
			err = models.NewError(models.ErrInference, err)
		}
		return nil, err
	}

	detections := convert(raw, model.Labels(), cfg)
	elapsed := time.Since(start).Seconds()
	result := &models.DetectionResult{
		Detections:     detections,
		ImageInfo:      src.Info(),
		ProcessingTime: elapsed,
		ModelInfo:      model.Describe().Map(),
		Timestamp:      time.Now(),
	}

	p.logger.Debug("🎯 %s: %d objects in %.3fs", src.Name, len(detections), result.ProcessingTime)
	return result, nil
}

// RunBatch runs every source and returns one result per source, in order.
// A failing item yields a result whose ImageInfo carries the error.
func (p *Pipeline) RunBatch(ctx context.Context, srcs []models.ImageSource, override models.ConfigOverride) []*models.DetectionResult {
	results := make([]*models.DetectionResult, len(srcs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, len(srcs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := p.Run(ctx, srcs[i], override)
				if err != nil {
					p.logger.Error("Batch item %d/%d (%s) failed: %v", i+1, len(srcs), srcs[i].Name, err)
					result = models.NewFailedResult(err, p.Status().ModelInfo)
				}
				results[i] = result
			}
		}()
	}

	for i := range srcs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// Status reports whether a model is loaded, the active configuration and
// the loaded model's provenance.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := Status{ModelInfo: map[string]string{"status": "not_loaded"}}
	if p.active != nil {
		cfg := p.active.Merge(models.ConfigOverride{})
		status.ModelConfig = &cfg
	}
	if p.model != nil {
		status.ModelLoaded = true
		status.ModelInfo = p.model.Describe().Map()
	}
	return status
}

// Unload releases the loaded model, if any.
func (p *Pipeline) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloadLocked()
}

// Close releases the loaded model.
func (p *Pipeline) Close() error {
	return p.Unload()
}

func (p *Pipeline) unloadLocked() error {
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.logger.Info("🗑️  Model %s unloaded", p.loadedKey)
	p.model = nil
	p.loadedKey = ""
	return err
}

// acquire returns the model for id with the read lock held; release drops it.
func (p *Pipeline) acquire(ctx context.Context, id models.ModelIdentifier) (Model, func(), error) {
	for {
		p.mu.RLock()
		if p.model != nil && p.loadedKey == id.Key() {
			return p.model, p.mu.RUnlock, nil
		}
		p.mu.RUnlock()

		if err := p.load(ctx, id); err != nil {
			return nil, nil, err
		}
	}
}

// load makes id the loaded model. Concurrent calls for the same id load once.
func (p *Pipeline) load(ctx context.Context, id models.ModelIdentifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil && p.loadedKey == id.Key() {
		return nil
	}

	p.logger.Info("📦 Loading model %s", id.Key())
	model, err := p.backend.Load(ctx, id)
	if err != nil {
		p.logger.Error("Failed to load model %s: %v", id.Key(), err)
		if !errors.Is(err, models.ErrModelLoad) {
			err = models.NewError(models.ErrModelLoad, errors.Wrapf(err, "load %s", id.Key()))
		}
		return err
	}

	if err := p.unloadLocked(); err != nil {
		p.logger.Warning("Closing previous model: %v", err)
	}
	p.model = model
	p.loadedKey = id.Key()
	p.logger.Info("✅ Model loaded: %s (%s)", id.Key(), model.Describe().Device)
	return nil
}

// convert maps raw predictions to Detections, resolving missing class names
// from labels and dropping classes outside cfg.TargetClasses.
func convert(raw []RawPrediction, labels []string, cfg models.ModelConfiguration) []models.Detection {
	detections := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		name := r.ClassName
		if name == "" {
			name = labelFor(labels, r.ClassID)
		}
		if !cfg.AllowsClass(name) {
			continue
		}
		detections = append(detections, models.Detection{
			ClassID:    r.ClassID,
			ClassName:  name,
			Confidence: r.Confidence,
			BBox:       models.BoundingBox{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2},
			Normalized: r.Normalized,
		})
	}
	return detections
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func invalidConfiguration(cfg models.ModelConfiguration) error {
	return models.NewError(models.ErrInvalidConfiguration, errors.Errorf(
		"confidence=%v iou_threshold=%v max_detections=%d",
		cfg.ConfidenceThreshold, cfg.IoUThreshold, cfg.MaxDetections))
}
