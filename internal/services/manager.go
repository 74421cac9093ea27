package services

import (
	"context"
	"encoding/json"
	"sync"

	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/repository"
	"garia/internal/services/detection"
	"garia/internal/services/storage"
	"garia/internal/services/websocket"
)

// Annotator renders detections onto their source image.
type Annotator interface {
	Annotate(src models.ImageSource, detections []models.Detection) ([]byte, error)
}

// Manager runs detections for the HTTP layer and records every finished
// result in the background: history row, annotated snapshot, live event.
type Manager struct {
	pipeline         *detection.Pipeline
	repository       repository.ResultRepository
	annotator        Annotator
	bufferService    *storage.BufferService
	websocketService *websocket.HubService
	logger           *logger.Logger

	processingQueue chan RecordingTask
	numWorkers      int

	queueMu sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// RecordingTask is a finished result waiting to be recorded.
type RecordingTask struct {
	Source models.ImageSource
	Result *models.DetectionResult
}

// NewManager starts numWorkers recording workers. repository, annotator,
// bufferService and websocketService may be nil to skip that step.
func NewManager(
	pipeline *detection.Pipeline,
	repository repository.ResultRepository,
	annotator Annotator,
	bufferService *storage.BufferService,
	websocketService *websocket.HubService,
	numWorkers int,
	logger *logger.Logger,
) *Manager {
	manager := &Manager{
		pipeline:         pipeline,
		repository:       repository,
		annotator:        annotator,
		bufferService:    bufferService,
		websocketService: websocketService,
		numWorkers:       max(numWorkers, 1),
		processingQueue:  make(chan RecordingTask, 100),
		logger:           logger,
	}

	for i := 0; i < manager.numWorkers; i++ {
		manager.wg.Add(1)
		go manager.processingWorker(i)
	}

	manager.logger.Info("🎬 Manager started with %d recording worker(s)", manager.numWorkers)
	return manager
}

// Detect runs one detection and queues the result for recording.
func (m *Manager) Detect(ctx context.Context, src models.ImageSource, override models.ConfigOverride) (*models.DetectionResult, error) {
	result, err := m.pipeline.Run(ctx, src, override)
	if err != nil {
		return nil, err
	}
	m.Record(src, result)
	return result, nil
}

// DetectBatch runs a batch and queues every result, failed items included.
func (m *Manager) DetectBatch(ctx context.Context, srcs []models.ImageSource, override models.ConfigOverride) []*models.DetectionResult {
	results := m.pipeline.RunBatch(ctx, srcs, override)
	for i, result := range results {
		m.Record(srcs[i], result)
	}
	return results
}

// Record queues result for the recording workers. A full queue drops the
// recording, never the result.
func (m *Manager) Record(src models.ImageSource, result *models.DetectionResult) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()

	if m.stopped {
		return
	}

	select {
	case m.processingQueue <- RecordingTask{Source: src, Result: result}:
		m.logger.Debug("📥 %s: result queued for recording", src.Name)
	default:
		m.logger.Warning("⚠️  Recording queue full - skipping %s", src.Name)
	}
}

func (m *Manager) GetPipeline() *detection.Pipeline {
	return m.pipeline
}

func (m *Manager) GetRepository() repository.ResultRepository {
	return m.repository
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetBufferService() *storage.BufferService {
	return m.bufferService
}

// processingWorker records queued results until the queue is closed.
func (m *Manager) processingWorker(workerID int) {
	defer m.wg.Done()

	m.logger.Debug("🔧 Recording worker %d started", workerID)
	for task := range m.processingQueue {
		m.record(task)
	}
	m.logger.Debug("🔧 Recording worker %d stopped", workerID)
}

func (m *Manager) record(task RecordingTask) {
	result := task.Result

	var id int64
	if m.repository != nil {
		var err error
		id, err = m.repository.Save(models.NewResultRecord(result, task.Source.Name))
		if err != nil {
			m.logger.Error("Failed to save result for %s: %v", task.Source.Name, err)
		}
	}

	event := dto.NewStreamEvent(id, task.Source.Name, result)
	if snapshot := m.snapshot(task, id); snapshot != "" {
		event.Snapshot = snapshot
		if id > 0 {
			if err := m.repository.SetSnapshot(id, snapshot); err != nil {
				m.logger.Error("Failed to store snapshot path: %v", err)
			}
		}
	}

	if m.websocketService != nil {
		msg, err := json.Marshal(event)
		if err != nil {
			m.logger.Error("Failed to encode stream event: %v", err)
			return
		}
		m.websocketService.Broadcast(msg)
	}
}

// snapshot buffers the annotated image of a result with detections and
// returns its future path.
func (m *Manager) snapshot(task RecordingTask, id int64) string {
	if m.annotator == nil || m.bufferService == nil || len(task.Result.Detections) == 0 {
		return ""
	}

	data, err := m.annotator.Annotate(task.Source, task.Result.Detections)
	if err != nil {
		m.logger.Error("Failed to draw rectangles: %v", err)
		return ""
	}

	path, ok := m.bufferService.AddImage(data, id, task.Result.UniqueClasses())
	if !ok {
		return ""
	}
	return path
}

// Stop drains the recording queue and waits for the workers.
func (m *Manager) Stop() {
	m.queueMu.Lock()
	if m.stopped {
		m.queueMu.Unlock()
		return
	}
	m.stopped = true
	close(m.processingQueue)
	m.queueMu.Unlock()

	m.wg.Wait()
	m.logger.Info("🛑 All recording workers stopped")
}
