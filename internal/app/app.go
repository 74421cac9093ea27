package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"garia/internal/config"
	"garia/internal/logger"
	"garia/internal/repository/sqlite"
	"garia/internal/routes"
	"garia/internal/services"
	"garia/internal/services/ai"
	"garia/internal/services/detection"
	"garia/internal/services/storage"
	"garia/internal/services/websocket"

	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	pipeline      *detection.Pipeline
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *services.Manager
}

// NewApp loads the configuration and wires every service. The model is not
// loaded here; see Run.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	backend, err := ai.NewBackend(cfg, log)
	if err != nil {
		log.Close()
		return nil, errors.Wrap(err, "create inference backend")
	}

	pipeline := detection.NewPipeline(backend, cfg.DefaultModel(), cfg.BatchWorkers, log)
	if err := pipeline.Configure(cfg.DefaultModelConfiguration()); err != nil {
		log.Close()
		return nil, errors.Wrap(err, "default model configuration")
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, errors.Wrap(err, "open history database")
	}

	buffer := storage.NewBufferService(cfg.ImageDirectory, cfg.ImageBufferLimit, log)
	hub := websocket.NewHubService(log)

	mng := services.NewManager(
		pipeline,
		sqlite.NewResultRepository(db),
		ai.NewAnnotator(),
		buffer,
		hub,
		cfg.RecordingWorkers,
		log,
	)

	return &App{
		config:        cfg,
		logger:        log,
		db:            db,
		pipeline:      pipeline,
		bufferService: buffer,
		hubService:    hub,
		manager:       mng,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Start background services
	bufferDone := make(chan struct{})
	go func() {
		a.bufferService.Run(bgCtx, a.config.ImageBufferFlushInterval)
		close(bufferDone)
	}()
	go a.hubService.Run(bgCtx)

	// A missing model must not keep the server down; the next request retries.
	go func() {
		if err := a.pipeline.Warmup(bgCtx); err != nil {
			a.logger.Warning("⚠️  Model warmup failed: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:         a.config.Addr(),
		Handler:      routes.SetupRoutes(a.manager, a.config, a.logger),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	fmt.Printf("🚀 GarIA Detection Server\n")
	fmt.Printf("📍 URL: http://%s\n", srv.Addr)
	fmt.Printf("🤖 AI Model: %s (%s, %s)\n", a.config.DefaultModel().Key(), a.config.InferenceEngine, a.config.Device)
	fmt.Printf("📁 Snapshots: %s\n", a.config.ImageDirectory)
	fmt.Printf("🗄️  History: %s\n", a.config.DatabasePath)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}

	// Drain recordings before the final snapshot flush.
	a.manager.Stop()
	stopBackground()
	<-bufferDone
	return nil
}

func (a *App) close() {
	a.manager.Stop()
	if err := a.pipeline.Close(); err != nil {
		a.logger.Error("Closing model: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Closing database: %v", err)
	}
	a.logger.Close()
}
