package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"garia/internal/config"
	"garia/internal/dto"
	"garia/internal/handlers"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/repository"
	"garia/internal/repository/sqlite"
	"garia/internal/services"
	"garia/internal/services/ai"
	"garia/internal/services/detection"
)

func main() {
	cfg := config.Load()

	modelName := flag.String("model", cfg.ModelName, "Model file name, resolved against MODEL_DIR")
	confidence := flag.Float64("conf", cfg.ConfidenceThreshold, "Confidence threshold")
	iou := flag.Float64("iou", cfg.IoUThreshold, "IoU threshold for NMS")
	maxDetections := flag.Int("max", cfg.MaxDetections, "Maximum detections per image")
	classes := flag.String("classes", strings.Join(cfg.TargetClasses, ","), "Comma separated class names to keep")
	workers := flag.Int("workers", cfg.BatchWorkers, "Images processed in parallel")
	dbPath := flag.String("db", "", "Record results into this history database")
	pretty := flag.Bool("pretty", false, "Indent JSON output")
	verbose := flag.Bool("v", false, "Log progress (mixed into stdout)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image|dir>...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	paths, err := collectImages(flag.Args())
	if err != nil {
		log.Fatalf("Failed to read inputs: %v", err)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "No images found")
		return
	}

	// stdout carries the JSON report; only errors are logged unless -v.
	if !*verbose {
		cfg.LogLevel = "error"
	}
	logs := logger.NewLogger(cfg)
	defer logs.Close()

	backend, err := ai.NewBackend(cfg, logs)
	if err != nil {
		log.Fatalf("Failed to create inference backend: %v", err)
	}

	modelCfg := cfg.DefaultModelConfiguration()
	if *modelName != cfg.ModelName {
		modelCfg.Model = models.ModelIdentifier{Name: *modelName}
	}
	modelCfg.ConfidenceThreshold = *confidence
	modelCfg.IoUThreshold = *iou
	modelCfg.MaxDetections = *maxDetections
	modelCfg.TargetClasses = splitList(*classes)

	pipeline := detection.NewPipeline(backend, modelCfg.Model, *workers, logs)
	defer pipeline.Close()
	if err := pipeline.Configure(modelCfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var repo repository.ResultRepository
	if *dbPath != "" {
		db, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		repo = sqlite.NewResultRepository(db)
	}

	manager := services.NewManager(pipeline, repo, nil, nil, nil, 1, logs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srcs := make([]models.ImageSource, len(paths))
	for i, p := range paths {
		srcs[i] = models.FromPath(p)
	}
	results := manager.DetectBatch(ctx, srcs, models.ConfigOverride{})
	manager.Stop()

	resp := dto.BatchResponse{Success: true, TotalImages: len(paths), Results: make([]dto.BatchItem, len(paths))}
	for i, result := range results {
		if result.Failed() {
			resp.FailedImages++
		}
		resp.TotalDetections += result.DetectionCount()
		resp.Results[i] = dto.BatchItem{Filename: paths[i], DetectionResponse: dto.NewDetectionResponse(result)}
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(resp); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	fmt.Fprintf(os.Stderr, "✅ %d images, %d failed, %d objects\n", resp.TotalImages, resp.FailedImages, resp.TotalDetections)
}

// collectImages expands directories into the image files they contain.
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Name()), "."))
			if e.IsDir() || !slices.Contains(handlers.AllowedExtensions, ext) {
				continue
			}
			paths = append(paths, filepath.Join(arg, e.Name()))
		}
	}
	return paths, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
