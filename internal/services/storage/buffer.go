package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"garia/internal/logger"
)

// Image is an annotated snapshot waiting to be written.
type Image struct {
	Filename string
	Data     []byte
}

// BufferService batches snapshot writes and flushes them on an interval.
type BufferService struct {
	imagesDir   string
	images      []Image
	bufferLimit int
	logger      *logger.Logger
	mu          sync.Mutex
}

func NewBufferService(imagesDir string, bufferLimit int, logger *logger.Logger) *BufferService {
	return &BufferService{
		imagesDir:   imagesDir,
		bufferLimit: bufferLimit,
		images:      make([]Image, 0, bufferLimit),
		logger:      logger,
	}
}

// Run flushes the buffer every flushInterval seconds until ctx is done,
// then flushes once more.
func (s *BufferService) Run(ctx context.Context, flushInterval int) {
	ticker := time.NewTicker(time.Duration(max(flushInterval, 1)) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.FlushImages()
		case <-ctx.Done():
			s.FlushImages()
			return
		}
	}
}

// AddImage queues a snapshot of result resultID labelled with its classes.
// It returns the path the snapshot will be written to, or false when the
// buffer is full.
func (s *BufferService) AddImage(imageData []byte, resultID int64, labels []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) >= s.bufferLimit {
		s.logger.Warning("Snapshot buffer full (%d/%d), dropping result %d", len(s.images), s.bufferLimit, resultID)
		return "", false
	}

	filename := SnapshotName(time.Now(), resultID, labels)
	s.images = append(s.images, Image{Filename: filename, Data: imageData})
	s.logger.Debug("Buffer size: %d/%d", len(s.images), s.bufferLimit)
	return filepath.Join(s.imagesDir, filename), true
}

// FlushImages writes the buffered snapshots and returns how many were written.
func (s *BufferService) FlushImages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	written := 0
	for _, image := range s.images {
		fullpath := filepath.Join(s.imagesDir, image.Filename)
		if err := os.WriteFile(fullpath, image.Data, 0644); err != nil {
			s.logger.Error("Error saving image %s: %v", image.Filename, err)
			continue
		}
		written++
	}

	s.logger.Info("Flushed %d images to disk", written)
	s.images = s.images[:0] // Clear buffer
	return written
}

// Dir returns the snapshot directory.
func (s *BufferService) Dir() string {
	return s.imagesDir
}

// SnapshotName builds 2006-01-02_15-04-05.000_<id>_<label1>_<label2>.jpg.
func SnapshotName(ts time.Time, resultID int64, labels []string) string {
	parts := []string{ts.Format("2006-01-02_15-04-05.000"), fmt.Sprint(resultID)}
	for _, l := range labels {
		parts = append(parts, strings.ReplaceAll(l, " ", "-"))
	}
	return strings.Join(parts, "_") + ".jpg"
}
