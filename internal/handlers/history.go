package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/repository"
	"garia/internal/services"

	"github.com/gorilla/mux"
)

// historyRepository returns the result repository or answers 503 when
// history is disabled.
func historyRepository(w http.ResponseWriter, manager *services.Manager, logger *logger.Logger) (repository.ResultRepository, bool) {
	repo := manager.GetRepository()
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, CodeHistoryUnavailable, "Detection history not available", nil, false, logger)
		return nil, false
	}
	return repo, true
}

// ListResultsHandler returns stored results, newest first, filtered and paginated.
// Response is JSON of type dto.HistoryPage.
func ListResultsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, ok := historyRepository(w, manager, logger)
		if !ok {
			return
		}

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &models.ResultFilter{
			ClassName:  q.Get("class"),
			SourceType: q.Get("source_type"),
			After:      parseDate(q.Get("dateAfter")),
			Before:     endOfDay(parseDate(q.Get("dateBefore"))),
			OnlyFailed: q.Get("failed") == "true",
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		records, err := repo.List(filter)
		if err != nil {
			logger.Error("Error querying results: %v", err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", err, false, logger)
			return
		}

		totalCount, err := repo.Count(filter)
		if err != nil {
			logger.Error("Error counting results: %v", err)
			totalCount = len(records)
		}

		if records == nil {
			records = []models.ResultRecord{}
		}
		writeJSON(w, http.StatusOK, dto.HistoryPage{
			Results:     records,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// ResultStatsHandler returns aggregate counts over the stored history.
func ResultStatsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, ok := historyRepository(w, manager, logger)
		if !ok {
			return
		}

		stats, err := repo.Stats()
		if err != nil {
			logger.Error("Failed to get stats: %v", err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to retrieve stats", err, false, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// GetResultHandler returns a single stored result with its detections.
func GetResultHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, ok := historyRepository(w, manager, logger)
		if !ok {
			return
		}

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Result not found", nil, false, logger)
			return
		}

		record, err := repo.GetByID(id)
		if err != nil {
			logger.Error("Error loading result %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", err, false, logger)
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Result not found", nil, false, logger)
			return
		}
		writeJSON(w, http.StatusOK, record, logger)
	}
}

// SnapshotHandler serves the annotated snapshot of a stored result.
func SnapshotHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, ok := historyRepository(w, manager, logger)
		if !ok {
			return
		}

		id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		record, err := repo.GetByID(id)
		if err != nil || record == nil || record.SnapshotPath == "" {
			writeError(w, http.StatusNotFound, CodeNotFound, "Snapshot not found", err, false, logger)
			return
		}
		if _, err := os.Stat(record.SnapshotPath); err != nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Snapshot not found", err, false, logger)
			return
		}
		http.ServeFile(w, r, record.SnapshotPath)
	}
}

// ClearResultsHandler deletes the stored history and its snapshots.
func ClearResultsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo, ok := historyRepository(w, manager, logger)
		if !ok {
			return
		}

		if err := repo.DeleteAll(); err != nil {
			logger.Error("Error clearing history: %v", err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", err, false, logger)
			return
		}

		if buffer := manager.GetBufferService(); buffer != nil {
			clearDirectory(buffer.Dir(), logger)
		}

		logger.Info("🗑️  Detection history cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// clearDirectory removes every regular file in dir.
func clearDirectory(dir string, logger *logger.Logger) {
	files, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("Error reading snapshot directory: %v", err)
		return
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".jpg") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			logger.Error("Error deleting file %s: %v", file.Name(), err)
		}
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
