package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"garia/internal/logger"

	"github.com/gorilla/mux"
)

// ShowLogsHandler serves the log file named by the {level} route variable.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFile(w, r, logger)
		if !ok {
			return
		}
		serveLogFile(w, r, logger.Dir(), filename)
	}
}

// ClearLogsHandler truncates the log file named by the {level} route variable.
func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFile(w, r, logger)
		if !ok {
			return
		}
		if err := logger.CleanLogs(filename); err != nil {
			logger.Error("Error clearing %s: %v", filename, err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "Could not clear log file", err, false, logger)
			return
		}
		logger.Info("🧹 %s cleared", filename)
		w.WriteHeader(http.StatusNoContent)
	}
}

func logFile(w http.ResponseWriter, r *http.Request, logger *logger.Logger) (string, bool) {
	level := mux.Vars(r)["level"]
	filename, ok := logFiles[level]
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "Unknown log level: "+level, nil, false, logger)
	}
	return filename, ok
}

var logFiles = logger.LogFiles

// serveLogFile serves a single log file as plain text.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}
