package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"garia/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	Debug       bool // Adds error details to API responses
	Host        string
	APIKey      string // Empty disables API key checks
	CORSOrigins []string

	ModelDirectory  string
	ModelName       string
	ModelPath       string // Overrides MODEL_DIR/MODEL_NAME when set
	LabelsPath      string // Optional .names file, COCO labels otherwise
	InferenceEngine string // opencv | onnxruntime
	Device          string // cpu | cuda
	InputSize       int
	ORTLibraryPath  string

	ConfidenceThreshold float64
	IoUThreshold        float64
	MaxDetections       int
	TargetClasses       []string

	BatchWorkers int
	MaxUploadMB  int
	FetchTimeout time.Duration

	DatabasePath             string
	ImageDirectory           string
	ImageBufferLimit         int
	ImageBufferFlushInterval int
	RecordingWorkers         int

	LogDirectory string
	LogLevel     string
}

// Load reads the configuration from the environment, after applying a .env
// file from the working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnvAsInt("PORT", 5000),
		Host:        getEnv("HOST", "0.0.0.0"),
		Debug:       getEnvAsBool("DEBUG", false),
		APIKey:      getEnv("API_KEY", ""),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),

		ModelDirectory:  getEnv("MODEL_DIR", filepath.Join(".", "models")),
		ModelName:       getEnv("MODEL_NAME", "GarIA.onnx"),
		ModelPath:       getEnv("MODEL_PATH", ""),
		LabelsPath:      getEnv("LABELS_PATH", ""),
		InferenceEngine: getEnv("INFERENCE_ENGINE", "opencv"),
		Device:          getEnv("DEVICE", "cpu"),
		InputSize:       getEnvAsInt("INPUT_SIZE", 640),
		ORTLibraryPath:  getEnv("ORT_LIBRARY_PATH", ""),

		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", models.DefaultConfidenceThreshold),
		IoUThreshold:        getEnvAsFloat("IOU_THRESHOLD", models.DefaultIoUThreshold),
		MaxDetections:       getEnvAsInt("MAX_DETECTIONS", models.DefaultMaxDetections),
		TargetClasses:       getEnvAsList("TARGET_CLASSES", nil),

		BatchWorkers: getEnvAsInt("BATCH_WORKERS", 2),
		MaxUploadMB:  getEnvAsInt("MAX_UPLOAD_MB", 16),
		FetchTimeout: time.Duration(getEnvAsInt("FETCH_TIMEOUT", 10)) * time.Second,

		DatabasePath:             getEnv("DATABASE_PATH", filepath.Join(".", "data", "detections.db")),
		ImageDirectory:           getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		ImageBufferLimit:         getEnvAsInt("SNAPSHOT_BUFFER_LIMIT", 7),
		ImageBufferFlushInterval: getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL", 30),
		RecordingWorkers:         getEnvAsInt("RECORDING_WORKERS", 2),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DefaultModel identifies the model loaded at startup.
func (c *Config) DefaultModel() models.ModelIdentifier {
	return models.ModelIdentifier{Name: c.ModelName, Path: c.ModelPath}
}

// DefaultModelConfiguration is the active configuration the server starts with.
func (c *Config) DefaultModelConfiguration() models.ModelConfiguration {
	return models.ModelConfiguration{
		Model:               c.DefaultModel(),
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
		MaxDetections:       c.MaxDetections,
		TargetClasses:       c.TargetClasses,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
