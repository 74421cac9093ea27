package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"garia/internal/config"
	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/repository/sqlite"
	"garia/internal/services"
	"garia/internal/services/detection"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// Test Setup Helpers
// ========================================

type stubBackend struct {
	loadErr error
}

func (b stubBackend) Load(_ context.Context, id models.ModelIdentifier) (detection.Model, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return stubModel{id: id}, nil
}

type stubModel struct {
	id models.ModelIdentifier
}

func (m stubModel) Infer(_ context.Context, src models.ImageSource, params detection.InferParams) ([]detection.RawPrediction, error) {
	if _, err := src.Decode(); err != nil {
		return nil, err
	}
	var out []detection.RawPrediction
	for _, p := range []detection.RawPrediction{
		{ClassID: 0, Confidence: 0.9, X1: 1, Y1: 1, X2: 5, Y2: 5},
		{ClassID: 1, Confidence: 0.3, X1: 2, Y1: 2, X2: 6, Y2: 7},
	} {
		if p.Confidence >= params.Confidence {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m stubModel) Describe() detection.ModelInfo {
	return detection.ModelInfo{Name: m.id.Name, Path: m.id.Key(), Device: "cpu", Task: "detect"}
}

func (stubModel) Labels() []string { return []string{"bottle", "bag"} }
func (stubModel) Close() error     { return nil }

type testEnv struct {
	cfg     *config.Config
	logger  *logger.Logger
	manager *services.Manager
	repo    *sqlite.ResultRepository
}

func setupTestEnv(t *testing.T, backend detection.Backend) *testEnv {
	t.Helper()

	cfg := &config.Config{
		LogDirectory: t.TempDir(),
		LogLevel:     "error",
		MaxUploadMB:  4,
		FetchTimeout: 5 * time.Second,
	}
	log := logger.NewLogger(cfg)
	t.Cleanup(func() { log.Close() })

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewResultRepository(db)

	pipeline := detection.NewPipeline(backend, models.ModelIdentifier{Name: "stub.onnx"}, 2, log)
	require.NoError(t, pipeline.Configure(models.DefaultModelConfiguration(models.ModelIdentifier{Name: "stub.onnx"})))

	manager := services.NewManager(pipeline, repo, nil, nil, nil, 1, log)
	t.Cleanup(manager.Stop)

	return &testEnv{cfg: cfg, logger: log, manager: manager, repo: repo}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 12))))
	return buf.Bytes()
}

type upload struct {
	field, filename string
	content         []byte
}

func multipartRequest(t *testing.T, target string, files []upload, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ========================================
// Detect Handler Tests
// ========================================

func TestDetectHandler_Success(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	req := multipartRequest(t, "/api/v1/detect", []upload{{"image", "frame.png", pngBytes(t)}}, nil)
	rec := httptest.NewRecorder()
	DetectHandler(env.manager, env.cfg, env.logger)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalDetections)
	assert.Equal(t, []string{"bag", "bottle"}, resp.UniqueClasses)
	assert.Equal(t, map[string]int{"bottle": 1, "bag": 1}, resp.Counts)
	assert.Equal(t, "stub.onnx", resp.ModelInfo["model_name"])
	assert.Len(t, resp.GarbageDetected, 2)
}

func TestDetectHandler_FormOverrides(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	tests := []struct {
		name   string
		fields map[string]string
		want   []string
	}{
		{"confidence", map[string]string{"confidence": "0.5"}, []string{"bottle"}},
		{"target classes", map[string]string{"target_classes": "bag, cup"}, []string{"bag"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/api/v1/detect", []upload{{"image", "frame.png", pngBytes(t)}}, tt.fields)
			rec := httptest.NewRecorder()
			DetectHandler(env.manager, env.cfg, env.logger)(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp dto.DetectionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.UniqueClasses)
		})
	}

	// Overrides never change the active configuration.
	assert.Equal(t, models.DefaultConfidenceThreshold, env.manager.GetPipeline().Configuration().ConfidenceThreshold)
}

func TestDetectHandler_Errors(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	tests := []struct {
		name     string
		files    []upload
		fields   map[string]string
		wantCode string
	}{
		{"no image", nil, nil, CodeNoImageFile},
		{"bad extension", []upload{{"image", "notes.txt", []byte("hello")}}, nil, CodeInvalidFileType},
		{"bad confidence", []upload{{"image", "a.png", pngBytes(t)}}, map[string]string{"confidence": "high"}, CodeInvalidConfidence},
		{"bad iou", []upload{{"image", "a.png", pngBytes(t)}}, map[string]string{"iou_threshold": "x"}, CodeInvalidIoU},
		{"bad max", []upload{{"image", "a.png", pngBytes(t)}}, map[string]string{"max_detections": "1.5"}, CodeInvalidMaxDetections},
		{"out of range", []upload{{"image", "a.png", pngBytes(t)}}, map[string]string{"confidence": "1.5"}, CodeInvalidConfiguration},
		{"corrupt image", []upload{{"image", "a.png", []byte("not a png")}}, nil, CodeImageProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/api/v1/detect", tt.files, tt.fields)
			rec := httptest.NewRecorder()
			DetectHandler(env.manager, env.cfg, env.logger)(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Nil(t, resp.Details, "details are hidden outside debug mode")
		})
	}
}

func TestDetectHandler_DebugDetails(t *testing.T) {
	tests := []struct {
		name        string
		debug       bool
		wantDetails bool
	}{
		{"hidden by default", false, false},
		{"shown in debug mode", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, stubBackend{})
			env.cfg.Debug = tt.debug

			req := multipartRequest(t, "/api/v1/detect", []upload{{"image", "a.png", []byte("not a png")}}, nil)
			rec := httptest.NewRecorder()
			DetectHandler(env.manager, env.cfg, env.logger)(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, CodeImageProcessing, resp.Code)
			assert.Equal(t, tt.wantDetails, resp.Details != nil)
		})
	}
}

func TestDetectHandler_ModelUnavailable(t *testing.T) {
	env := setupTestEnv(t, stubBackend{loadErr: models.NewError(models.ErrModelLoad, os.ErrNotExist)})

	req := multipartRequest(t, "/api/v1/detect", []upload{{"image", "frame.png", pngBytes(t)}}, nil)
	rec := httptest.NewRecorder()
	DetectHandler(env.manager, env.cfg, env.logger)(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeModelUnavailable, resp.Code)
	assert.Nil(t, resp.Details, "details are hidden outside debug mode")
}

func TestDetectURLHandler(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})
	img := pngBytes(t)

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/frame.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer source.Close()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detect/url", strings.NewReader(body))
		rec := httptest.NewRecorder()
		DetectURLHandler(env.manager, env.cfg, env.logger)(rec, req)
		return rec
	}

	rec := post(`{"image_url":"` + source.URL + `/frame.png","config":{"confidence":0.5}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.DetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalDetections)

	rec = post(`{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeNoImageURL, decodeError(t, rec).Code)

	rec = post(`{"image_url":"` + source.URL + `/missing.png"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeImageFetch, decodeError(t, rec).Code)
}

func TestDetectBatchHandler(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	files := []upload{
		{"images", "one.png", pngBytes(t)},
		{"images", "broken.png", []byte("garbage")},
		{"images", "three.png", pngBytes(t)},
	}
	req := multipartRequest(t, "/api/v1/detect/batch", files, map[string]string{"confidence": "0.5"})
	rec := httptest.NewRecorder()
	DetectBatchHandler(env.manager, env.cfg, env.logger)(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalImages)
	assert.Equal(t, 1, resp.FailedImages)
	assert.Equal(t, 2, resp.TotalDetections)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "one.png", resp.Results[0].Filename)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, "broken.png", resp.Results[1].Filename)
	assert.False(t, resp.Results[1].Success)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Empty(t, resp.Results[1].Detections)
	assert.Equal(t, "three.png", resp.Results[2].Filename)
	assert.Equal(t, 1, resp.Results[2].TotalDetections)
}

func TestDetectBatchHandler_RecordsRejectedItems(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	files := []upload{
		{"images", "one.png", pngBytes(t)},
		{"images", "broken.png", []byte("garbage")},
		{"images", "notes.txt", []byte("hello")},
	}
	req := multipartRequest(t, "/api/v1/detect/batch", files, nil)
	rec := httptest.NewRecorder()
	DetectBatchHandler(env.manager, env.cfg, env.logger)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.FailedImages)
	assert.Equal(t, "loaded", resp.Results[2].ModelInfo["status"])

	env.manager.Stop()

	total, err := env.repo.Count(&models.ResultFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	failed, err := env.repo.Count(&models.ResultFilter{OnlyFailed: true})
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}

func TestDetectBatchHandler_InvalidOverride(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	req := multipartRequest(t, "/api/v1/detect/batch", []upload{{"images", "a.png", pngBytes(t)}}, map[string]string{"iou_threshold": "2"})
	rec := httptest.NewRecorder()
	DetectBatchHandler(env.manager, env.cfg, env.logger)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidConfiguration, decodeError(t, rec).Code)
}

// ========================================
// Model Handler Tests
// ========================================

func TestModelHandlers(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	rec := httptest.NewRecorder()
	ModelStatusHandler(env.manager, env.logger)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/model/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status dto.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Status.ModelLoaded)
	assert.Equal(t, "not_loaded", status.Status.ModelInfo["status"])

	put := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/v1/model/config", strings.NewReader(body))
		ModelConfigHandler(env.manager, env.cfg, env.logger)(rec, req)
		return rec
	}

	rec = put(`{"confidence":0.6,"target_classes":["bottle"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	active := env.manager.GetPipeline().Configuration()
	assert.Equal(t, 0.6, active.ConfidenceThreshold)
	assert.Equal(t, []string{"bottle"}, active.TargetClasses)
	assert.Equal(t, models.DefaultIoUThreshold, active.IoUThreshold)

	rec = put(`{"target_classes":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	active = env.manager.GetPipeline().Configuration()
	assert.Empty(t, active.TargetClasses, "empty list clears the filter")
	assert.Equal(t, 0.6, active.ConfidenceThreshold)

	rec = put(`{"max_detections":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidConfiguration, decodeError(t, rec).Code)
	assert.Equal(t, 0.6, env.manager.GetPipeline().Configuration().ConfidenceThreshold)

	rec = put(`not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	rec := httptest.NewRecorder()
	HealthHandler(env.manager, env.logger)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.ModelLoaded)
}

// ========================================
// History Handler Tests
// ========================================

func saveRecord(t *testing.T, env *testEnv, ts time.Time, classes ...string) int64 {
	t.Helper()
	result := &models.DetectionResult{
		ImageInfo: models.ImageInfo{"source_type": "upload", "width": 16, "height": 12},
		ModelInfo: map[string]string{"model_path": "stub.onnx", "device": "cpu"},
		Timestamp: ts,
	}
	for _, c := range classes {
		result.Detections = append(result.Detections, models.Detection{
			ClassName:  c,
			Confidence: 0.8,
			BBox:       models.BoundingBox{X1: 1, Y1: 1, X2: 4, Y2: 4},
		})
	}
	id, err := env.repo.Save(models.NewResultRecord(result, "frame.png"))
	require.NoError(t, err)
	return id
}

func TestListResultsHandler(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})

	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		saveRecord(t, env, base.Add(time.Duration(i)*time.Hour), "bottle")
	}
	saveRecord(t, env, base.AddDate(0, 0, 2), "bag")

	list := func(query string) dto.HistoryPage {
		rec := httptest.NewRecorder()
		ListResultsHandler(env.manager, env.logger)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/detections?"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var page dto.HistoryPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		return page
	}

	page := list("page=2&limit=4")
	assert.Equal(t, 6, page.Length)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Len(t, page.Results, 2)

	page = list("class=bag")
	assert.Equal(t, 1, page.Length)

	page = list("dateBefore=2024-05-10")
	assert.Equal(t, 5, page.Length)

	page = list("failed=true")
	assert.Equal(t, 0, page.Length)
	assert.NotNil(t, page.Results)
}

func TestGetResultHandler(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})
	id := saveRecord(t, env, time.Now(), "bottle", "bag")

	get := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/detections/"+id, nil)
		req = mux.SetURLVars(req, map[string]string{"id": id})
		rec := httptest.NewRecorder()
		GetResultHandler(env.manager, env.logger)(rec, req)
		return rec
	}

	rec := get(strconv.FormatInt(id, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.ResultRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, id, record.ID)
	assert.Len(t, record.Detections, 2)

	rec = get("99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Code)
}

func TestStatsAndClearHandlers(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})
	saveRecord(t, env, time.Now(), "bottle", "bottle")
	saveRecord(t, env, time.Now(), "bag")

	rec := httptest.NewRecorder()
	ResultStatsHandler(env.manager, env.logger)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/detections/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.ResultStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalResults)
	assert.Equal(t, 3, stats.TotalDetections)
	assert.Equal(t, 2, stats.ClassCounts["bottle"])

	rec = httptest.NewRecorder()
	ClearResultsHandler(env.manager, env.logger)(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/detections", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	count, err := env.repo.Count(&models.ResultFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHistoryUnavailable(t *testing.T) {
	cfg := &config.Config{LogDirectory: t.TempDir(), LogLevel: "error"}
	log := logger.NewLogger(cfg)
	defer log.Close()
	pipeline := detection.NewPipeline(stubBackend{}, models.ModelIdentifier{Name: "stub.onnx"}, 1, log)
	manager := services.NewManager(pipeline, nil, nil, nil, nil, 1, log)
	defer manager.Stop()

	rec := httptest.NewRecorder()
	ListResultsHandler(manager, log)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/detections", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeHistoryUnavailable, decodeError(t, rec).Code)
}

// ========================================
// Log Handler Tests
// ========================================

func TestLogHandlers(t *testing.T) {
	env := setupTestEnv(t, stubBackend{})
	env.logger.Error("something broke")

	request := func(handler http.HandlerFunc, level string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/logs/"+level, nil)
		req = mux.SetURLVars(req, map[string]string{"level": level})
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	rec := request(ShowLogsHandler(env.logger), "error")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "something broke")

	rec = request(ShowLogsHandler(env.logger), "verbose")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = request(ClearLogsHandler(env.logger), "error")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	data, err := os.ReadFile(filepath.Join(env.logger.Dir(), "error.log"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

// ========================================
// Helper Tests
// ========================================

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"0", 5, 5},
		{"-3", 5, 5},
		{"abc", 5, 5},
		{"", 24, 24},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, atoiDefault(tt.input, tt.def), "atoiDefault(%q, %d)", tt.input, tt.def)
	}
}

func TestAllowedFile(t *testing.T) {
	assert.True(t, allowedFile("photo.JPG"))
	assert.True(t, allowedFile("scan.tiff"))
	assert.False(t, allowedFile("archive.zip"))
	assert.False(t, allowedFile("noextension"))
}
