package handlers

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"garia/internal/config"
	"garia/internal/dto"
	"garia/internal/logger"
	"garia/internal/models"
	"garia/internal/services"

	"github.com/pkg/errors"
)

// AllowedExtensions lists the accepted upload file extensions.
var AllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff", "webp"}

func allowedFile(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return slices.Contains(AllowedExtensions, ext)
}

// formError is a rejected form field.
type formError struct {
	code    string
	message string
}

// parseFormOverride reads the optional detection parameters of a multipart form.
func parseFormOverride(r *http.Request) (models.ConfigOverride, *formError) {
	var o models.ConfigOverride

	if v := r.FormValue("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return o, &formError{CodeInvalidConfidence, "Parameter confidence must be a number"}
		}
		o.ConfidenceThreshold = &f
	}
	if v := r.FormValue("iou_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return o, &formError{CodeInvalidIoU, "Parameter iou_threshold must be a number"}
		}
		o.IoUThreshold = &f
	}
	if v := r.FormValue("max_detections"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return o, &formError{CodeInvalidMaxDetections, "Parameter max_detections must be an integer"}
		}
		o.MaxDetections = &n
	}
	if v := r.FormValue("target_classes"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				o.TargetClasses = append(o.TargetClasses, c)
			}
		}
	}
	if v := r.FormValue("model_name"); v != "" {
		o.ModelName = &v
	}
	return o, nil
}

// decodeImage reads an uploaded or fetched image into a decoded source.
func decodeImage(r io.Reader, name string) (models.ImageSource, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return models.ImageSource{}, models.NewError(models.ErrImageDecode, errors.Wrapf(err, "decode %s", name))
	}
	return models.FromImage(img, format, name), nil
}

func decodeUpload(fh *multipart.FileHeader) (models.ImageSource, error) {
	file, err := fh.Open()
	if err != nil {
		return models.ImageSource{}, models.NewError(models.ErrImageDecode, errors.Wrap(err, "open upload"))
	}
	defer file.Close()
	return decodeImage(file, fh.Filename)
}

func parseUpload(w http.ResponseWriter, r *http.Request, cfg *config.Config, logger *logger.Logger) bool {
	limit := int64(cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeNoImageFile, "No image file provided", err, cfg.Debug, logger)
		return false
	}
	return true
}

// DetectHandler runs detection on a single uploaded image (form field "image").
func DetectHandler(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseUpload(w, r, cfg, logger) {
			return
		}

		files := r.MultipartForm.File["image"]
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, CodeNoImageFile, "No image file provided", nil, false, logger)
			return
		}
		fh := files[0]
		if fh.Filename == "" {
			writeError(w, http.StatusBadRequest, CodeNoFileSelected, "No file selected", nil, false, logger)
			return
		}
		if !allowedFile(fh.Filename) {
			writeError(w, http.StatusBadRequest, CodeInvalidFileType,
				"Unsupported file type. Allowed types: "+strings.Join(AllowedExtensions, ", "), nil, false, logger)
			return
		}

		override, ferr := parseFormOverride(r)
		if ferr != nil {
			writeError(w, http.StatusBadRequest, ferr.code, ferr.message, nil, false, logger)
			return
		}

		src, err := decodeUpload(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeImageProcessing, "Error processing image", err, cfg.Debug, logger)
			return
		}

		result, err := manager.Detect(r.Context(), src, override)
		if err != nil {
			writePipelineError(w, err, cfg.Debug, logger)
			return
		}

		logger.Info("🎯 %s: %d objects in %.3fs", fh.Filename, result.DetectionCount(), result.ProcessingTime)
		writeJSON(w, http.StatusOK, dto.NewDetectionResponse(result), logger)
	}
}

// DetectURLHandler fetches the image at image_url and runs detection on it.
func DetectURLHandler(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	client := &http.Client{Timeout: cfg.FetchTimeout}

	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.URLDetectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageURL == "" {
			writeError(w, http.StatusBadRequest, CodeNoImageURL, "Image URL not provided", err, cfg.Debug, logger)
			return
		}

		src, err := fetchImage(r.Context(), client, req.ImageURL, int64(cfg.MaxUploadMB)<<20)
		if err != nil {
			logger.Warning("Fetching %s failed: %v", req.ImageURL, err)
			writeError(w, http.StatusBadRequest, CodeImageFetch, "Could not fetch image", err, cfg.Debug, logger)
			return
		}

		result, err := manager.Detect(r.Context(), src, req.Config)
		if err != nil {
			writePipelineError(w, err, cfg.Debug, logger)
			return
		}

		writeJSON(w, http.StatusOK, dto.NewDetectionResponse(result), logger)
	}
}

func fetchImage(ctx context.Context, client *http.Client, url string, limit int64) (models.ImageSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ImageSource{}, errors.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.ImageSource{}, errors.Wrap(err, "fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ImageSource{}, errors.Errorf("fetch image: unexpected status %s", resp.Status)
	}

	name := filepath.Base(req.URL.Path)
	return decodeImage(io.LimitReader(resp.Body, limit), name)
}

// DetectBatchHandler runs detection on every uploaded image (form field
// "images"). Items that cannot be decoded are reported inline and recorded
// like any other failed item.
func DetectBatchHandler(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseUpload(w, r, cfg, logger) {
			return
		}

		files := r.MultipartForm.File["images"]
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, CodeNoImageFile, "No image files provided", nil, false, logger)
			return
		}

		override, ferr := parseFormOverride(r)
		if ferr != nil {
			writeError(w, http.StatusBadRequest, ferr.code, ferr.message, nil, false, logger)
			return
		}
		// Validate once up front so a bad override fails the request, not every item.
		if merged := manager.GetPipeline().Configuration().Merge(override); !merged.IsValid() {
			writeError(w, http.StatusBadRequest, CodeInvalidConfiguration, "Invalid detection configuration", nil, false, logger)
			return
		}

		results := make([]*models.DetectionResult, len(files))
		rejected := make([]error, len(files))
		var srcs []models.ImageSource
		var positions []int
		for i, fh := range files {
			if !allowedFile(fh.Filename) {
				rejected[i] = errors.Errorf("unsupported file type %q", filepath.Ext(fh.Filename))
				continue
			}
			src, err := decodeUpload(fh)
			if err != nil {
				rejected[i] = err
				continue
			}
			srcs = append(srcs, src)
			positions = append(positions, i)
		}

		for j, result := range manager.DetectBatch(r.Context(), srcs, override) {
			results[positions[j]] = result
		}

		modelInfo := manager.GetPipeline().Status().ModelInfo
		for i, err := range rejected {
			if err != nil {
				results[i] = models.NewFailedResult(err, modelInfo)
				manager.Record(models.ImageSource{Name: files[i].Filename}, results[i])
			}
		}

		resp := dto.BatchResponse{Success: true, TotalImages: len(files), Results: make([]dto.BatchItem, len(files))}
		for i, result := range results {
			if result.Failed() {
				resp.FailedImages++
			}
			resp.TotalDetections += result.DetectionCount()
			resp.Results[i] = dto.BatchItem{Filename: files[i].Filename, DetectionResponse: dto.NewDetectionResponse(result)}
		}

		logger.Info("📦 Batch of %d images: %d failed, %d objects", resp.TotalImages, resp.FailedImages, resp.TotalDetections)
		writeJSON(w, http.StatusOK, resp, logger)
	}
}
