package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/openscribe/api/internal/model"
	"github.com/openscribe/api/internal/service"
	"github.com/openscribe/api/pkg/response"
)

const copyChunkSize = 1024 * 1024

type TranscribeHandler struct {
	service   *service.TranscribeService
	validator *validator.Validate

	maxBytes int64  // upload size cap
	tempDir  string // where uploads are staged
}

func NewTranscribeHandler(svc *service.TranscribeService, v *validator.Validate, maxBytes int64, tempDir string) *TranscribeHandler {
	return &TranscribeHandler{
		service:   svc,
		validator: v,
		maxBytes:  maxBytes,
		tempDir:   tempDir,
	}
}

// Submit handles POST /api/transcribe. The media file arrives as multipart
// field "file"; decode options as a JSON document in form field "q". The
// correlation token is taken from the request_id query param, then the
// X-Request-ID header, then the q document.
func (h *TranscribeHandler) Submit(c *fiber.Ctx) error {
	opts := model.DefaultTranscribeOptions()
	if q := c.FormValue("q"); q != "" {
		if err := json.Unmarshal([]byte(q), &opts); err != nil {
			return response.ValidationError(c, "Invalid q document", nil)
		}
	}

	if reqID := c.Query("request_id"); reqID != "" {
		opts.RequestID = reqID
	} else if reqID := c.Get("X-Request-ID"); reqID != "" {
		opts.RequestID = reqID
	}

	if err := h.validator.Struct(&opts); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size > h.maxBytes {
		return response.TooLarge(c, "File too large")
	}

	inputPath, err := h.stageUpload(file)
	if err != nil {
		if err == errUploadTooLarge {
			return response.TooLarge(c, "File too large")
		}
		return response.ServiceError(c, "Failed to store upload")
	}

	job, err := h.service.Submit(c.Context(), inputPath, opts)
	if err != nil {
		os.Remove(inputPath)
		return response.ServiceError(c, "Failed to schedule job")
	}

	statusURL := fmt.Sprintf("/api/jobs/%s", job.ID)
	c.Set("Location", statusURL)
	if opts.RequestID != "" {
		c.Set("X-Request-ID", opts.RequestID)
	}

	return response.Accepted(c, model.TranscribeAccepted{
		JobID:     job.ID,
		StatusURL: statusURL,
	})
}

// Status handles GET /api/jobs/:jobId
func (h *TranscribeHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Status(jobID)
	if err != nil {
		return response.NotFound(c, "Job not found")
	}

	return response.OK(c, job)
}

var errUploadTooLarge = fmt.Errorf("upload exceeds size limit")

// stageUpload copies the multipart file to a server-local temp file in
// bounded chunks, enforcing the size cap as bytes arrive. On success the
// caller (ultimately the worker) owns the file.
func (h *TranscribeHandler) stageUpload(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	suffix := filepath.Ext(file.Filename)
	if suffix == "" {
		suffix = ".bin"
	}
	dst, err := os.CreateTemp(h.tempDir, "in_*"+suffix)
	if err != nil {
		return "", err
	}

	var written int64
	buf := make([]byte, copyChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > h.maxBytes {
				dst.Close()
				os.Remove(dst.Name())
				return "", errUploadTooLarge
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				os.Remove(dst.Name())
				return "", werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			dst.Close()
			os.Remove(dst.Name())
			return "", rerr
		}
	}

	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
