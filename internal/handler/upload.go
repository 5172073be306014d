package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/pkg/response"
)

const maxUploadSize = 100 * 1024 * 1024 // 100MB

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Audio handles POST /api/upload/audio
func (h *UploadHandler) Audio(c *fiber.Ctx) error {
	label := c.FormValue("label")
	if label == "" {
		label = "take"
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 100MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.UploadAudio(c.Context(), middleware.GetUserID(c), file.Filename, label, f)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedAudioType) {
			return response.ValidationError(c, "Invalid file type. Supported: WAV, MP3, M4A, OGG, FLAC, WEBM", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}
