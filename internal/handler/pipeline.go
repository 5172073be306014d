package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/pkg/response"
)

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// Separate handles POST /api/pipeline/separate
func (h *PipelineHandler) Separate(c *fiber.Ctx) error {
	var req model.SeparateStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.StartSeparation(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return projectError(c, err)
	}

	return response.Accepted(c, model.JobStartResponse{JobID: job.ID, Status: job.Status})
}

// Instrumentals handles POST /api/pipeline/instrumentals
func (h *PipelineHandler) Instrumentals(c *fiber.Ctx) error {
	var req model.InstrumentalsStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.StartInstrumentals(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return projectError(c, err)
	}

	return response.Accepted(c, model.JobStartResponse{JobID: job.ID, Status: job.Status})
}

// IntroOutro handles POST /api/pipeline/intro-outro
func (h *PipelineHandler) IntroOutro(c *fiber.Ctx) error {
	var req model.IntroOutroStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.StartIntroOutro(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return projectError(c, err)
	}

	return response.Accepted(c, model.JobStartResponse{JobID: job.ID, Status: job.Status})
}

// Finalize handles POST /api/pipeline/finalize
func (h *PipelineHandler) Finalize(c *fiber.Ctx) error {
	var req model.FinalizeStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.StartFinalize(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return projectError(c, err)
	}

	return response.Accepted(c, model.JobStartResponse{JobID: job.ID, Status: job.Status})
}

// Status handles GET /api/pipeline/status/:jobId
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.JobStatus(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/pipeline/cancel/:jobId
func (h *PipelineHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelJob(c.Context(), jobID, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if err.Error() == "job already completed" {
			return response.ValidationError(c, "Job already completed", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
