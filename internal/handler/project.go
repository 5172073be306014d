package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/pipeline"
	"github.com/songlab/api/internal/store"
	"github.com/songlab/api/pkg/response"
)

type ProjectHandler struct {
	controller *pipeline.Controller
	validator  *validator.Validate
}

func NewProjectHandler(controller *pipeline.Controller, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		controller: controller,
		validator:  v,
	}
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.ProjectCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.controller.Create(c.Context(), middleware.GetUserID(c), req.SongName, req.FlowType)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, p)
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.controller.ListOpenDrafts(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"projects": projects})
}

// Get handles GET /api/projects/:projectId
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	p, err := h.controller.Open(c.Context(), pipeline.SessionContext{
		IsResuming:      true,
		ResumeProjectID: projectID,
	}, middleware.GetUserID(c))
	if err != nil {
		return projectError(c, err)
	}

	return response.OK(c, p)
}

// Update handles PATCH /api/projects/:projectId
func (h *ProjectHandler) Update(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.ProjectUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.controller.UpdateMeta(c.Context(), middleware.GetUserID(c), projectID, &req)
	if err != nil {
		return projectError(c, err)
	}

	return response.OK(c, p)
}

// Delete handles DELETE /api/projects/:projectId
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	if err := h.controller.Delete(c.Context(), middleware.GetUserID(c), projectID); err != nil {
		return projectError(c, err)
	}

	return response.NoContent(c)
}

// Advance handles POST /api/projects/:projectId/advance
func (h *ProjectHandler) Advance(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.AdvanceStageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.controller.Advance(c.Context(), middleware.GetUserID(c), projectID, req.Stage)
	if err != nil {
		return projectError(c, err)
	}

	return response.OK(c, p)
}

// SetSections handles PUT /api/projects/:projectId/sections
func (h *ProjectHandler) SetSections(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.SetSectionsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.controller.SetSections(c.Context(), middleware.GetUserID(c), projectID, req.Sections)
	if err != nil {
		return projectError(c, err)
	}

	return response.OK(c, p)
}

// RecordSection handles POST /api/projects/:projectId/recordings
func (h *ProjectHandler) RecordSection(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.RecordSectionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.controller.RecordSection(c.Context(), middleware.GetUserID(c), projectID, req.SectionIndex, req.AudioURL, req.Layer)
	if err != nil {
		return projectError(c, err)
	}

	return response.OK(c, p)
}

// projectError maps controller and store errors onto HTTP responses.
func projectError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, pipeline.ErrInvalidTransition),
		errors.Is(err, pipeline.ErrStageLocked),
		errors.Is(err, pipeline.ErrSectionsIncomplete),
		errors.Is(err, pipeline.ErrNoSections):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}

// formatValidationErrors formats validator errors for response
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
