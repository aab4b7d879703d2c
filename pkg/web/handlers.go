// Package web provides HTTP handlers and REST API endpoints for approval
// flow and instance management.
package web

import (
	"context"
	"strconv"

	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/flow"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// userIDHeader carries the caller's identity. The engine sits behind the
// platform's auth gateway, which authenticates and injects it.
const userIDHeader = "X-User-Id"

// adminHeader is set by the gateway for platform administrators.
const adminHeader = "X-Admin"

type APIHandlers struct {
	flowService     *flow.Service
	instanceService *engine.InstanceService
	processor       *engine.Processor
	inbox           *engine.Inbox
	validator       *validator.Validate
}

func NewAPIHandlers(
	flowService *flow.Service,
	instanceService *engine.InstanceService,
	processor *engine.Processor,
	inbox *engine.Inbox,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService:     flowService,
		instanceService: instanceService,
		processor:       processor,
		inbox:           inbox,
		validator:       validate,
	}
}

func userID(c fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Get(userIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func pagination(c fiber.Ctx) (int, int, error) {
	page, size := 1, 0

	if pageStr := c.Query("page"); pageStr != "" {
		parsed, err := strconv.Atoi(pageStr)
		if err != nil {
			return 0, 0, err
		}

		page = parsed
	}

	if sizeStr := c.Query("size"); sizeStr != "" {
		parsed, err := strconv.Atoi(sizeStr)
		if err != nil {
			return 0, 0, err
		}

		size = parsed
	}

	return page, size, nil
}

// --- Flows ---

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	page, size, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	opts := persistence.ListFlowsOptions{
		Name:     c.Query("name"),
		Category: c.Query("category"),
		Page:     page,
		Size:     size,
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.FlowStatus(statusStr)
		opts.Status = &status
	}

	result, err := h.flowService.List(c.Context(), opts)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":         result.Flows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flowService.Create(c.Context(), &models.Flow{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Category:    req.Category,
		FormSchema:  req.FormSchema,
		Nodes:       req.Nodes,
		Lines:       req.Lines,
		Settings:    req.Settings,
		CreatedBy:   userID,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	// ?version=N fetches a frozen published snapshot instead of the working copy.
	if versionStr := c.Query("version"); versionStr != "" {
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return badRequest(c, "Invalid version parameter")
		}

		snapshot, err := h.flowService.GetVersion(c.Context(), id, version)
		if err != nil {
			return handleEngineError(c, err)
		}

		return c.JSON(snapshot)
	}

	f, err := h.flowService.Get(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(f)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.flowService.Update(c.Context(), id, &models.Flow{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		Category:    req.Category,
		FormSchema:  req.FormSchema,
		Nodes:       req.Nodes,
		Lines:       req.Lines,
		Settings:    req.Settings,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	if err := h.flowService.Delete(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	published, err := h.flowService.Publish(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) UnpublishFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	archived, err := h.flowService.Unpublish(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(archived)
}

// --- Instances ---

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	page, size, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	opts := persistence.ListInstancesOptions{
		FlowID:       c.Query("flow_id"),
		BusinessType: c.Query("business_type"),
		Title:        c.Query("title"),
		Page:         page,
		Size:         size,
	}

	if applicantStr := c.Query("applicant_id"); applicantStr != "" {
		applicant, err := strconv.ParseInt(applicantStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid applicant_id parameter")
		}

		opts.ApplicantID = &applicant
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		opts.Status = &status
	}

	if urgencyStr := c.Query("urgency"); urgencyStr != "" {
		urgency := models.Urgency(urgencyStr)
		opts.Urgency = &urgency
	}

	result, err := h.instanceService.List(c.Context(), opts)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":     result.Instances,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.instanceService.Start(c.Context(), engine.StartRequest{
		FlowID:       req.FlowID,
		Title:        req.Title,
		ApplicantID:  userID,
		FormData:     req.FormData,
		BusinessKey:  req.BusinessKey,
		BusinessType: req.BusinessType,
		Urgency:      req.Urgency,
		Tags:         req.Tags,
		Attachments:  req.Attachments,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.Get(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	admin := c.Get(adminHeader) == "true"

	instance, err := h.instanceService.Cancel(c.Context(), id, userID, admin)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) DeleteInstance(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	if err := h.instanceService.Delete(c.Context(), id, userID); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// --- Steps ---

func (h *APIHandlers) ProcessStep(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Step ID is required")
	}

	var req ProcessStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.processor.Process(c.Context(), id, engine.Action{
		Type:         req.Action,
		ActorID:      userID,
		Opinion:      req.Opinion,
		Attachments:  req.Attachments,
		DelegateTo:   req.DelegateTo,
		ReturnToNode: req.ReturnToNode,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) MarkStepRead(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Step ID is required")
	}

	step, err := h.inbox.MarkRead(c.Context(), id, userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(step)
}

// --- Inbox ---

func (h *APIHandlers) MyTodo(c fiber.Ctx) error {
	return h.stepInbox(c, h.inbox.MyTodo, "steps")
}

func (h *APIHandlers) MyDone(c fiber.Ctx) error {
	return h.stepInbox(c, h.inbox.MyDone, "steps")
}

func (h *APIHandlers) MyCc(c fiber.Ctx) error {
	return h.stepInbox(c, h.inbox.MyCc, "steps")
}

func (h *APIHandlers) MyInitiated(c fiber.Ctx) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	page, size, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	result, err := h.inbox.MyInitiated(c.Context(), userID, page, size)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":     result.Instances,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}

type stepInboxQuery func(ctx context.Context, userID int64, page, size int) (*persistence.StepListResult, error)

func (h *APIHandlers) stepInbox(c fiber.Ctx, query stepInboxQuery, key string) error {
	userID, ok := userID(c)
	if !ok {
		return unauthorized(c, "Missing or invalid "+userIDHeader+" header")
	}

	page, size, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	result, err := query(c.Context(), userID, page, size)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		key:             result.Steps,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
	})
}
