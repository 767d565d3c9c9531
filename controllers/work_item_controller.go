package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"productflow/phase"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

type WorkItemController struct {
	Lifecycle *services.Lifecycle
	Logger    *logrus.Entry
}

func NewWorkItemController(lc *services.Lifecycle) *WorkItemController {
	return &WorkItemController{
		Lifecycle: lc,
		Logger:    utils.Component("workitems"),
	}
}

// GetPermissions returns the caller's per-phase permissions in the workspace
func (wc *WorkItemController) GetPermissions(c *fiber.Ctx) error {
	perms, err := wc.Lifecycle.Permissions(c.UserContext(), actorID(c), scopeParam(c))
	if err != nil {
		return respondError(c, err, "Failed to resolve permissions")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"role":    perms.Role(),
		"phases":  perms.Map(),
		"summary": perms.Summary(),
	}))
}

// CreateWorkItem creates an item in the first phase of its type
func (wc *WorkItemController) CreateWorkItem(c *fiber.Ctx) error {
	var input struct {
		Type               string                 `json:"type" validate:"required,work_item_type"`
		Name               string                 `json:"name" validate:"required,max=200"`
		Description        string                 `json:"description" validate:"omitempty,max=5000"`
		Priority           string                 `json:"priority" validate:"omitempty,oneof=low medium high critical"`
		PlannedStartDate   *time.Time             `json:"planned_start_date"`
		PlannedEndDate     *time.Time             `json:"planned_end_date"`
		Details            map[string]interface{} `json:"details"`
		ReviewEnabled      bool                   `json:"review_enabled"`
		EnhancesWorkItemID *uint                  `json:"enhances_work_item_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.PlannedStartDate != nil && input.PlannedEndDate != nil && input.PlannedEndDate.Before(*input.PlannedStartDate) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "planned_end_date must not be before planned_start_date", nil)
	}

	view, err := wc.Lifecycle.CreateWorkItem(c.UserContext(), actorID(c), scopeParam(c), services.CreateWorkItemInput{
		Type:               phase.WorkItemType(input.Type),
		Name:               input.Name,
		Description:        input.Description,
		Priority:           input.Priority,
		PlannedStartDate:   input.PlannedStartDate,
		PlannedEndDate:     input.PlannedEndDate,
		Details:            input.Details,
		ReviewEnabled:      input.ReviewEnabled,
		EnhancesWorkItemID: input.EnhancesWorkItemID,
	})
	if err != nil {
		return respondError(c, err, "Failed to create work item")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(view))
}

// GetWorkItems lists items with optional type, phase and review_status filters
func (wc *WorkItemController) GetWorkItems(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	filter := store.WorkItemFilter{
		Phase:        phase.Phase(c.Query("phase")),
		ReviewStatus: phase.ReviewStatus(c.Query("review_status")),
		Limit:        limit,
		Offset:       offset,
	}
	if raw := c.Query("type"); raw != "" {
		typ, err := phase.ParseType(raw)
		if err != nil {
			return utils.ReasonResponse(c, fiber.StatusBadRequest, string(phase.ReasonUnknownType), "Unknown work item type")
		}
		filter.Type = typ
	}

	views, err := wc.Lifecycle.ListWorkItems(c.UserContext(), actorID(c), scopeParam(c), filter)
	if err != nil {
		return respondError(c, err, "Failed to fetch work items")
	}
	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:   views,
		Limit:  limit,
		Offset: offset,
	}))
}

func (wc *WorkItemController) GetWorkItem(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	view, err := wc.Lifecycle.GetWorkItem(c.UserContext(), actorID(c), scopeParam(c), id)
	if err != nil {
		return respondError(c, err, "Failed to fetch work item")
	}
	return c.JSON(utils.SuccessResponse(view))
}

// UpdateWorkItem writes the fields editable in the item's current phase
func (wc *WorkItemController) UpdateWorkItem(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	var input struct {
		Name             *string                `json:"name" validate:"omitempty,min=1,max=200"`
		Description      *string                `json:"description" validate:"omitempty,max=5000"`
		Priority         *string                `json:"priority" validate:"omitempty,oneof=low medium high critical"`
		PlannedStartDate *time.Time             `json:"planned_start_date"`
		PlannedEndDate   *time.Time             `json:"planned_end_date"`
		Details          map[string]interface{} `json:"details"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	view, err := wc.Lifecycle.UpdateWorkItem(c.UserContext(), actorID(c), scopeParam(c), id, services.UpdateWorkItemInput{
		Name:             input.Name,
		Description:      input.Description,
		Priority:         input.Priority,
		PlannedStartDate: input.PlannedStartDate,
		PlannedEndDate:   input.PlannedEndDate,
		Details:          input.Details,
	})
	if err != nil {
		return respondError(c, err, "Failed to update work item")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (wc *WorkItemController) DeleteWorkItem(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	if err := wc.Lifecycle.DeleteWorkItem(c.UserContext(), actorID(c), scopeParam(c), id); err != nil {
		return respondError(c, err, "Failed to delete work item")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// TransitionWorkItem moves an item to the requested phase
func (wc *WorkItemController) TransitionWorkItem(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	var input struct {
		Phase string `json:"phase" validate:"required,max=32"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	view, err := wc.Lifecycle.Transition(c.UserContext(), actorID(c), scopeParam(c), id, phase.Phase(input.Phase))
	if err != nil {
		return respondError(c, err, "Failed to transition work item")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (wc *WorkItemController) GetHistory(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	history, err := wc.Lifecycle.History(c.UserContext(), actorID(c), scopeParam(c), id)
	if err != nil {
		return respondError(c, err, "Failed to fetch history")
	}
	return c.JSON(utils.SuccessResponse(history))
}

func (wc *WorkItemController) RequestReview(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	view, err := wc.Lifecycle.RequestReview(c.UserContext(), actorID(c), scopeParam(c), id)
	if err != nil {
		return respondError(c, err, "Failed to request review")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (wc *WorkItemController) ApproveReview(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	view, err := wc.Lifecycle.ApproveReview(c.UserContext(), actorID(c), scopeParam(c), id)
	if err != nil {
		return respondError(c, err, "Failed to approve review")
	}
	return c.JSON(utils.SuccessResponse(view))
}

// RejectReview rejects a pending review. The reason is checked by the
// review gate so a blank one is reported as MISSING_REJECTION_REASON.
func (wc *WorkItemController) RejectReview(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	var input struct {
		Reason string `json:"reason" validate:"max=2000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	view, err := wc.Lifecycle.RejectReview(c.UserContext(), actorID(c), scopeParam(c), id, input.Reason)
	if err != nil {
		return respondError(c, err, "Failed to reject review")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (wc *WorkItemController) UpdateReviewSettings(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid work item ID", nil)
	}
	var input struct {
		Enabled *bool `json:"enabled" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	view, err := wc.Lifecycle.SetReviewEnabled(c.UserContext(), actorID(c), scopeParam(c), id, *input.Enabled)
	if err != nil {
		return respondError(c, err, "Failed to update review settings")
	}
	return c.JSON(utils.SuccessResponse(view))
}
