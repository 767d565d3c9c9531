package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"productflow/phase"
	"productflow/services"
	"productflow/utils"
)

type AssignmentController struct {
	Lifecycle *services.Lifecycle
	Logger    *logrus.Entry
}

func NewAssignmentController(lc *services.Lifecycle) *AssignmentController {
	return &AssignmentController{
		Lifecycle: lc,
		Logger:    utils.Component("assignments"),
	}
}

func (ac *AssignmentController) GetAssignments(c *fiber.Ctx) error {
	rows, err := ac.Lifecycle.ListAssignments(c.UserContext(), actorID(c), scopeParam(c))
	if err != nil {
		return respondError(c, err, "Failed to fetch assignments")
	}
	return c.JSON(utils.SuccessResponse(rows))
}

// AssignPhase creates or replaces a member's assignment on one phase
func (ac *AssignmentController) AssignPhase(c *fiber.Ctx) error {
	var input struct {
		UserID  uint   `json:"user_id" validate:"required"`
		Phase   string `json:"phase" validate:"required,max=32"`
		CanEdit bool   `json:"can_edit"`
		IsLead  bool   `json:"is_lead"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	row, err := ac.Lifecycle.AssignPhase(c.UserContext(), actorID(c), scopeParam(c), services.AssignInput{
		UserID:  input.UserID,
		Phase:   phase.Phase(input.Phase),
		CanEdit: input.CanEdit,
		IsLead:  input.IsLead,
	})
	if err != nil {
		return respondError(c, err, "Failed to assign phase")
	}
	return c.JSON(utils.SuccessResponse(row))
}

func (ac *AssignmentController) RevokePhase(c *fiber.Ctx) error {
	userID := utils.ParseUint(c.Params("userId"))
	if userID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID", nil)
	}
	err := ac.Lifecycle.RevokePhase(c.UserContext(), actorID(c), scopeParam(c), userID, phase.Phase(c.Params("phase")))
	if err != nil {
		return respondError(c, err, "Failed to revoke assignment")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
