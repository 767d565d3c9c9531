package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"productflow/phase"
	"productflow/services"
	"productflow/utils"
)

type TeamController struct {
	Lifecycle *services.Lifecycle
	Logger    *logrus.Entry
}

func NewTeamController(lc *services.Lifecycle) *TeamController {
	return &TeamController{
		Lifecycle: lc,
		Logger:    utils.Component("teams"),
	}
}

// CreateTeam creates a team owned by the caller
func (tc *TeamController) CreateTeam(c *fiber.Ctx) error {
	var input struct {
		Name        string `json:"name" validate:"required,max=100"`
		Description string `json:"description" validate:"omitempty,max=500"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	team, err := tc.Lifecycle.CreateTeam(c.UserContext(), actorID(c), input.Name, input.Description)
	if err != nil {
		return respondError(c, err, "Failed to create team")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(team))
}

// GetTeams lists the caller's teams
func (tc *TeamController) GetTeams(c *fiber.Ctx) error {
	teams, err := tc.Lifecycle.ListTeams(c.UserContext(), actorID(c))
	if err != nil {
		return respondError(c, err, "Failed to fetch teams")
	}
	return c.JSON(utils.SuccessResponse(teams))
}

func (tc *TeamController) GetMembers(c *fiber.Ctx) error {
	members, err := tc.Lifecycle.ListMembers(c.UserContext(), actorID(c), teamParam(c))
	if err != nil {
		return respondError(c, err, "Failed to fetch members")
	}
	return c.JSON(utils.SuccessResponse(members))
}

// AddMember adds a registered user to the team
func (tc *TeamController) AddMember(c *fiber.Ctx) error {
	var input struct {
		Email string `json:"email" validate:"required,mailbox"`
		Role  string `json:"role" validate:"required,team_role"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	member, err := tc.Lifecycle.AddMember(c.UserContext(), actorID(c), teamParam(c), input.Email, phase.Role(input.Role))
	if err != nil {
		return respondError(c, err, "Failed to add member")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(member))
}

func (tc *TeamController) UpdateMemberRole(c *fiber.Ctx) error {
	userID := utils.ParseUint(c.Params("userId"))
	if userID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID", nil)
	}
	var input struct {
		Role string `json:"role" validate:"required,team_role"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := tc.Lifecycle.UpdateMemberRole(c.UserContext(), actorID(c), teamParam(c), userID, phase.Role(input.Role)); err != nil {
		return respondError(c, err, "Failed to update member role")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"user_id": userID, "role": input.Role}))
}

func (tc *TeamController) RemoveMember(c *fiber.Ctx) error {
	userID := utils.ParseUint(c.Params("userId"))
	if userID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID", nil)
	}
	if err := tc.Lifecycle.RemoveMember(c.UserContext(), actorID(c), teamParam(c), userID); err != nil {
		return respondError(c, err, "Failed to remove member")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (tc *TeamController) CreateWorkspace(c *fiber.Ctx) error {
	var input struct {
		Name         string   `json:"name" validate:"required,max=100"`
		Description  string   `json:"description" validate:"omitempty,max=500"`
		EnabledTypes []string `json:"enabled_types" validate:"omitempty,dive,work_item_type"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	types := make([]phase.WorkItemType, len(input.EnabledTypes))
	for i, t := range input.EnabledTypes {
		types[i] = phase.WorkItemType(t)
	}
	ws, err := tc.Lifecycle.CreateWorkspace(c.UserContext(), actorID(c), teamParam(c), input.Name, input.Description, types)
	if err != nil {
		return respondError(c, err, "Failed to create workspace")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(ws))
}

func (tc *TeamController) GetWorkspaces(c *fiber.Ctx) error {
	workspaces, err := tc.Lifecycle.ListWorkspaces(c.UserContext(), actorID(c), teamParam(c))
	if err != nil {
		return respondError(c, err, "Failed to fetch workspaces")
	}
	return c.JSON(utils.SuccessResponse(workspaces))
}

func (tc *TeamController) DeleteWorkspace(c *fiber.Ctx) error {
	if err := tc.Lifecycle.DeleteWorkspace(c.UserContext(), actorID(c), scopeParam(c)); err != nil {
		return respondError(c, err, "Failed to delete workspace")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
