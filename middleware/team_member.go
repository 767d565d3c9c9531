package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"productflow/phase"
	"productflow/store"
	"productflow/utils"
)

// RequireTeamMember rejects requests whose user is not a member of the team
// named by the :teamId route parameter.
func RequireTeamMember(members store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
			})
		}

		teamID := utils.ParseUint(c.Params("teamId"))
		if teamID == 0 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid team ID", nil)
		}

		_, err := members.GetMembership(c.UserContext(), teamID, user.ID)
		if errors.Is(err, store.ErrNotFound) {
			return utils.ReasonResponse(c, fiber.StatusForbidden, string(phase.ReasonNotAMember), "You are not a member of this team")
		}
		if err != nil {
			utils.LogError("membership_lookup", err, map[string]interface{}{
				"team_id": teamID,
				"user_id": user.ID,
			})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check team membership", err)
		}

		return c.Next()
	}
}
