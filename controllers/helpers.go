package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"productflow/middleware"
	"productflow/store"
	"productflow/utils"
)

func actorID(c *fiber.Ctx) uint {
	if user := middleware.CurrentUser(c); user != nil {
		return user.ID
	}
	return 0
}

func teamParam(c *fiber.Ctx) uint {
	return utils.ParseUint(c.Params("teamId"))
}

// scopeParam reads the tenant scope from the route.
func scopeParam(c *fiber.Ctx) store.Scope {
	return store.Scope{
		TeamID:      utils.ParseUint(c.Params("teamId")),
		WorkspaceID: utils.ParseUint(c.Params("workspaceId")),
	}
}

// pagination reads limit/offset, capping limit at 100.
func pagination(c *fiber.Ctx) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
