package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"productflow/phase"
	"productflow/store"
	"productflow/utils"
)

var reasonStatus = map[phase.Reason]int{
	phase.ReasonNotAMember:             fiber.StatusForbidden,
	phase.ReasonForbidden:              fiber.StatusForbidden,
	phase.ReasonFieldNotEditable:       fiber.StatusForbidden,
	phase.ReasonInvalidPhaseForType:    fiber.StatusUnprocessableEntity,
	phase.ReasonInvalidVersionChain:    fiber.StatusUnprocessableEntity,
	phase.ReasonInvalidRole:            fiber.StatusUnprocessableEntity,
	phase.ReasonAlreadyTerminal:        fiber.StatusConflict,
	phase.ReasonReviewRequired:         fiber.StatusConflict,
	phase.ReasonOutOfOrder:             fiber.StatusConflict,
	phase.ReasonReviewNotEnabled:       fiber.StatusConflict,
	phase.ReasonReviewNotPending:       fiber.StatusConflict,
	phase.ReasonMissingRejectionReason: fiber.StatusBadRequest,
	phase.ReasonUnknownType:            fiber.StatusBadRequest,
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var blocked *phase.BlockedError
	if errors.As(err, &blocked) {
		if status, ok := reasonStatus[blocked.Decision.Reason]; ok {
			return status
		}
		return fiber.StatusBadRequest
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return fiber.StatusConflict
	case errors.Is(err, store.ErrMissingTenant):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// respondError writes err with the status StatusFor picks. Blocked domain
// operations carry their reason code; unexpected errors are reported and
// answered with message.
func respondError(c *fiber.Ctx, err error, message string) error {
	var blocked *phase.BlockedError
	if errors.As(err, &blocked) {
		return utils.ReasonResponse(c, StatusFor(err), string(blocked.Decision.Reason), blocked.Decision.Message)
	}

	status := StatusFor(err)
	switch status {
	case fiber.StatusNotFound:
		return utils.ErrorResponse(c, status, "Not found", nil)
	case fiber.StatusConflict:
		if errors.Is(err, store.ErrConflict) {
			return utils.ReasonResponse(c, status, "CONFLICT", "The work item was changed by someone else, reload and retry")
		}
		return utils.ErrorResponse(c, status, "Already exists", nil)
	case fiber.StatusInternalServerError:
		utils.LogError("request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
	}
	return utils.ErrorResponse(c, status, message, err)
}
