package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productflow/phase"
	"productflow/store"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{phase.Block(phase.ReasonNotAMember, "x"), fiber.StatusForbidden},
		{phase.Block(phase.ReasonFieldNotEditable, "x"), fiber.StatusForbidden},
		{phase.Block(phase.ReasonReviewRequired, "x"), fiber.StatusConflict},
		{phase.Block(phase.ReasonOutOfOrder, "x"), fiber.StatusConflict},
		{phase.Block(phase.ReasonInvalidPhaseForType, "x"), fiber.StatusUnprocessableEntity},
		{phase.Block(phase.ReasonMissingRejectionReason, "x"), fiber.StatusBadRequest},
		{fmt.Errorf("loading: %w", store.ErrNotFound), fiber.StatusNotFound},
		{store.ErrConflict, fiber.StatusConflict},
		{store.ErrDuplicate, fiber.StatusConflict},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorCarriesReason(t *testing.T) {
	app := fiber.New()
	app.Get("/blocked", func(c *fiber.Ctx) error {
		return respondError(c, phase.Block(phase.ReasonReviewRequired, "needs review"), "failed")
	})
	app.Get("/conflict", func(c *fiber.Ctx) error {
		return respondError(c, store.ErrConflict, "failed")
	})

	for path, want := range map[string]string{"/blocked": "REVIEW_REQUIRED", "/conflict": "CONFLICT"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, want, body["reason"])
		assert.Equal(t, false, body["success"])
	}
}
