package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/loomwire/loomwire/actions"
	"github.com/loomwire/loomwire/apperr"
)

// Actions exposes the execute_action endpoint.
type Actions struct {
	d Deps
}

func InitActions(app fiber.Router, d Deps) {
	h := &Actions{d: d}
	app.Post("/tools/execute_action", h.Execute)
}

func (h *Actions) Execute(c *fiber.Ctx) error {
	workspaceID, err := workspaceFromHeader(c)
	if err != nil {
		return err
	}
	var req actions.Request
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewValidation("malformed execute_action request")
	}

	result, err := h.d.Actions.Execute(c.UserContext(), workspaceID, req)
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if result.InFlight {
		// A concurrent duplicate still in flight answers 202 with the
		// stored summary.
		status = fiber.StatusAccepted
	}
	body := fiber.Map{
		"action_id":  result.ActionID.String(),
		"status":     result.Status,
		"summary":    result.Summary,
		"details":    result.Details,
		"created_at": result.CreatedAt,
	}
	if result.ETAMinutes > 0 {
		body["eta_minutes"] = result.ETAMinutes
	}
	return c.Status(status).JSON(body)
}
