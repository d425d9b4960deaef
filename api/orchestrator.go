package api

import (
	"math"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/orchestrator"
)

// Orchestrator exposes /orchestrator/decide for deployments where C8
// runs as its own service; in-process callers use the engine directly.
type Orchestrator struct {
	d Deps
}

func InitOrchestrator(app fiber.Router, d Deps) {
	h := &Orchestrator{d: d}
	app.Post("/orchestrator/decide", h.Decide)
	app.Post("/orchestrator/answer", h.Answer)
}

func (h *Orchestrator) Decide(c *fiber.Ctx) error {
	snapshot, err := h.parseSnapshot(c)
	if err != nil {
		return err
	}
	if ok, wait := h.d.Guard.Allow(snapshot.ConversationID); !ok {
		return &apperr.RateLimitedError{
			Msg:        "conversation is being processed too fast",
			RetryAfter: int(math.Ceil(wait.Seconds())),
		}
	}
	decision := h.d.Orch.Decide(c.UserContext(), snapshot)
	return c.JSON(decision)
}

func (h *Orchestrator) Answer(c *fiber.Ctx) error {
	snapshot, err := h.parseSnapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(h.d.Orch.Answer(c.UserContext(), snapshot))
}

func (h *Orchestrator) parseSnapshot(c *fiber.Ctx) (orchestrator.ConversationSnapshot, error) {
	var snapshot orchestrator.ConversationSnapshot
	if _, err := workspaceFromHeader(c); err != nil {
		return snapshot, err
	}
	if err := c.BodyParser(&snapshot); err != nil {
		return snapshot, apperr.NewValidation("malformed conversation snapshot")
	}
	if snapshot.ConversationID == uuid.Nil {
		return snapshot, apperr.NewValidation("conversation_id is required",
			apperr.FieldDiagnostic{Field: "conversation_id", Message: "required"})
	}
	if snapshot.Vertical == "" {
		return snapshot, apperr.NewValidation("vertical is required",
			apperr.FieldDiagnostic{Field: "vertical", Message: "required"})
	}
	return snapshot, nil
}
