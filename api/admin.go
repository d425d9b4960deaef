package api

import (
	"crypto/subtle"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/loomwire/loomwire/apperr"
)

// Admin exposes the operator surface, all behind X-Admin-Token.
type Admin struct {
	d Deps
}

func InitAdmin(app fiber.Router, d Deps) {
	h := &Admin{d: d}
	grp := app.Group("/admin", h.auth)

	grp.Post("/jobs/requeue", h.RequeueByType)
	grp.Post("/jobs/requeue-one", h.RequeueOne)
	grp.Post("/jobs/pause", h.Pause)
	grp.Get("/jobs/dlq", h.ListDLQ)
	grp.Get("/jobs/stats", h.Stats)
	grp.Get("/jobs/next", h.Next)

	grp.Post("/ocr/run-once", h.OCRRunOnce)
	grp.Post("/ocr/enable", h.OCREnable)
	grp.Get("/ocr/stats", h.OCRStats)

	grp.Post("/purge-deleted", h.PurgeDeleted)
}

func (h *Admin) auth(c *fiber.Ctx) error {
	token := h.d.Cfg.Security.AdminToken
	if token == "" {
		return apperr.Forbidden("admin surface is not configured")
	}
	provided := c.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(provided)) != 1 {
		return apperr.Forbidden("invalid admin token")
	}
	return c.Next()
}

func (h *Admin) RequeueByType(c *fiber.Ctx) error {
	jobType := c.Query("job_type")
	if jobType == "" {
		return apperr.NewValidation("job_type query parameter is required")
	}
	count, err := h.d.JobsAdmin.RequeueByType(c.UserContext(), jobType)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"requeued": count})
}

func (h *Admin) RequeueOne(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Query("job_id"))
	if err != nil {
		return apperr.NewValidation("job_id must be a UUID")
	}
	if err := h.d.JobsAdmin.RequeueOne(c.UserContext(), jobID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "requeued"})
}

func (h *Admin) Pause(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Query("job_id"))
	if err != nil {
		return apperr.NewValidation("job_id must be a UUID")
	}
	pause, err := strconv.ParseBool(c.Query("pause", "true"))
	if err != nil {
		return apperr.NewValidation("pause must be a boolean")
	}
	if err := h.d.JobsAdmin.Pause(c.UserContext(), jobID, pause); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "paused": pause})
}

func (h *Admin) ListDLQ(c *fiber.Ctx) error {
	rows, err := h.d.JobsAdmin.ListDLQ(c.UserContext(), c.Query("job_type"), c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"dlq": rows})
}

func (h *Admin) Stats(c *fiber.Ctx) error {
	stats, err := h.d.JobsAdmin.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"stats": stats})
}

func (h *Admin) Next(c *fiber.Ctx) error {
	rows, err := h.d.JobsAdmin.Next(c.UserContext(), c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"next": rows})
}

func (h *Admin) OCRRunOnce(c *fiber.Ctx) error {
	triggered, err := h.d.Pipeline.RunOCROnce(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"triggered": triggered})
}

func (h *Admin) OCREnable(c *fiber.Ctx) error {
	documentID, err := uuid.Parse(c.Query("document_id"))
	if err != nil {
		return apperr.NewValidation("document_id must be a UUID")
	}
	if err := h.d.Pipeline.EnableOCR(c.UserContext(), documentID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "enabled"})
}

func (h *Admin) OCRStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"attempts": h.d.OCRStats.Attempts.Load(),
		"success":  h.d.OCRStats.Success.Load(),
		"failed":   h.d.OCRStats.Failed.Load(),
	})
}

func (h *Admin) PurgeDeleted(c *fiber.Ctx) error {
	retentionDays := -1
	if raw := c.Query("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return apperr.NewValidation("retention_days must be a non-negative integer")
		}
		retentionDays = parsed
	}
	purged, err := h.d.Pipeline.PurgeDeleted(c.UserContext(), retentionDays)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"purged": purged})
}
