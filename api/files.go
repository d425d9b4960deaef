package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/observability"
)

// Files exposes the ingestion surface.
type Files struct {
	d Deps
}

func InitFiles(app fiber.Router, d Deps) {
	h := &Files{d: d}
	app.Post("/files", h.Upload)
	app.Get("/files", h.List)
	app.Get("/files/:id", h.Get)
	app.Delete("/files/:id", h.SoftDelete)
	app.Delete("/files/:id/purge", h.Purge)
	app.Post("/files/:id/reingest", h.Reingest)
}

func (h *Files) Upload(c *fiber.Ctx) error {
	workspaceID, err := workspaceFromHeader(c)
	if err != nil {
		return err
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperr.NewValidation("multipart field \"file\" is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return apperr.NewValidation("unreadable upload")
	}
	defer src.Close()

	file, duplicate, err := h.d.Pipeline.Upload(c.UserContext(), workspaceID, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), src)
	if err != nil {
		return err
	}

	h.d.Metrics.IngestUploaded.WithLabelValues(observability.WorkspaceHash(workspaceID.String())).Inc()
	status := "uploaded"
	message := "file accepted for processing"
	if duplicate {
		status = "duplicate"
		message = "identical file already ingested"
	}
	return c.JSON(fiber.Map{
		"file_id":  file.ID.String(),
		"filename": file.Filename,
		"status":   status,
		"message":  message,
	})
}

func (h *Files) List(c *fiber.Ctx) error {
	workspaceID, err := workspaceFromHeader(c)
	if err != nil {
		return err
	}
	files, err := h.d.Pipeline.ListFiles(c.UserContext(), workspaceID, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"files": files})
}

func (h *Files) Get(c *fiber.Ctx) error {
	workspaceID, fileID, err := h.scope(c)
	if err != nil {
		return err
	}
	file, err := h.d.Pipeline.GetFile(c.UserContext(), workspaceID, fileID)
	if err != nil {
		return err
	}
	return c.JSON(file)
}

func (h *Files) SoftDelete(c *fiber.Ctx) error {
	workspaceID, fileID, err := h.scope(c)
	if err != nil {
		return err
	}
	if err := h.d.Pipeline.SoftDelete(c.UserContext(), workspaceID, fileID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}

func (h *Files) Purge(c *fiber.Ctx) error {
	workspaceID, fileID, err := h.scope(c)
	if err != nil {
		return err
	}
	if err := h.d.Pipeline.Purge(c.UserContext(), workspaceID, fileID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "purged"})
}

func (h *Files) Reingest(c *fiber.Ctx) error {
	workspaceID, fileID, err := h.scope(c)
	if err != nil {
		return err
	}
	if err := h.d.Pipeline.Reingest(c.UserContext(), workspaceID, fileID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "reingest_enqueued"})
}

func (h *Files) scope(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	workspaceID, err := workspaceFromHeader(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	fileID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.NewValidation("file id must be a UUID")
	}
	return workspaceID, fileID, nil
}
