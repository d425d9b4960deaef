package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/retrieval"
)

// Search exposes the retrieval surface: the orchestrator-facing tool
// endpoint and the general /search with cursors.
type Search struct {
	d Deps
}

func InitSearch(app fiber.Router, d Deps) {
	h := &Search{d: d}
	app.Post("/tools/retrieve_context", h.RetrieveContext)
	app.Post("/search", h.GeneralSearch)
}

type retrieveRequest struct {
	ConversationID string         `json:"conversation_id"`
	Query          string         `json:"query"`
	Slots          map[string]any `json:"slots"`
	Filters        map[string]any `json:"filters"`
	TopK           int            `json:"top_k"`
	Hybrid         bool           `json:"hybrid"`
}

func (h *Search) RetrieveContext(c *fiber.Ctx) error {
	workspaceID, err := workspaceFromHeader(c)
	if err != nil {
		return err
	}
	var req retrieveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewValidation("malformed retrieve_context request")
	}
	if req.TopK > 20 {
		req.TopK = 20
	}

	filters := retrieval.FiltersFromAny(req.Filters)
	// Slot-derived filters fill in whatever the explicit filters left unset.
	slotStrings := make(map[string]string, len(req.Slots))
	for k, v := range req.Slots {
		if s, ok := v.(string); ok {
			slotStrings[k] = s
		}
	}
	for k, v := range retrieval.FiltersFromSlots(slotStrings) {
		if _, taken := filters[k]; !taken {
			filters[k] = v
		}
	}

	resp, err := h.run(c, "retrieve_context", retrieval.Request{
		WorkspaceID: workspaceID,
		Query:       req.Query,
		Filters:     filters,
		TopK:        req.TopK,
		Hybrid:      req.Hybrid,
		Mode:        retrieval.PaginationHybrid,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"results":         resp.Results,
		"query":           resp.Query,
		"total_results":   resp.TotalResults,
		"processing_time": resp.ProcessingTime.Seconds(),
	})
}

type searchRequest struct {
	retrieveRequest
	WorkspaceID    string `json:"workspace_id"`
	Cursor         string `json:"cursor"`
	PaginationMode string `json:"pagination_mode"`
}

func (h *Search) GeneralSearch(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewValidation("malformed search request")
	}
	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		return apperr.NewValidation("workspace_id must be a UUID",
			apperr.FieldDiagnostic{Field: "workspace_id", Message: "must be a UUID"})
	}
	// A workspace header, when present, must agree with the body.
	if headerRaw := c.Get("X-Workspace-Id"); headerRaw != "" && headerRaw != req.WorkspaceID {
		return apperr.Forbidden("X-Workspace-Id does not match workspace_id")
	}

	mode := retrieval.PaginationMode(req.PaginationMode)
	if mode == "" {
		mode = retrieval.PaginationNative
	}
	var cursor *retrieval.Cursor
	if req.Cursor != "" {
		decoded, err := retrieval.DecodeCursor(req.Cursor)
		if err != nil {
			return apperr.BadRequestError("invalid cursor")
		}
		cursor = &decoded
	}

	resp, err := h.run(c, "search", retrieval.Request{
		WorkspaceID: workspaceID,
		Query:       req.Query,
		Filters:     retrieval.FiltersFromAny(req.Filters),
		TopK:        req.TopK,
		Hybrid:      req.Hybrid,
		Cursor:      cursor,
		Mode:        mode,
	})
	if err != nil {
		return err
	}

	body := fiber.Map{
		"results":         resp.Results,
		"query":           resp.Query,
		"total_results":   resp.TotalResults,
		"processing_time": resp.ProcessingTime.Seconds(),
		"search_type":     resp.SearchType,
		"pagination_mode": string(resp.PaginationMode),
	}
	if resp.NextCursor != nil {
		body["next_cursor"] = retrieval.EncodeCursor(*resp.NextCursor)
	}
	return c.JSON(body)
}

func (h *Search) run(c *fiber.Ctx, endpoint string, req retrieval.Request) (*retrieval.Response, error) {
	wsHash := observability.WorkspaceHash(req.WorkspaceID.String())
	h.d.Metrics.RetrievalRequests.WithLabelValues(endpoint, wsHash).Inc()
	start := time.Now()
	resp, err := h.d.Retrieval.Search(c.UserContext(), req)
	h.d.Metrics.RetrievalLatency.WithLabelValues(endpoint, wsHash).Observe(time.Since(start).Seconds())
	if err != nil {
		h.d.Metrics.RetrievalErrors.WithLabelValues(endpoint, wsHash).Inc()
		return nil, err
	}
	resp.ProcessingTime = time.Since(start)
	return resp, nil
}
