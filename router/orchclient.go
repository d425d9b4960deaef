package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/loomwire/loomwire/orchestrator"
)

// HTTPDecider calls a remote /orchestrator/decide, for deployments that run
// C8 as its own service. It forwards X-Workspace-Id, a fresh X-Request-Id,
// and the optional Authorization header.
type HTTPDecider struct {
	BaseURL       string
	WorkspaceID   uuid.UUID
	Authorization string
	Client        *http.Client
}

func NewHTTPDecider(baseURL string, workspaceID uuid.UUID, authorization string) *HTTPDecider {
	return &HTTPDecider{
		BaseURL:       baseURL,
		WorkspaceID:   workspaceID,
		Authorization: authorization,
		Client:        &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *HTTPDecider) Decide(ctx context.Context, snapshot orchestrator.ConversationSnapshot) (orchestrator.Decision, error) {
	return d.post(ctx, "/orchestrator/decide", snapshot)
}

func (d *HTTPDecider) Answer(ctx context.Context, snapshot orchestrator.ConversationSnapshot) (orchestrator.Decision, error) {
	return d.post(ctx, "/orchestrator/answer", snapshot)
}

func (d *HTTPDecider) post(ctx context.Context, path string, snapshot orchestrator.ConversationSnapshot) (orchestrator.Decision, error) {
	var decision orchestrator.Decision
	body, err := json.Marshal(snapshot)
	if err != nil {
		return decision, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return decision, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workspace-Id", d.WorkspaceID.String())
	req.Header.Set("X-Request-Id", uuid.NewString())
	if d.Authorization != "" {
		req.Header.Set("Authorization", d.Authorization)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return decision, fmt.Errorf("orchestrator call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return decision, fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return decision, fmt.Errorf("decoding orchestrator decision: %w", err)
	}
	return decision, nil
}
