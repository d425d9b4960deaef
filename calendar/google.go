package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const httpTimeout = 30 * time.Second

// RESTProvider talks to a Google-Calendar-compatible REST API with a
// workspace-scoped OAuth bearer token over a plain net/http client. The
// token comes decrypted from workspace settings; token refresh is the
// credential owner's problem, not this adapter's.
type RESTProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTProvider(baseURL, token string) *RESTProvider {
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	return &RESTProvider{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

type eventResource struct {
	ID    string `json:"id"`
	Start struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime time.Time `json:"dateTime"`
	} `json:"end"`
}

func (p *RESTProvider) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events?timeMin=%s&timeMax=%s&singleEvents=true",
		p.baseURL, url.PathEscape(calendarID),
		url.QueryEscape(from.Format(time.RFC3339)), url.QueryEscape(to.Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing calendar events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("calendar list returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Items []eventResource `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding calendar response: %w", err)
	}
	events := make([]Event, 0, len(payload.Items))
	for _, it := range payload.Items {
		events = append(events, Event{ID: it.ID, Start: it.Start.DateTime, End: it.End.DateTime})
	}
	return events, nil
}

func (p *RESTProvider) CreateEvent(ctx context.Context, calendarID, summary string, start, end time.Time) (string, error) {
	body, err := json.Marshal(map[string]any{
		"summary": summary,
		"start":   map[string]string{"dateTime": start.Format(time.RFC3339)},
		"end":     map[string]string{"dateTime": end.Format(time.RFC3339)},
	})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", p.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating calendar event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("calendar create returned %d: %s", resp.StatusCode, raw)
	}
	var created eventResource
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decoding created event: %w", err)
	}
	return created.ID, nil
}
