package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider posts form-encoded sends to a Twilio-style messages
// endpoint with a plain net/http client.
type HTTPProvider struct {
	endpoint  string
	authToken string
	client    *http.Client
}

func NewHTTPProvider(endpoint, authToken string) *HTTPProvider {
	return &HTTPProvider{
		endpoint:  endpoint,
		authToken: authToken,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Send(ctx context.Context, from, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("provider send returned %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding provider response: %w", err)
	}
	return payload.Sid, nil
}
