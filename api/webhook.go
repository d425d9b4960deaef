package api

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/router"
)

// Webhook is the ingress surface.
type Webhook struct {
	d Deps
}

func InitWebhook(app fiber.Router, d Deps) {
	h := &Webhook{d: d}
	app.Post("/webhooks/wa/inbound/form", h.InboundForm)
	app.Post("/webhooks/wa/inbound/json", h.InboundJSON)
}

const maxBodyLen = 2000

func (h *Webhook) InboundForm(c *fiber.Ctx) error {
	form, err := url.ParseQuery(string(c.Body()))
	if err != nil {
		return apperr.NewValidation("malformed form body")
	}

	// The signature covers the effective public URL behind the reverse
	// proxy, reconstructed from proxy-aware protocol and host.
	publicURL := c.Protocol() + "://" + c.Hostname() + c.OriginalURL()
	if !router.VerifySignature(h.d.Cfg.Security.ProviderAuthToken, publicURL, form, c.Get("X-Provider-Signature")) {
		return apperr.Unauthorized("invalid provider signature")
	}

	return h.route(c, router.InboundMessage{
		From:        form.Get("From"),
		To:          form.Get("To"),
		Body:        form.Get("Body"),
		MessageSid:  form.Get("MessageSid"),
		MediaURL:    form.Get("MediaUrl0"),
		MessageType: form.Get("MessageType"),
	})
}

// InboundJSON is gated behind a flag because the provider does not sign
// JSON bodies.
func (h *Webhook) InboundJSON(c *fiber.Ctx) error {
	if !h.d.Cfg.App.AllowJSONWebhook {
		return apperr.UnsupportedMediaError("JSON webhook is disabled")
	}
	var payload struct {
		From        string `json:"from"`
		To          string `json:"to"`
		Body        string `json:"body"`
		MessageSid  string `json:"message_sid"`
		MediaURL    string `json:"media_url"`
		MessageType string `json:"message_type"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return apperr.NewValidation("malformed JSON body")
	}
	return h.route(c, router.InboundMessage{
		From:        payload.From,
		To:          payload.To,
		Body:        payload.Body,
		MessageSid:  payload.MessageSid,
		MediaURL:    payload.MediaURL,
		MessageType: payload.MessageType,
	})
}

func (h *Webhook) route(c *fiber.Ctx, msg router.InboundMessage) error {
	if msg.From == "" || msg.To == "" || msg.MessageSid == "" {
		return apperr.NewValidation("From, To and MessageSid are required")
	}
	if len(msg.Body) > maxBodyLen {
		return apperr.PayloadTooLargeError("Body exceeds 2000 characters")
	}

	outcome, err := h.d.Router.HandleInbound(c.UserContext(), msg)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "next_action": string(outcome)})
}
