// Package whatsapp defines the out-of-scope WhatsApp-provider collaborator
//: the router receives the provider's webhooks and answers
// through this interface. One real HTTP adapter ships for concreteness.
package whatsapp

import "context"

// Provider sends an outbound message through the messaging vendor.
type Provider interface {
	// Send delivers body from the channel's display phone to a normalized
	// "whatsapp:+E164" recipient, returning the provider's message id.
	Send(ctx context.Context, from, to, body string) (providerMessageID string, err error)
}
