package router

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwire/loomwire/ephemeral"
)

func TestSignatureRoundTrip(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+5491111111111")
	form.Set("To", "whatsapp:+5491122223333")
	form.Set("Body", "Hola")
	form.Set("MessageSid", "SMx1")

	sig := ComputeSignature("secret", "https://bot.example.com/webhooks/wa/inbound/form", form)
	assert.True(t, VerifySignature("secret", "https://bot.example.com/webhooks/wa/inbound/form", form, sig))
}

func TestSignatureRejectsTampering(t *testing.T) {
	form := url.Values{}
	form.Set("Body", "Hola")
	form.Set("MessageSid", "SMx1")
	publicURL := "https://bot.example.com/webhooks/wa/inbound/form"
	sig := ComputeSignature("secret", publicURL, form)

	tampered := url.Values{}
	tampered.Set("Body", "Hola atacada")
	tampered.Set("MessageSid", "SMx1")
	assert.False(t, VerifySignature("secret", publicURL, tampered, sig))

	assert.False(t, VerifySignature("other-secret", publicURL, form, sig))
	assert.False(t, VerifySignature("secret", "https://other.example.com/hook", form, sig))
	assert.False(t, VerifySignature("secret", publicURL, form, ""))
	assert.False(t, VerifySignature("", publicURL, form, sig))
}

func TestSignatureFieldOrderIndependent(t *testing.T) {
	a := url.Values{}
	a.Set("Body", "Hola")
	a.Set("From", "whatsapp:+549111")
	b := url.Values{}
	b.Set("From", "whatsapp:+549111")
	b.Set("Body", "Hola")
	publicURL := "https://bot.example.com/hook"
	assert.Equal(t, ComputeSignature("s", publicURL, a), ComputeSignature("s", publicURL, b))
}

func TestCombineMessages(t *testing.T) {
	buf := []ephemeral.BufferedMessage{
		{ProviderMessageID: "SM1", Text: "Hola", ReceivedAt: time.Now()},
		{ProviderMessageID: "SM2", Text: "quiero pedir", ReceivedAt: time.Now()},
		{ProviderMessageID: "SM3", Text: "2 pizzas", ReceivedAt: time.Now()},
	}
	combined, ids := CombineMessages(buf)
	assert.Equal(t, "Hola quiero pedir 2 pizzas", combined)
	assert.Equal(t, []string{"SM1", "SM2", "SM3"}, ids)
}

func TestCombineMessagesSkipsEmptyTexts(t *testing.T) {
	buf := []ephemeral.BufferedMessage{
		{ProviderMessageID: "SM1", Text: "Hola"},
		{ProviderMessageID: "SM2", Text: "  "},
	}
	combined, ids := CombineMessages(buf)
	assert.Equal(t, "Hola", combined)
	require.Len(t, ids, 2)
}
