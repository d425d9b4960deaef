// Package router implements C9: webhook ingress, deduplication, debounce,
// conversation assembly, orchestrator invocation, and outbound send.
// Per-conversation ordering rides on pkg/msgworker's sharded pool.
package router

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
)

// ComputeSignature concatenates the effective public URL with the
// alphabetically sorted form fields (name then value, Twilio-style) and
// HMAC-SHA256s the result with the shared provider secret.
func ComputeSignature(secret, publicURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(publicURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(form.Get(k)))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the provider header against the expected
// signature in constant time.
func VerifySignature(secret, publicURL string, form url.Values, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := ComputeSignature(secret, publicURL, form)
	return hmac.Equal([]byte(expected), []byte(header))
}
