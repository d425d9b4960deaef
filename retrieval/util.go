package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// decodeMetaJSON flattens a chunk's meta JSON (category, price, city,
// operation, ...) into string values so MatchesMeta can apply the same
// filter grammar regardless of the original JSON type.
func decodeMetaJSON(raw []byte) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Truncate applies the 1200-char ellipsis rule
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= TruncateChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:TruncateChars]) + "…"
}

// firstTokens returns the first n whitespace-delimited tokens, lowercased,
// for the MMR Jaccard similarity window.
func firstTokens(text string, n int) []string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) > n {
		fields = fields[:n]
	}
	return fields
}
