package actions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint hashes a payload into the stable digest stored with every
// execution: SHA256 over the payload rendered with sorted keys at every
// nesting level, so two semantically equal payloads always collide.
func Fingerprint(payload map[string]any) string {
	h := sha256.New()
	h.Write([]byte(canonical(payload)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q:%s", k, canonical(t[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = canonical(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(t))
		}
		return string(b)
	}
}
