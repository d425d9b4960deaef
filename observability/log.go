// Package observability implements C10: structured logs with request and
// workspace correlation, and Prometheus-style metrics. Logging is
// logrus.WithFields throughout; metrics are wired onto
// prometheus/client_golang.
package observability

import (
	"hash/fnv"
	"os"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter once at startup,
// driven by LOG_LEVEL.
func Configure(level string) {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Fields is a logrus.Fields alias kept for call-site brevity across
// components; every request-scoped log line should set RequestID,
// WorkspaceHash (for cardinality-bounded correlation) and Component.
type Fields = logrus.Fields

// WorkspaceHash bounds label cardinality for metrics while the full
// workspace id remains in unhashed log fields.
func WorkspaceHash(workspaceID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workspaceID))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

var phoneTail = regexp.MustCompile(`^(\+\d{1,3}\d{2})\d+(\d{2})$`)

// MaskPhone masks an E.164 phone number after the country+area prefix,
// leaving the last two digits visible.
func MaskPhone(phone string) string {
	if m := phoneTail.FindStringSubmatch(phone); m != nil {
		masked := ""
		for range phone[len(m[1]) : len(phone)-len(m[2])] {
			masked += "*"
		}
		return m[1] + masked + m[2]
	}
	return phone
}
