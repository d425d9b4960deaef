package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
)

// Extractor produces text from stored bytes. Like OCR, the real extraction
// backend (document conversion service) is an external collaborator — this
// ships a plain-text/CSV/JSON
// passthrough adapter good enough to exercise the pipeline end to end; PDF
// and Office formats return low-confidence text on purpose so the OCR
// fallback path has something
// real to engage, since no PDF/Office parsing library appears anywhere in
// the example corpus to ground a fuller implementation on.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (text string, err error)
}

type PassthroughExtractor struct{}

func NewPassthroughExtractor() *PassthroughExtractor { return &PassthroughExtractor{} }

func (e *PassthroughExtractor) Extract(_ context.Context, mimeType string, data []byte) (string, error) {
	switch {
	case strings.HasPrefix(mimeType, "text/plain"):
		return string(data), nil
	case mimeType == "text/csv":
		r := csv.NewReader(strings.NewReader(string(data)))
		records, err := r.ReadAll()
		if err != nil {
			return "", fmt.Errorf("parsing csv: %w", err)
		}
		var sb strings.Builder
		for _, row := range records {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteByte('\n')
		}
		return sb.String(), nil
	case mimeType == "application/json":
		return string(data), nil
	default:
		// PDF / office documents: no in-pack parsing library. Surface a
		// short placeholder so the OCR-trigger threshold fires when
		// OCR is enabled, rather than silently "succeeding" with garbage.
		return fmt.Sprintf("[unparsed %s, %d bytes]", mimeType, len(data)), nil
	}
}
