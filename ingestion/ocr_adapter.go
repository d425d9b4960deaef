package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/loomwire/loomwire/ocr"
)

// OCRRunner adapts ocr.Provider's file-path contract to the in-memory bytes
// the extraction step holds, since the pipeline keeps uploaded files in
// blobstore rather than on a shared local disk.
type OCRRunner interface {
	Run(ctx context.Context, data []byte, language string) (text string, ok bool, err error)
}

type SubprocessOCRRunner struct {
	Provider ocr.Provider
	TempDir  string
	Language string
}

func NewSubprocessOCRRunner(provider ocr.Provider, tempDir, language string) *SubprocessOCRRunner {
	return &SubprocessOCRRunner{Provider: provider, TempDir: tempDir, Language: language}
}

func (r *SubprocessOCRRunner) Run(ctx context.Context, data []byte, language string) (string, bool, error) {
	if language == "" {
		language = r.Language
	}
	base := filepath.Join(r.TempDir, uuid.New().String())
	inPath := base + ".input"
	if err := os.WriteFile(inPath, data, 0o644); err != nil {
		return "", false, fmt.Errorf("writing ocr input: %w", err)
	}
	defer os.Remove(inPath)
	defer os.Remove(base + ".txt")

	text, outcome, err := r.Provider.Extract(ctx, ocr.Request{
		InputPath:  inPath,
		OutputPath: base,
		Language:   language,
	})
	if err != nil || outcome != ocr.OutcomeSuccess {
		return "", false, err
	}
	return text, true, nil
}
