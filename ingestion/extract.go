package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/storage"
)

// parseExternalKey splits "{id}:{step}:rev{n}" back into its parts.
func parseExternalKey(key string) (id uuid.UUID, step string, revision int, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "rev") {
		return uuid.Nil, "", 0, fmt.Errorf("malformed external key %q", key)
	}
	id, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", 0, fmt.Errorf("malformed external key %q: %w", key, err)
	}
	revision, err = strconv.Atoi(strings.TrimPrefix(parts[2], "rev"))
	if err != nil {
		return uuid.Nil, "", 0, fmt.Errorf("malformed external key %q: %w", key, err)
	}
	return id, parts[1], revision, nil
}

// recordOCR feeds both the in-process stats the admin surface reads and the
// Prometheus counters.
func (p *Pipeline) recordOCR(outcome string) {
	if p.Stats != nil {
		switch outcome {
		case "attempt":
			p.Stats.Attempts.Add(1)
		case "success":
			p.Stats.Success.Add(1)
		case "fail":
			p.Stats.Failed.Add(1)
		}
	}
	if p.Metrics != nil {
		switch outcome {
		case "attempt":
			p.Metrics.OCRAttempts.Inc()
		case "success":
			p.Metrics.OCRSuccess.Inc()
		case "fail":
			p.Metrics.OCRFail.Inc()
		}
	}
}

// RunExtract executes the "extract" step for job: reads the file's bytes,
// runs the text extractor, falls back to OCR when the result is too short
// to be useful, creates the file's Document if it has none yet, and writes
// a DocumentRevision. It
// enqueues the follow-on "chunk" job, chained via ExternalKey.
func (p *Pipeline) RunExtract(ctx context.Context, job storage.ProcessingJob) error {
	if job.ExternalKey == nil {
		return fmt.Errorf("extract job %s missing external key", job.ID)
	}
	fileID, _, revision, err := parseExternalKey(*job.ExternalKey)
	if err != nil {
		return err
	}

	tx, err := p.DB.Session(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	defer p.DB.Release()

	var file storage.File
	if err := tx.First(&file, "id = ? AND workspace_id = ?", fileID, job.WorkspaceID).Error; err != nil {
		return fmt.Errorf("loading file for extract: %w", err)
	}

	rc, err := p.Blob.Get(ctx, file.StorageURI)
	if err != nil {
		return fmt.Errorf("fetching blob: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}

	text, err := p.Extractor.Extract(ctx, file.MimeType, data)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}
	source := "extract"
	if p.OCR != nil && len(strings.TrimSpace(text)) < p.OCRThreshold {
		p.recordOCR("attempt")
		if ocrText, ok, ocrErr := p.OCR.Run(ctx, data, "spa"); ocrErr == nil && ok && len(ocrText) > len(text) {
			text = ocrText
			source = "ocr"
			p.recordOCR("success")
		} else {
			p.recordOCR("fail")
		}
	}

	var document storage.Document
	err = tx.Where("file_id = ?", file.ID).First(&document).Error
	switch {
	case err == nil:
		// re-extraction of an existing document: fall through to revision bump
	case errors.Is(err, gorm.ErrRecordNotFound):
		document = storage.Document{
			ID:          uuid.New(),
			WorkspaceID: job.WorkspaceID,
			FileID:      file.ID,
			Title:       file.Filename,
			Language:    "es",
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := tx.Create(&document).Error; err != nil {
			return fmt.Errorf("creating document: %w", err)
		}
	default:
		return fmt.Errorf("looking up document: %w", err)
	}

	revisionMeta, _ := json.Marshal(map[string]string{"source": source})
	revisionRow := storage.DocumentRevision{
		ID:           uuid.New(),
		DocumentID:   document.ID,
		Revision:     revision,
		Content:      text,
		MetadataJSON: revisionMeta,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Create(&revisionRow).Error; err != nil {
		return fmt.Errorf("creating document revision: %w", err)
	}

	tx.Model(&storage.File{}).Where("id = ?", file.ID).Update("status", "processing")

	chunkJob := newJob(job.WorkspaceID, document.ID, "chunk", externalKey(document.ID, "chunk", revision))
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&chunkJob).Error; err != nil {
		return fmt.Errorf("enqueuing chunk job: %w", err)
	}
	return nil
}
