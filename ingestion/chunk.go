package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/storage"
)

const (
	chunkWindow  = 800 // chars per chunk
	chunkOverlap = 150
)

// SplitText slices text into overlapping windows, dropping segments that
// are empty after trimming. Window boundaries step by window−overlap so
// consecutive chunks share context.
func SplitText(text string, window, overlap int) []string {
	if window <= 0 {
		window = chunkWindow
	}
	if overlap < 0 || overlap >= window {
		overlap = chunkOverlap % window
	}
	step := window - overlap
	runes := []rune(text)

	var segments []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		seg := strings.TrimSpace(string(runes[start:end]))
		if seg != "" {
			segments = append(segments, seg)
		}
		if end == len(runes) {
			break
		}
	}
	return segments
}

// RunChunk executes the "chunk" step: split the revision named by the job's
// external key into chunks, record each with its source revision in the
// metadata so re-ingestion of the same revision is idempotent, and enqueue
// the follow-on "embed" job.
func (p *Pipeline) RunChunk(ctx context.Context, job storage.ProcessingJob) error {
	if job.ExternalKey == nil {
		return fmt.Errorf("chunk job %s missing external key", job.ID)
	}
	documentID, _, revision, err := parseExternalKey(*job.ExternalKey)
	if err != nil {
		return err
	}

	tx, err := p.DB.Session(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	defer p.DB.Release()

	var rev storage.DocumentRevision
	if err := tx.Where("document_id = ? AND revision = ?", documentID, revision).First(&rev).Error; err != nil {
		return fmt.Errorf("loading revision %d for document %s: %w", revision, documentID, err)
	}

	// Idempotency: chunks for this revision already exist after a restart.
	var existing int64
	if err := tx.Model(&storage.Chunk{}).
		Where("document_id = ? AND revision_id = ? AND deleted_at IS NULL", documentID, rev.ID).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing == 0 {
		segments := SplitText(rev.Content, chunkWindow, chunkOverlap)
		now := time.Now().UTC()
		for i, seg := range segments {
			meta, _ := json.Marshal(map[string]any{"revision": revision})
			chunk := storage.Chunk{
				ID:          uuid.New(),
				WorkspaceID: job.WorkspaceID,
				DocumentID:  documentID,
				RevisionID:  rev.ID,
				Position:    i,
				Text:        seg,
				MetaJSON:    meta,
				CreatedAt:   now,
			}
			if err := tx.Create(&chunk).Error; err != nil {
				return fmt.Errorf("creating chunk %d: %w", i, err)
			}
		}
	}

	embedJob := newJob(job.WorkspaceID, documentID, "embed", externalKey(documentID, "embed", revision))
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&embedJob).Error; err != nil {
		return fmt.Errorf("enqueuing embed job: %w", err)
	}
	return nil
}
