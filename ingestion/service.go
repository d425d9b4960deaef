package ingestion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

// ListFiles returns the workspace's non-purged files, newest first.
func (p *Pipeline) ListFiles(ctx context.Context, workspaceID uuid.UUID, limit int) ([]storage.File, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tx, err := p.DB.Session(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	defer p.DB.Release()
	var files []storage.File
	err = tx.Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").Limit(limit).Find(&files).Error
	return files, err
}

// GetFile returns one file, tenant-scoped.
func (p *Pipeline) GetFile(ctx context.Context, workspaceID, fileID uuid.UUID) (*storage.File, error) {
	tx, err := p.DB.Session(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	defer p.DB.Release()
	var file storage.File
	if err := tx.First(&file, "id = ? AND workspace_id = ?", fileID, workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundError("file not found")
		}
		return nil, err
	}
	return &file, nil
}

// Reingest enqueues a fresh extract job for the file's document at the next
// revision number. External keys are per-revision, so re-running a step for
// an already-processed revision stays a no-op while a new revision gets a
// full pipeline pass.
func (p *Pipeline) Reingest(ctx context.Context, workspaceID, fileID uuid.UUID) error {
	return p.DB.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var file storage.File
		if err := tx.First(&file, "id = ? AND workspace_id = ? AND deleted_at IS NULL", fileID, workspaceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFoundError("file not found")
			}
			return err
		}

		nextRevision := 1
		var doc storage.Document
		err := tx.Where("file_id = ?", fileID).First(&doc).Error
		switch {
		case err == nil:
			var maxRev int
			row := tx.Model(&storage.DocumentRevision{}).
				Where("document_id = ?", doc.ID).
				Select("COALESCE(MAX(revision), 0)")
			if err := row.Scan(&maxRev).Error; err != nil {
				return err
			}
			nextRevision = maxRev + 1
		case err == gorm.ErrRecordNotFound:
			// extract never ran; revision 1 it is
		default:
			return err
		}

		job := newJob(workspaceID, doc.ID, "extract", externalKey(fileID, "extract", nextRevision))
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error; err != nil {
			return fmt.Errorf("enqueuing reingest job: %w", err)
		}
		return tx.Model(&storage.File{}).Where("id = ?", fileID).
			Updates(map[string]any{"status": "processing", "updated_at": time.Now().UTC()}).Error
	})
}

// RecordFileFailure applies the file-level retry policy:
// next_retry_at = now + 5·3^(attempts−1) minutes, terminal failed once
// max attempts is reached.
func (p *Pipeline) RecordFileFailure(ctx context.Context, workspaceID, fileID uuid.UUID, cause error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return p.DB.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var file storage.File
		if err := tx.First(&file, "id = ? AND workspace_id = ?", fileID, workspaceID).Error; err != nil {
			return err
		}
		attempts := file.Attempts + 1
		updates := map[string]any{
			"attempts":   attempts,
			"last_error": cause.Error(),
			"updated_at": time.Now().UTC(),
		}
		if attempts >= maxAttempts {
			updates["status"] = "failed"
			updates["next_retry_at"] = nil
		} else {
			backoff := 5 * time.Minute
			for i := 1; i < attempts; i++ {
				backoff *= 3
			}
			updates["status"] = "processing"
			updates["next_retry_at"] = time.Now().UTC().Add(backoff)
		}
		return tx.Model(&storage.File{}).Where("id = ?", fileID).Updates(updates).Error
	})
}

// OCRStats are the in-process attempt counters the /admin/ocr/stats
// reads back; the Prometheus counters carry the same numbers for scraping.
type OCRStats struct {
	Attempts atomic.Int64
	Success  atomic.Int64
	Failed   atomic.Int64
}

// EnableOCR sets the document's needs_ocr flag, which RunOCROnce picks up.
// The extract step does not read the flag: OCR runs there only when a
// provider is configured and the extracted text is below OCRThreshold.
func (p *Pipeline) EnableOCR(ctx context.Context, documentID uuid.UUID) error {
	res := p.DB.Raw().WithContext(ctx).Model(&storage.Document{}).
		Where("id = ?", documentID).Update("needs_ocr", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("document not found")
	}
	return nil
}

// RunOCROnce re-extracts every document flagged needs_ocr by enqueuing a
// fresh extract job per owning file, then clears the flag.
func (p *Pipeline) RunOCROnce(ctx context.Context) (int, error) {
	var docs []storage.Document
	if err := p.DB.Raw().WithContext(ctx).
		Where("needs_ocr = ? AND deleted_at IS NULL", true).Find(&docs).Error; err != nil {
		return 0, err
	}
	triggered := 0
	for _, doc := range docs {
		if err := p.Reingest(ctx, doc.WorkspaceID, doc.FileID); err != nil {
			return triggered, err
		}
		if err := p.DB.Raw().WithContext(ctx).Model(&storage.Document{}).
			Where("id = ?", doc.ID).Update("needs_ocr", false).Error; err != nil {
			return triggered, err
		}
		triggered++
	}
	return triggered, nil
}
