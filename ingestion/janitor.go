package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

// SoftDelete marks a file deleted and sets its purge deadline. All reads
// (including retrieval) filter on deleted_at from this moment; the bytes
// and rows survive until the janitor's purge pass.
func (p *Pipeline) SoftDelete(ctx context.Context, workspaceID, fileID uuid.UUID) error {
	now := time.Now().UTC()
	purgeAt := now.AddDate(0, 0, p.purgeWindowDays())
	return p.DB.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		res := tx.Model(&storage.File{}).
			Where("id = ? AND workspace_id = ? AND deleted_at IS NULL", fileID, workspaceID).
			Updates(map[string]any{"status": "deleted", "deleted_at": now, "purge_at": purgeAt, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundError("file not found")
		}
		// Soft delete is transitive: documents, chunks, and embeddings of the
		// file are filtered from reads immediately.
		var docIDs []uuid.UUID
		if err := tx.Model(&storage.Document{}).
			Where("file_id = ? AND deleted_at IS NULL", fileID).
			Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) == 0 {
			return nil
		}
		if err := tx.Model(&storage.Document{}).Where("id IN ?", docIDs).Update("deleted_at", now).Error; err != nil {
			return err
		}
		if err := tx.Model(&storage.Chunk{}).Where("document_id IN ?", docIDs).Update("deleted_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&storage.ChunkEmbedding{}).Where("document_id IN ?", docIDs).Update("deleted_at", now).Error
	})
}

// Restore clears the soft-delete markers, leaving chunk and embedding counts
// exactly as they were before the delete.
func (p *Pipeline) Restore(ctx context.Context, workspaceID, fileID uuid.UUID) error {
	return p.DB.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		res := tx.Model(&storage.File{}).
			Where("id = ? AND workspace_id = ? AND deleted_at IS NOT NULL", fileID, workspaceID).
			Updates(map[string]any{"status": "processed", "deleted_at": nil, "purge_at": nil, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundError("deleted file not found")
		}
		var docIDs []uuid.UUID
		if err := tx.Model(&storage.Document{}).Where("file_id = ?", fileID).Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) == 0 {
			return nil
		}
		if err := tx.Model(&storage.Document{}).Where("id IN ?", docIDs).Update("deleted_at", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&storage.Chunk{}).Where("document_id IN ?", docIDs).Update("deleted_at", nil).Error; err != nil {
			return err
		}
		return tx.Model(&storage.ChunkEmbedding{}).Where("document_id IN ?", docIDs).Update("deleted_at", nil).Error
	})
}

// Purge hard-deletes one file cascade: embeddings → chunks → revisions →
// documents → file row → blob bytes. Used both by the explicit
// DELETE /files/{id}/purge endpoint and the janitor sweep.
func (p *Pipeline) Purge(ctx context.Context, workspaceID, fileID uuid.UUID) error {
	var storageURI string
	err := p.DB.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var file storage.File
		if err := tx.First(&file, "id = ? AND workspace_id = ?", fileID, workspaceID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFoundError("file not found")
			}
			return err
		}
		storageURI = file.StorageURI

		var docIDs []uuid.UUID
		if err := tx.Model(&storage.Document{}).Where("file_id = ?", fileID).Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) > 0 {
			if err := tx.Where("document_id IN ?", docIDs).Delete(&storage.ChunkEmbedding{}).Error; err != nil {
				return err
			}
			if err := tx.Where("document_id IN ?", docIDs).Delete(&storage.Chunk{}).Error; err != nil {
				return err
			}
			if err := tx.Where("document_id IN ?", docIDs).Delete(&storage.DocumentRevision{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", docIDs).Delete(&storage.Document{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&storage.File{}, "id = ?", fileID).Error
	})
	if err != nil {
		return err
	}
	if storageURI != "" {
		// Blob removal is best-effort; a dangling blob is cheaper than a
		// dangling row cascade.
		_ = p.Blob.Delete(ctx, storageURI)
	}
	return nil
}

// PurgeDeleted sweeps every workspace's files whose purge deadline has
// passed. retentionDays < 0 uses each file's stored purge_at; a
// non-negative value overrides the deadline relative to deleted_at, which
// the admin endpoint exposes for operators.
func (p *Pipeline) PurgeDeleted(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().UTC()
	q := p.DB.Raw().WithContext(ctx).Model(&storage.File{})
	if retentionDays >= 0 {
		q = q.Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff.AddDate(0, 0, -retentionDays))
	} else {
		q = q.Where("deleted_at IS NOT NULL AND purge_at <= ?", cutoff)
	}

	var victims []storage.File
	if err := q.Find(&victims).Error; err != nil {
		return 0, err
	}
	purged := 0
	for _, f := range victims {
		if err := p.Purge(ctx, f.WorkspaceID, f.ID); err != nil {
			return purged, fmt.Errorf("purging file %s: %w", f.ID, err)
		}
		purged++
	}
	return purged, nil
}

func (p *Pipeline) purgeWindowDays() int {
	if p.PurgeWindowDays > 0 {
		return p.PurgeWindowDays
	}
	return 30
}
