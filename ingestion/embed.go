package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/storage"
)

// RunEmbed executes the "embed" step: for every chunk of the document that
// still lacks an embedding, call the embedding backend (bounded to
// EmbeddingConcurrency in-flight per worker) and insert the embedding row
// with ON CONFLICT DO NOTHING so a restart never duplicates. The per-tenant
// circuit breaker wraps this whole call at the dispatcher level.
func (p *Pipeline) RunEmbed(ctx context.Context, job storage.ProcessingJob) error {
	if job.ExternalKey == nil {
		return fmt.Errorf("embed job %s missing external key", job.ID)
	}
	documentID, _, _, err := parseExternalKey(*job.ExternalKey)
	if err != nil {
		return err
	}

	tx, err := p.DB.Session(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	defer p.DB.Release()

	embedded := tx.Model(&storage.ChunkEmbedding{}).
		Select("chunk_id").
		Where("document_id = ? AND deleted_at IS NULL", documentID)

	var pending []storage.Chunk
	if err := tx.
		Where("document_id = ? AND workspace_id = ? AND deleted_at IS NULL", documentID, job.WorkspaceID).
		Where("id NOT IN (?)", embedded).
		Find(&pending).Error; err != nil {
		return fmt.Errorf("listing unembedded chunks: %w", err)
	}

	if len(pending) > 0 {
		concurrency := p.EmbeddingConcurrency
		if concurrency <= 0 {
			concurrency = 4
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		vectors := make([][]float32, len(pending))
		for i, chunk := range pending {
			i, chunk := i, chunk
			g.Go(func() error {
				vec, err := p.Embedder.Embed(gctx, chunk.Text)
				if err != nil {
					return fmt.Errorf("embedding chunk %s: %w", chunk.ID, err)
				}
				vectors[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, chunk := range pending {
			row := storage.ChunkEmbedding{
				ChunkID:     chunk.ID,
				WorkspaceID: job.WorkspaceID,
				DocumentID:  documentID,
				CreatedAt:   now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("recording embedding for chunk %s: %w", chunk.ID, err)
			}
			if err := p.Vectors.Upsert(ctx, job.WorkspaceID, documentID, chunk.ID, vectors[i]); err != nil {
				return fmt.Errorf("writing vector for chunk %s: %w", chunk.ID, err)
			}
		}
	}

	return p.finishDocument(tx, documentID)
}

// finishDocument flips the owning file to processed once the final step has
// run; embed is the last link of the chain so the transition belongs here.
func (p *Pipeline) finishDocument(tx *gorm.DB, documentID uuid.UUID) error {
	var doc storage.Document
	if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	return tx.Model(&storage.File{}).
		Where("id = ?", doc.FileID).
		Updates(map[string]any{"status": "processed", "updated_at": time.Now().UTC()}).Error
}
