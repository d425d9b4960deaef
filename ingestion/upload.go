// Package ingestion implements C5: turning an uploaded file into searchable
// chunks and embeddings through a chain of retryable processing_jobs rows.
// Each step is a small named stage rather than one monolithic handler; the
// queue itself is built in scheduler/.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/blobstore"
	"github.com/loomwire/loomwire/embedding"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMaxUploadBytes = 10 << 20

// allowedMimeTypes is the upload allow-list.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"text/csv":           true,
	"application/json":   true,
}

// VectorWriter is the write side of the vector index; satisfied by
// retrieval.PostgresVectorIndex and retrieval.SQLiteVectorIndex.
type VectorWriter interface {
	Upsert(ctx context.Context, workspaceID, documentID, chunkID uuid.UUID, vector []float32) error
}

// Pipeline bundles the collaborators every ingestion step needs.
type Pipeline struct {
	DB           *storage.DB
	Blob         blobstore.Store
	Extractor    Extractor
	OCR          OCRRunner
	Embedder     embedding.Backend
	Vectors      VectorWriter
	OCRThreshold int // chars; below this, try OCR if enabled
	EmbeddingConcurrency int
	MaxUploadBytes       int64
	MaxAttempts          int
	PurgeWindowDays      int
	Metrics              *observability.Metrics
	Stats                *OCRStats
}

func (p *Pipeline) maxUploadBytes() int64 {
	if p.MaxUploadBytes > 0 {
		return p.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// Upload streams r to blob storage, records a File row, and enqueues the
// first "extract" job. Re-uploading bytes already seen for this workspace
// (same sha256) is idempotent: it returns the existing File with duplicate
// set, without enqueuing a second pipeline run.4's
// dedup-by-hash rule — callers must treat duplicate as success.
func (p *Pipeline) Upload(ctx context.Context, workspaceID uuid.UUID, filename, mimeType string, r io.Reader) (file *storage.File, duplicate bool, err error) {
	if !allowedMimeTypes[normalizeMime(mimeType)] {
		return nil, false, apperr.UnsupportedMediaError(fmt.Sprintf("mime type %q not allowed", mimeType))
	}

	limit := p.maxUploadBytes()
	h := sha256.New()
	buf, err := io.ReadAll(io.LimitReader(io.TeeReader(r, h), limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, false, apperr.PayloadTooLargeError(fmt.Sprintf("upload exceeds %d bytes", limit))
	}
	sum := hex.EncodeToString(h.Sum(nil))

	var existing storage.File
	tx, err := p.DB.Session(ctx, workspaceID)
	if err != nil {
		return nil, false, err
	}
	defer p.DB.Release()
	err = tx.Where("workspace_id = ? AND sha256 = ? AND deleted_at IS NULL", workspaceID, sum).First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, fmt.Errorf("checking duplicate upload: %w", err)
	}

	uri, err := p.Blob.Put(ctx, workspaceID.String(), filename, newByteReader(buf))
	if err != nil {
		return nil, false, fmt.Errorf("storing upload: %w", err)
	}

	row := storage.File{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		StorageURI:  uri,
		Filename:    filename,
		MimeType:    mimeType,
		SHA256:      sum,
		Bytes:       int64(len(buf)),
		Status:      "uploaded",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("recording file: %w", err)
	}

	// DocumentID is nil until the extract step creates the Document row;
	// the file id travels instead in ExternalKey so the step can find it.
	job := newJob(workspaceID, uuid.Nil, "extract", externalKey(row.ID, "extract", 1))
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error; err != nil {
		return nil, false, fmt.Errorf("enqueuing extract job: %w", err)
	}

	return &row, false, nil
}

func normalizeMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func newByteReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func newJob(workspaceID, documentID uuid.UUID, jobType string, externalKey string) storage.ProcessingJob {
	return storage.ProcessingJob{
		ID:                 uuid.New(),
		WorkspaceID:        workspaceID,
		DocumentID:         documentID,
		JobType:            jobType,
		Status:             "pending",
		MaxRetries:         8,
		NextRunAt:          time.Now().UTC(),
		BackoffBaseSeconds: 5,
		BackoffFactor:      3,
		JitterSeconds:      2,
		ExternalKey:        &externalKey,
		Priority:           priorityFor(jobType),
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
}

// priorityFor encodes extract > chunk > embed, following the stage
// ordering: lower number runs first.
func priorityFor(jobType string) int {
	switch jobType {
	case "extract":
		return 0
	case "chunk":
		return 1
	case "embed":
		return 2
	default:
		return 9
	}
}

func externalKey(fileOrDocumentID uuid.UUID, step string, revision int) string {
	return fmt.Sprintf("%s:%s:rev%d", fileOrDocumentID, step, revision)
}
