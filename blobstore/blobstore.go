// Package blobstore defines the out-of-scope object-storage collaborator
//: the relational layer holds File metadata, this interface
// holds the bytes.
package blobstore

import (
	"context"
	"io"
)

// Store is the minimal capability C5 needs: write once, read by URI, delete.
type Store interface {
	Put(ctx context.Context, workspaceID, filename string, r io.Reader) (uri string, err error)
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
	Delete(ctx context.Context, uri string) error
}
