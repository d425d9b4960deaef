package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FilesystemStore is the one concrete adapter for Store: a per-workspace
// directory tree on local disk, matching the "streaming write to a
// per-workspace directory" upload contract Real cloud
// object storage is an out-of-scope collaborator; this
// adapter exists only to give the interface a working, testable home.
type FilesystemStore struct {
	baseDir string
}

func NewFilesystemStore(baseDir string) *FilesystemStore {
	return &FilesystemStore{baseDir: baseDir}
}

func (s *FilesystemStore) Put(ctx context.Context, workspaceID, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, workspaceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace dir: %w", err)
	}
	name := uuid.New().String() + "_" + filepath.Base(filename)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return "file://" + path, nil
}

func (s *FilesystemStore) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, err := pathFromURI(uri)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *FilesystemStore) Delete(ctx context.Context, uri string) error {
	path, err := pathFromURI(uri)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func pathFromURI(uri string) (string, error) {
	const prefix = "file://"
	if len(uri) < len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("unsupported uri scheme: %s", uri)
	}
	return uri[len(prefix):], nil
}
