package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
)

// DefaultLocalStorePath is the base directory a standalone worker/auditor
// process uses when no external object store is configured.
const DefaultLocalStorePath = "/var/lib/coreplane/blobs"

// LocalDiskBlobStore is a filesystem-backed BlobStore for standalone/dev
// deployments: a base directory created on open, one file per blob ID.
type LocalDiskBlobStore struct {
	basePath string
}

// NewLocalDiskBlobStore ensures basePath exists and returns a store rooted
// there. An empty basePath falls back to DefaultLocalStorePath.
func NewLocalDiskBlobStore(basePath string) (*LocalDiskBlobStore, error) {
	if basePath == "" {
		basePath = DefaultLocalStorePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &LocalDiskBlobStore{basePath: basePath}, nil
}

func (s *LocalDiskBlobStore) path(blobID string) string {
	return filepath.Join(s.basePath, blobID)
}

func (s *LocalDiskBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	id, err := newBlobID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalDiskBlobStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	return os.ReadFile(s.path(blobID))
}

func (s *LocalDiskBlobStore) Stat(ctx context.Context, blobID string) (int64, error) {
	info, err := os.Stat(s.path(blobID))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func newBlobID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ BlobStore = (*LocalDiskBlobStore)(nil)
