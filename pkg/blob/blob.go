// Package blob provides BlobGateway, a thin, uniform GET/PUT layer over the
// external BlobStore collaborator. BlobStore itself (audio/video/document
// object storage) is explicitly out of scope; this package holds the
// interface, a thin pass-through wrapper, and a local-disk store for
// standalone deployments (localstore.go).
package blob

import (
	"context"
	"fmt"

	"github.com/dcompute/coreplane/internal/errs"
)

// BlobStore is the external collaborator: opaque-ID object storage for
// task inputs/outputs. Any equivalent store (S3, GCS, local disk) may
// implement it; LocalDiskBlobStore is the one implementation in this module.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (blobID string, err error)
	Get(ctx context.Context, blobID string) ([]byte, error)
	Stat(ctx context.Context, blobID string) (size int64, err error)
}

// Gateway wraps a BlobStore with the error-kind conventions the rest of the
// control plane expects: store failures come back as Transient errors and
// are never retried inline by the gateway itself. The gateway sets no
// timeout of its own; each call is bounded only by the caller's context.
type Gateway struct {
	store BlobStore
}

// NewGateway wraps store.
func NewGateway(store BlobStore) *Gateway {
	return &Gateway{store: store}
}

// Put stores data and returns its blob ID.
func (g *Gateway) Put(ctx context.Context, data []byte) (string, error) {
	id, err := g.store.Put(ctx, data)
	if err != nil {
		return "", errs.FailedTo(errs.Transient, "blob", "put blob", "", err)
	}
	return id, nil
}

// Get fetches the bytes for blobID.
func (g *Gateway) Get(ctx context.Context, blobID string) ([]byte, error) {
	if blobID == "" {
		return nil, errs.FailedTo(errs.Contract, "blob", "get blob", blobID, fmt.Errorf("empty blob id"))
	}
	data, err := g.store.Get(ctx, blobID)
	if err != nil {
		return nil, errs.FailedTo(errs.Transient, "blob", "get blob", blobID, err)
	}
	return data, nil
}

// Stat returns the size of blobID without fetching its contents.
func (g *Gateway) Stat(ctx context.Context, blobID string) (int64, error) {
	size, err := g.store.Stat(ctx, blobID)
	if err != nil {
		return 0, errs.FailedTo(errs.Transient, "blob", "stat blob", blobID, err)
	}
	return size, nil
}
