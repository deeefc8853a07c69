// Package fakes provides in-memory stand-ins for the three out-of-scope
// external collaborators (Executor, BlobStore, IdentityAndEmit), used by
// tests across pkg/workerloop, pkg/audit and pkg/auditorloop.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/dcompute/coreplane/pkg/blob"
	"github.com/dcompute/coreplane/pkg/executor"
	"github.com/dcompute/coreplane/pkg/identity"
)

// Executor returns a fixed Output (or error) for every call, recording the
// inputs it was invoked with.
type Executor struct {
	mu      sync.Mutex
	Output  executor.Output
	Err     error
	Calls   []executor.Input
	RunFunc func(ctx context.Context, in executor.Input) (executor.Output, error)
}

func (e *Executor) Run(ctx context.Context, in executor.Input) (executor.Output, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, in)
	e.mu.Unlock()

	if e.RunFunc != nil {
		return e.RunFunc(ctx, in)
	}
	return e.Output, e.Err
}

// BlobStore is an in-memory BlobStore keyed by sequential IDs.
type BlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	nextID int
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (b *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("blob-%d", b.nextID)
	b.blobs[id] = data
	return id, nil
}

func (b *BlobStore) Get(ctx context.Context, blobID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[blobID]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", blobID)
	}
	return data, nil
}

func (b *BlobStore) Stat(ctx context.Context, blobID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[blobID]
	if !ok {
		return 0, fmt.Errorf("blob not found: %s", blobID)
	}
	return int64(len(data)), nil
}

var _ blob.BlobStore = (*BlobStore)(nil)

// IdentityAndEmit is an in-memory trust substrate that ticks a local block
// counter and records emitted weight vectors.
type IdentityAndEmit struct {
	mu           sync.Mutex
	id           string
	block        int64
	Emitted      []identity.WeightVector
	lastSetBlock int64
}

func NewIdentityAndEmit(auditorID string) *IdentityAndEmit {
	return &IdentityAndEmit{id: auditorID}
}

func (i *IdentityAndEmit) AuditorID() string { return i.id }

func (i *IdentityAndEmit) BlockTick(ctx context.Context) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.block++
	return i.block, nil
}

func (i *IdentityAndEmit) SetWeights(ctx context.Context, weights identity.WeightVector) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Emitted = append(i.Emitted, weights)
	i.lastSetBlock = i.block
	return nil
}

func (i *IdentityAndEmit) LastWeightSetBlock() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastSetBlock
}

var _ identity.IdentityAndEmit = (*IdentityAndEmit)(nil)
