// Package identity declares the IdentityAndEmit collaborator: stake-weighted
// worker identity, peer discovery, and the weight-emission RPC to the
// external trust substrate. No concrete implementation of the trust
// substrate lives in this module — only the contract the auditor epoch
// loop calls through.
package identity

import "context"

// WeightVector maps worker_id to a normalized weight in (0, 1], summing to
// 1.0 across the vector ("sparse emission": workers with no measurable
// contribution this epoch are omitted rather than given a zero entry).
type WeightVector map[string]float64

// IdentityAndEmit is the external trust substrate: wallet identity, peer
// discovery, and weight emission. The one implementation in this module is
// HTTPIdentityAndEmit, which forwards each call to an external sidecar;
// the substrate itself runs outside this module.
type IdentityAndEmit interface {
	// AuditorID returns this process's stable identity on the trust
	// substrate.
	AuditorID() string

	// BlockTick blocks until the next block is observed, returning its
	// height. The auditor epoch loop runs every AuditInterval blocks.
	BlockTick(ctx context.Context) (block int64, err error)

	// SetWeights emits a sparse, normalized weight vector for this epoch.
	// Callers never pass an empty or all-zero vector; an empty epoch is
	// a no-op, not a call to SetWeights.
	SetWeights(ctx context.Context, weights WeightVector) error

	// LastWeightSetBlock returns the block height of the last successful
	// SetWeights call, or 0 if none has occurred yet.
	LastWeightSetBlock() int64
}
