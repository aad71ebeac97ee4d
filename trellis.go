// Package trellis provides a minimal public API for embedding the planning
// engine in other Go programs.
//
// Most integrations should shell out to the tl CLI and parse its --json
// output. This package exports only the essential types and functions for
// programs that want to drive passes or query a plan in-process.
package trellis

import (
	"context"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/pass"
	"github.com/trellisplan/trellis/internal/proof"
	"github.com/trellisplan/trellis/internal/snapshot"
	"github.com/trellisplan/trellis/internal/types"
)

// Core types for working with plan graphs
type (
	Node     = types.Node
	Edge     = types.Edge
	NodeType = types.NodeType
	Status   = types.Status
	Batch    = delta.Batch
	Op       = delta.Op
	Result   = delta.Result
	Store    = graph.Store
	Snapshot = graph.Snapshot

	PassInput   = pass.Input
	PassResult  = pass.Result
	ProofReport = proof.Report
)

// Status constants
const (
	StatusOpen    = types.StatusOpen
	StatusReady   = types.StatusReady
	StatusBlocked = types.StatusBlocked
	StatusRetired = types.StatusRetired
)

// Edge type constants
const (
	EdgeDependsOn = types.EdgeDependsOn
	EdgeCoveredBy = types.EdgeCoveredBy
	EdgeGatedBy   = types.EdgeGatedBy
	EdgeTracesTo  = types.EdgeTracesTo
)

// New creates an empty in-memory plan store.
func New(planVersion string) *Store {
	return graph.New(graph.WithPlanVersion(planVersion))
}

// Open loads a plan store from a plan directory written by tl.
func Open(planDir string) (*Store, error) {
	return snapshot.Load(planDir)
}

// Save persists a snapshot back to a plan directory, atomically.
func Save(planDir string, snap *Snapshot) error {
	return snapshot.Save(planDir, snap)
}

// Pass runs one full planning pass against the store with default engine
// settings and returns its result. Callers needing tuned thresholds should
// build a pass.Engine directly.
func Pass(ctx context.Context, store *Store, input PassInput) (*PassResult, error) {
	return pass.New(store).Run(ctx, input)
}

// Proofs computes the completeness proofs for the store's current snapshot.
func Proofs(store *Store) *ProofReport {
	return proof.New().Compute(store.Snapshot())
}
