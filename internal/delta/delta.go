// Package delta defines the only mutation surface of the plan graph: typed,
// idempotent delta operations grouped into content-addressed batches.
//
// The package holds the op vocabulary, schema-level validation and batch
// hashing. Contextual validation (dangling endpoints, status transitions)
// happens in the graph package at apply time, where the current graph state
// is visible.
package delta

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/trellisplan/trellis/internal/types"
)

// Kind identifies a delta operation.
type Kind string

// Operation kinds, listed in application order. Within a batch, ops are
// applied grouped by kind in this order so new nodes exist before edges
// reference them and retirement happens last.
const (
	KindAddNode           Kind = "add_node"
	KindAddEdge           Kind = "add_edge"
	KindUpdateNode        Kind = "update_node"
	KindRecordUnaccounted Kind = "record_unaccounted"
	KindPromoteStatus     Kind = "promote_status"
	KindSplitNode         Kind = "split_node"
	KindMergeNodes        Kind = "merge_nodes"
	KindRetireNode        Kind = "retire_node"
)

// applyRank orders kinds for intra-batch application.
var applyRank = map[Kind]int{
	KindAddNode:           0,
	KindAddEdge:           1,
	KindUpdateNode:        2,
	KindRecordUnaccounted: 2,
	KindPromoteStatus:     2,
	KindSplitNode:         3,
	KindMergeNodes:        3,
	KindRetireNode:        4,
}

// IsValid checks if the kind is part of the closed op vocabulary.
func (k Kind) IsValid() bool {
	_, ok := applyRank[k]
	return ok
}

// Patch is a partial node update. Nil fields are left untouched.
type Patch struct {
	Statement  *string           `json:"stmt,omitempty"`
	Owner      *string           `json:"owner,omitempty"`
	Estimate   *string           `json:"estimate,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	UserFacing *bool             `json:"user_facing,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`      // merged key-wise
	UIAnswers  map[string]string `json:"ui_answers,omitempty"`  // merged key-wise
	Evidence   []types.Evidence  `json:"evidence,omitempty"`    // appended
	Resolution *string           `json:"resolution,omitempty"`  // open questions only
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p == nil || (p.Statement == nil && p.Owner == nil && p.Estimate == nil &&
		p.Confidence == nil && p.UserFacing == nil && len(p.Fields) == 0 &&
		len(p.UIAnswers) == 0 && len(p.Evidence) == 0 && p.Resolution == nil)
}

// Op is one atomic mutation. Exactly the fields relevant to Kind are set.
type Op struct {
	Kind Kind `json:"op"`

	// add_node
	Node *types.Node `json:"node,omitempty"`

	// add_edge
	Edge *types.Edge `json:"edge,omitempty"`

	// update_node, retire_node, split_node, promote_status, record_unaccounted
	NodeID string `json:"node_id,omitempty"`

	// update_node
	Patch *Patch `json:"patch,omitempty"`

	// retire_node
	Reason string `json:"reason,omitempty"`

	// split_node: Into lists the replacement ids; EdgeRouting maps an
	// incident edge key (types.Edge.Key of the original edge) to the
	// replacement id that inherits it. Unrouted edges go to Into[0].
	Into        []string          `json:"into,omitempty"`
	EdgeRouting map[string]string `json:"edge_routing,omitempty"`

	// merge_nodes
	Sources []string `json:"sources,omitempty"`
	Target  string   `json:"target,omitempty"`

	// promote_status
	Status types.Status `json:"status,omitempty"`

	// record_unaccounted
	Unaccounted *types.UnaccountedItem `json:"unaccounted,omitempty"`
}

// ValidateShape checks the op is structurally well formed, independent of
// graph state. A shape failure aborts the whole batch (StructuralError).
func (o *Op) ValidateShape() error {
	if !o.Kind.IsValid() {
		return fmt.Errorf("unknown op kind %q", o.Kind)
	}
	switch o.Kind {
	case KindAddNode:
		if o.Node == nil {
			return fmt.Errorf("add_node requires a node")
		}
		if err := o.Node.Validate(); err != nil {
			return fmt.Errorf("add_node %s: %w", o.Node.ID, err)
		}
	case KindAddEdge:
		if o.Edge == nil {
			return fmt.Errorf("add_edge requires an edge")
		}
		if o.Edge.From == "" || o.Edge.To == "" {
			return fmt.Errorf("add_edge requires from and to")
		}
		if o.Edge.From == o.Edge.To {
			return fmt.Errorf("add_edge %s: self edge", o.Edge.From)
		}
		if !o.Edge.Type.IsValid() {
			return fmt.Errorf("add_edge %s->%s: invalid edge type %q", o.Edge.From, o.Edge.To, o.Edge.Type)
		}
	case KindUpdateNode:
		if o.NodeID == "" {
			return fmt.Errorf("update_node requires node_id")
		}
		if o.Patch.IsEmpty() {
			return fmt.Errorf("update_node %s: empty patch", o.NodeID)
		}
		if o.Patch.Confidence != nil && (*o.Patch.Confidence < 0 || *o.Patch.Confidence > 1) {
			return fmt.Errorf("update_node %s: confidence out of range", o.NodeID)
		}
	case KindRetireNode:
		if o.NodeID == "" {
			return fmt.Errorf("retire_node requires node_id")
		}
	case KindSplitNode:
		if o.NodeID == "" {
			return fmt.Errorf("split_node requires node_id")
		}
		if len(o.Into) == 0 {
			return fmt.Errorf("split_node %s: no replacement ids", o.NodeID)
		}
		for _, id := range o.Into {
			if id == "" {
				return fmt.Errorf("split_node %s: empty replacement id", o.NodeID)
			}
			if id == o.NodeID {
				return fmt.Errorf("split_node %s: replacement reuses source id", o.NodeID)
			}
		}
	case KindMergeNodes:
		if len(o.Sources) == 0 {
			return fmt.Errorf("merge_nodes requires sources")
		}
		if o.Target == "" {
			return fmt.Errorf("merge_nodes requires a target id")
		}
		for _, s := range o.Sources {
			if s == o.Target {
				return fmt.Errorf("merge_nodes: target %s listed as source", o.Target)
			}
		}
	case KindPromoteStatus:
		if o.NodeID == "" {
			return fmt.Errorf("promote_status requires node_id")
		}
		if !o.Status.IsValid() {
			return fmt.Errorf("promote_status %s: invalid status %q", o.NodeID, o.Status)
		}
	case KindRecordUnaccounted:
		if o.NodeID == "" {
			return fmt.Errorf("record_unaccounted requires node_id")
		}
		if o.Unaccounted == nil || o.Unaccounted.Item == "" {
			return fmt.Errorf("record_unaccounted %s: missing item", o.NodeID)
		}
		if o.Unaccounted.Owner == "" || o.Unaccounted.Due.IsZero() {
			return fmt.Errorf("record_unaccounted %s: owner and due date are required", o.NodeID)
		}
	}
	return nil
}

// TargetID returns the node id this op is primarily about, for sorting and
// diagnostics.
func (o *Op) TargetID() string {
	switch o.Kind {
	case KindAddNode:
		if o.Node != nil {
			return o.Node.ID
		}
	case KindAddEdge:
		if o.Edge != nil {
			return o.Edge.From
		}
	case KindMergeNodes:
		return o.Target
	default:
		return o.NodeID
	}
	return ""
}

// Batch is an ordered list of ops applied atomically.
type Batch struct {
	Actor string `json:"actor,omitempty"`
	Ops   []Op   `json:"ops"`
}

// ValidateShape checks every op; the first failure aborts the batch.
func (b *Batch) ValidateShape() error {
	for i := range b.Ops {
		if err := b.Ops[i].ValidateShape(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

// Hash returns the content hash of the batch: same ops, same hash,
// regardless of when the batch was built. Timestamps inside nodes and
// edges are excluded.
func (b *Batch) Hash() string {
	h := sha256.New()
	for i := range b.Ops {
		op := b.Ops[i]
		h.Write([]byte(op.Kind))
		h.Write([]byte{0})
		switch op.Kind {
		case KindAddNode:
			h.Write([]byte(op.Node.ID))
			h.Write([]byte{0})
			h.Write([]byte(op.Node.ComputeContentHash()))
		case KindAddEdge:
			h.Write([]byte(op.Edge.Key()))
		default:
			h.Write([]byte(op.TargetID()))
			h.Write([]byte{0})
			// The op payload minus timestamps is stable JSON.
			payload, _ := json.Marshal(struct {
				Patch   *Patch                 `json:"patch,omitempty"`
				Reason  string                 `json:"reason,omitempty"`
				Into    []string               `json:"into,omitempty"`
				Routing map[string]string      `json:"routing,omitempty"`
				Sources []string               `json:"sources,omitempty"`
				Target  string                 `json:"target,omitempty"`
				Status  types.Status           `json:"status,omitempty"`
				Item    *types.UnaccountedItem `json:"item,omitempty"`
			}{op.Patch, op.Reason, op.Into, op.EdgeRouting, op.Sources, op.Target, op.Status, op.Unaccounted})
			h.Write(payload)
		}
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsEmpty reports whether the batch has no ops.
func (b *Batch) IsEmpty() bool { return len(b.Ops) == 0 }

// SortOps orders ops by application rank, then target id, making merged
// proposal batches deterministic regardless of proposer completion order.
func (b *Batch) SortOps() {
	sort.SliceStable(b.Ops, func(i, j int) bool {
		ri, rj := applyRank[b.Ops[i].Kind], applyRank[b.Ops[j].Kind]
		if ri != rj {
			return ri < rj
		}
		return b.Ops[i].TargetID() < b.Ops[j].TargetID()
	})
}

// Merge combines proposer batches into one deterministic batch. Duplicate
// add_node ops for the same id with identical content collapse to one;
// duplicate add_edge ops collapse by edge key.
func Merge(actor string, batches ...*Batch) *Batch {
	merged := &Batch{Actor: actor}
	seenNodes := make(map[string]string) // id -> content hash
	seenEdges := make(map[string]bool)
	for _, b := range batches {
		if b == nil {
			continue
		}
		for i := range b.Ops {
			op := b.Ops[i]
			switch op.Kind {
			case KindAddNode:
				if op.Node == nil {
					continue
				}
				hash := op.Node.ComputeContentHash()
				if prev, ok := seenNodes[op.Node.ID]; ok && prev == hash {
					continue
				}
				seenNodes[op.Node.ID] = hash
			case KindAddEdge:
				if op.Edge == nil || seenEdges[op.Edge.Key()] {
					continue
				}
				seenEdges[op.Edge.Key()] = true
			}
			merged.Ops = append(merged.Ops, op)
		}
	}
	merged.SortOps()
	return merged
}

// RejectReason is the typed cause for a contextual op rejection.
type RejectReason string

// Rejection reasons.
const (
	ReasonUnknownNode    RejectReason = "unknown_node"
	ReasonDuplicateNode  RejectReason = "duplicate_node"
	ReasonDanglingEdge   RejectReason = "dangling_edge"
	ReasonBadTransition  RejectReason = "conflicting_status_transition"
	ReasonOrderingCycle  RejectReason = "ordering_cycle"
	ReasonRetiredTarget  RejectReason = "retired_target"
	ReasonUnknownVariant RejectReason = "unknown_node_type"
)

// Rejection records one op that could not be applied, with its typed cause.
type Rejection struct {
	Index  int          `json:"index"`
	Kind   Kind         `json:"op"`
	NodeID string       `json:"node_id,omitempty"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Result reports the outcome of applying a batch.
type Result struct {
	Changed  []string    `json:"changed_nodes"`
	Rejected []Rejection `json:"rejected_ops,omitempty"`
	Version  int         `json:"version"`
	Replayed bool        `json:"replayed,omitempty"`
}
