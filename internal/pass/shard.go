package pass

import (
	"encoding/json"

	"github.com/trellisplan/trellis/internal/delta"
)

// Budget bounds how large any single emitted artifact may grow.
type Budget struct {
	// PassBytes caps one delta shard.
	PassBytes int
	// NodeBytes caps one inline node body; larger bodies are emitted as
	// an id reference and fetched from the store instead.
	NodeBytes int
}

// DefaultBudget returns the standard 8 KB shard / 3 KB node ceilings.
func DefaultBudget() Budget {
	return Budget{PassBytes: 8192, NodeBytes: 3072}
}

// Shard is one bounded chunk of the emitted delta stream, ready to write
// as NDJSON.
type Shard struct {
	Records []json.RawMessage `json:"records"`
	Size    int               `json:"size"`
}

// nodeRef replaces an oversized node body in the emitted stream. The full
// body stays in the store, addressed by id.
type nodeRef struct {
	Kind    delta.Kind `json:"op"`
	NodeRef string     `json:"node_ref"`
}

// EmitShards renders a batch as bounded delta shards. Ops are kept in
// batch order; a shard never exceeds the pass budget except when a single
// record alone does. Node bodies over the node budget are emitted by
// reference rather than duplicated into the stream.
func EmitShards(b *delta.Batch, budget Budget) []Shard {
	if b == nil || b.IsEmpty() {
		return nil
	}
	if budget.PassBytes <= 0 || budget.NodeBytes <= 0 {
		budget = DefaultBudget()
	}

	var shards []Shard
	cur := Shard{}
	flush := func() {
		if len(cur.Records) > 0 {
			shards = append(shards, cur)
			cur = Shard{}
		}
	}

	for i := range b.Ops {
		op := &b.Ops[i]
		raw, err := json.Marshal(op)
		if err != nil {
			continue
		}
		if op.Kind == delta.KindAddNode && op.Node != nil && len(raw) > budget.NodeBytes {
			raw, _ = json.Marshal(nodeRef{Kind: op.Kind, NodeRef: op.Node.ID})
		}
		// +1 for the record separator in the rendered stream.
		if cur.Size+len(raw)+1 > budget.PassBytes {
			flush()
		}
		cur.Records = append(cur.Records, raw)
		cur.Size += len(raw) + 1
	}
	flush()
	return shards
}
