package pass

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

func seed(t *testing.T, s *graph.Store, ops ...delta.Op) {
	t.Helper()
	res, err := s.Apply(&delta.Batch{Actor: "test", Ops: ops})
	if err != nil {
		t.Fatalf("seed apply: %v", err)
	}
	if len(res.Rejected) > 0 {
		t.Fatalf("seed rejections: %+v", res.Rejected)
	}
}

func addNode(n *types.Node) delta.Op { return delta.Op{Kind: delta.KindAddNode, Node: n} }

func TestRunSeedsIntentAndExpands(t *testing.T) {
	store := graph.New()
	e := New(store)

	res, err := e.Run(context.Background(), Input{
		FeatureID: "offline notes",
		Intent:    "users can read and edit notes without connectivity",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := store.Snapshot()
	intents := snap.NodesByType(types.TypeIntent)
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}
	if caps := snap.NodesByType(types.TypeCapability); len(caps) == 0 {
		t.Fatal("pass did not expand the intent into a capability")
	}
	if len(res.ChangedNodes) == 0 {
		t.Fatal("result reports no changed nodes")
	}
	if res.Complete {
		t.Fatal("first pass on a fresh plan claimed completion")
	}
	if res.Proofs == nil || len(res.Proofs.Results) != 13 {
		t.Fatal("result is missing the proof record")
	}
	if res.PlanVersion != "v2" {
		t.Fatalf("plan version = %s, want v2 after a changing pass", res.PlanVersion)
	}
	if res.RunID == "" {
		t.Fatal("result has no run id")
	}
}

func TestRunConvergesOnExpansion(t *testing.T) {
	store := graph.New()
	e := New(store)

	in := Input{FeatureID: "offline notes", Intent: "offline note taking"}
	for i := 0; i < 6; i++ {
		if _, err := e.Run(context.Background(), in); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	// After enough passes the structural frontier is empty: every proof
	// failure left is content, not expansion.
	p9 := e.Prover.Compute(store.Snapshot()).Get("P9")
	if !p9.Passed {
		t.Fatalf("expansion did not converge: %v", p9.Details)
	}
}

func TestRunRejectsStalePlanVersion(t *testing.T) {
	store := graph.New()
	e := New(store)

	_, err := e.Run(context.Background(), Input{PriorPlanVersion: "v9"})
	if err == nil || !strings.Contains(err.Error(), "stale plan") {
		t.Fatalf("err = %v, want stale plan rejection", err)
	}
}

func TestRunAbandonedPassCommitsNothing(t *testing.T) {
	store := graph.New()
	seed(t, store, addNode(&types.Node{ID: "intent:x", Type: types.TypeIntent, Status: types.StatusOpen, Statement: "x"}))
	before := store.Version()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(store)
	if _, err := e.Run(ctx, Input{}); err == nil {
		t.Fatal("cancelled pass did not error")
	}
	if store.Version() != before {
		t.Fatal("abandoned pass committed deltas")
	}
}

func TestRunBlocksLowConfidenceBranch(t *testing.T) {
	store := graph.New()
	seed(t, store, addNode(&types.Node{
		ID: "req:hunch", Type: types.TypeRequirement, Status: types.StatusOpen,
		Statement: "probably needs sync", Confidence: 0.3,
	}))

	e := New(store)
	res, err := e.Run(context.Background(), Input{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	n, _ := store.Snapshot().Node("req:hunch")
	if n.Status != types.StatusBlocked {
		t.Fatalf("low-confidence node status = %s, want blocked", n.Status)
	}
	found := false
	for _, g := range res.TopGaps {
		if g.Kind == "confidence_insufficient" && g.NodeID == "req:hunch" {
			found = true
		}
	}
	if !found {
		t.Fatalf("top_gaps %+v missing the confidence gap", res.TopGaps)
	}
}

func TestEmitShardsBoundsArtifacts(t *testing.T) {
	b := &delta.Batch{Actor: "test"}
	for i := 0; i < 40; i++ {
		b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: &types.Node{
			ID:        strings.Repeat("n", 10) + string(rune('a'+i%26)),
			Type:      types.TypeChangeSpec,
			Status:    types.StatusOpen,
			Statement: strings.Repeat("payload ", 40),
		}})
	}

	budget := Budget{PassBytes: 2048, NodeBytes: 3072}
	shards := EmitShards(b, budget)
	if len(shards) < 2 {
		t.Fatalf("got %d shards, want the stream split", len(shards))
	}
	for i, sh := range shards {
		if sh.Size > budget.PassBytes {
			t.Errorf("shard %d size %d exceeds budget %d", i, sh.Size, budget.PassBytes)
		}
		if len(sh.Records) == 0 {
			t.Errorf("shard %d is empty", i)
		}
	}
}

func TestEmitShardsReferencesOversizedNodes(t *testing.T) {
	big := &types.Node{
		ID:        "change:huge",
		Type:      types.TypeChangeSpec,
		Status:    types.StatusOpen,
		Statement: strings.Repeat("very long body ", 300),
	}
	b := &delta.Batch{Actor: "test", Ops: []delta.Op{{Kind: delta.KindAddNode, Node: big}}}

	shards := EmitShards(b, DefaultBudget())
	if len(shards) != 1 || len(shards[0].Records) != 1 {
		t.Fatalf("got %d shards, want 1 with 1 record", len(shards))
	}
	var ref struct {
		Op      string `json:"op"`
		NodeRef string `json:"node_ref"`
	}
	if err := json.Unmarshal(shards[0].Records[0], &ref); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if ref.NodeRef != "change:huge" || ref.Op != "add_node" {
		t.Fatalf("record = %+v, want an id reference instead of the body", ref)
	}
	if shards[0].Size > DefaultBudget().NodeBytes {
		t.Fatalf("reference record still oversized: %d bytes", shards[0].Size)
	}
}

func TestCapRefactorsDefersOverflow(t *testing.T) {
	b := &delta.Batch{Actor: "pass", Ops: []delta.Op{
		{Kind: delta.KindAddNode, Node: &types.Node{ID: "req:a", Type: types.TypeRequirement}},
		{Kind: delta.KindRetireNode, NodeID: "req:old-1", Reason: "superseded"},
		{Kind: delta.KindRetireNode, NodeID: "req:old-2", Reason: "superseded"},
		{Kind: delta.KindRetireNode, NodeID: "req:old-3", Reason: "superseded"},
	}}

	out, deferred := capRefactors(b, 1)
	if deferred != 2 {
		t.Fatalf("deferred = %d, want 2", deferred)
	}
	if len(out.Ops) != 2 {
		t.Fatalf("ops = %d, want the add plus one retire", len(out.Ops))
	}
	if out.Ops[1].NodeID != "req:old-1" {
		t.Errorf("kept retire = %s, want the first proposed", out.Ops[1].NodeID)
	}
	if _, d := capRefactors(b, 3); d != 0 {
		t.Errorf("deferred = %d under the cap, want 0", d)
	}
}

func TestNextPlanVersionPolicies(t *testing.T) {
	cases := []struct{ v, policy, want string }{
		{"v3", "", "v4"},
		{"v3", "major", "v4.0.0"},
		{"v3", "minor", "v3.1.0"},
		{"v3", "patch", "v3.0.1"},
		{"v1.2.3", "major", "v2.0.0"},
		{"v1.2.3", "minor", "v1.3.0"},
		{"v1.2.3", "patch", "v1.2.4"},
		{"garbage", "minor", "v2"},
	}
	for _, c := range cases {
		if got := nextPlanVersion(c.v, c.policy); got != c.want {
			t.Errorf("nextPlanVersion(%q, %q) = %q, want %q", c.v, c.policy, got, c.want)
		}
	}
}

func TestRunAdditivePassBumpsMinor(t *testing.T) {
	store := graph.New()
	e := New(store)
	e.SemverPolicy = "minor-on-additive"

	res, err := e.Run(context.Background(), Input{
		FeatureID: "offline notes",
		Intent:    "users can read and edit notes without connectivity",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Nothing split, merged, or retired: an additive pass bumps minor.
	if res.PlanVersion != "v1.1.0" {
		t.Fatalf("plan version = %s, want v1.1.0", res.PlanVersion)
	}
}
