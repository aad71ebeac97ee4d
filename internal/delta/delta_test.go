package delta

import (
	"testing"
	"time"

	"github.com/trellisplan/trellis/internal/types"
)

func validNode(id string) *types.Node {
	return &types.Node{ID: id, Type: types.TypeRequirement, Status: types.StatusOpen, Confidence: 1}
}

func TestOpValidateShape(t *testing.T) {
	due := time.Now().Add(24 * time.Hour)
	stmt := "revised"
	tests := []struct {
		name    string
		op      Op
		wantErr bool
	}{
		{"valid add_node", Op{Kind: KindAddNode, Node: validNode("req:a")}, false},
		{"add_node without node", Op{Kind: KindAddNode}, true},
		{"add_node invalid node", Op{Kind: KindAddNode, Node: &types.Node{ID: "x", Type: "bogus"}}, true},
		{"valid add_edge", Op{Kind: KindAddEdge, Edge: &types.Edge{From: "a", To: "b", Type: types.EdgeDependsOn}}, false},
		{"add_edge self edge", Op{Kind: KindAddEdge, Edge: &types.Edge{From: "a", To: "a", Type: types.EdgeDependsOn}}, true},
		{"add_edge bad type", Op{Kind: KindAddEdge, Edge: &types.Edge{From: "a", To: "b", Type: "linked_to"}}, true},
		{"valid update", Op{Kind: KindUpdateNode, NodeID: "req:a", Patch: &Patch{Statement: &stmt}}, false},
		{"update empty patch", Op{Kind: KindUpdateNode, NodeID: "req:a", Patch: &Patch{}}, true},
		{"update no id", Op{Kind: KindUpdateNode, Patch: &Patch{Statement: &stmt}}, true},
		{"valid retire", Op{Kind: KindRetireNode, NodeID: "req:a", Reason: "superseded"}, false},
		{"valid split", Op{Kind: KindSplitNode, NodeID: "req:a", Into: []string{"req:a1", "req:a2"}}, false},
		{"split no replacements", Op{Kind: KindSplitNode, NodeID: "req:a"}, true},
		{"split reuses source id", Op{Kind: KindSplitNode, NodeID: "req:a", Into: []string{"req:a"}}, true},
		{"valid merge", Op{Kind: KindMergeNodes, Sources: []string{"req:a", "req:b"}, Target: "req:c"}, false},
		{"merge target in sources", Op{Kind: KindMergeNodes, Sources: []string{"req:c"}, Target: "req:c"}, true},
		{"valid promote", Op{Kind: KindPromoteStatus, NodeID: "req:a", Status: types.StatusReady}, false},
		{"promote bad status", Op{Kind: KindPromoteStatus, NodeID: "req:a", Status: "done"}, true},
		{"valid unaccounted", Op{Kind: KindRecordUnaccounted, NodeID: "req:a",
			Unaccounted: &types.UnaccountedItem{Item: "perf pass", Owner: "kim", Due: due}}, false},
		{"unaccounted missing owner", Op{Kind: KindRecordUnaccounted, NodeID: "req:a",
			Unaccounted: &types.UnaccountedItem{Item: "perf pass", Due: due}}, true},
		{"unaccounted missing due", Op{Kind: KindRecordUnaccounted, NodeID: "req:a",
			Unaccounted: &types.UnaccountedItem{Item: "perf pass", Owner: "kim"}}, true},
		{"unknown kind", Op{Kind: "rename_node", NodeID: "req:a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.ValidateShape()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateShape() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatchHashStable(t *testing.T) {
	mk := func() *Batch {
		return &Batch{Actor: "guardrail", Ops: []Op{
			{Kind: KindAddNode, Node: validNode("req:a")},
			{Kind: KindAddEdge, Edge: &types.Edge{From: "req:a", To: "cap:x", Type: types.EdgeTracesTo}},
			{Kind: KindRetireNode, NodeID: "req:old", Reason: "superseded"},
		}}
	}
	if mk().Hash() != mk().Hash() {
		t.Error("identical batches hash differently")
	}
}

func TestBatchHashIgnoresTimestamps(t *testing.T) {
	a := validNode("req:a")
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := validNode("req:a")
	b.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	h1 := (&Batch{Ops: []Op{{Kind: KindAddNode, Node: a}}}).Hash()
	h2 := (&Batch{Ops: []Op{{Kind: KindAddNode, Node: b}}}).Hash()
	if h1 != h2 {
		t.Error("hash varies with node timestamps")
	}
}

func TestBatchHashSensitiveToContent(t *testing.T) {
	a := validNode("req:a")
	b := validNode("req:a")
	b.Statement = "different statement"

	h1 := (&Batch{Ops: []Op{{Kind: KindAddNode, Node: a}}}).Hash()
	h2 := (&Batch{Ops: []Op{{Kind: KindAddNode, Node: b}}}).Hash()
	if h1 == h2 {
		t.Error("hash ignores node content")
	}
}

func TestSortOpsByRankThenID(t *testing.T) {
	b := &Batch{Ops: []Op{
		{Kind: KindRetireNode, NodeID: "req:z"},
		{Kind: KindAddEdge, Edge: &types.Edge{From: "req:b", To: "req:a", Type: types.EdgeDependsOn}},
		{Kind: KindAddNode, Node: validNode("req:b")},
		{Kind: KindAddNode, Node: validNode("req:a")},
		{Kind: KindPromoteStatus, NodeID: "req:a", Status: types.StatusReady},
	}}
	b.SortOps()

	wantKinds := []Kind{KindAddNode, KindAddNode, KindAddEdge, KindPromoteStatus, KindRetireNode}
	for i, k := range wantKinds {
		if b.Ops[i].Kind != k {
			t.Fatalf("op %d kind = %s, want %s (order: %v)", i, b.Ops[i].Kind, k, kinds(b))
		}
	}
	if b.Ops[0].Node.ID != "req:a" || b.Ops[1].Node.ID != "req:b" {
		t.Error("ties not broken by ascending target id")
	}
}

func kinds(b *Batch) []Kind {
	out := make([]Kind, len(b.Ops))
	for i := range b.Ops {
		out[i] = b.Ops[i].Kind
	}
	return out
}

func TestMergeDeduplicates(t *testing.T) {
	shared := validNode("req:shared")
	edge := &types.Edge{From: "req:shared", To: "cap:x", Type: types.EdgeTracesTo}

	b1 := &Batch{Actor: "expand", Ops: []Op{
		{Kind: KindAddNode, Node: shared},
		{Kind: KindAddEdge, Edge: edge},
	}}
	b2 := &Batch{Actor: "uiproj", Ops: []Op{
		{Kind: KindAddNode, Node: shared},
		{Kind: KindAddEdge, Edge: edge},
		{Kind: KindAddNode, Node: validNode("req:only-b2")},
	}}

	merged := Merge("pass", b1, b2)
	if merged.Actor != "pass" {
		t.Errorf("actor = %q", merged.Actor)
	}
	var addNodes, addEdges int
	for _, op := range merged.Ops {
		switch op.Kind {
		case KindAddNode:
			addNodes++
		case KindAddEdge:
			addEdges++
		}
	}
	if addNodes != 2 {
		t.Errorf("add_node ops = %d, want 2 (duplicate collapsed)", addNodes)
	}
	if addEdges != 1 {
		t.Errorf("add_edge ops = %d, want 1", addEdges)
	}
}

func TestMergeKeepsConflictingAddNodes(t *testing.T) {
	// Same id, different content: both survive so Apply can surface the
	// duplicate_node rejection instead of Merge silently picking a winner.
	a := validNode("req:a")
	b := validNode("req:a")
	b.Statement = "a different take"

	merged := Merge("pass", &Batch{Ops: []Op{{Kind: KindAddNode, Node: a}}},
		&Batch{Ops: []Op{{Kind: KindAddNode, Node: b}}})
	if len(merged.Ops) != 2 {
		t.Errorf("ops = %d, want both conflicting adds kept", len(merged.Ops))
	}
}

func TestMergeDeterministicAcrossOrder(t *testing.T) {
	b1 := &Batch{Ops: []Op{{Kind: KindAddNode, Node: validNode("req:a")}}}
	b2 := &Batch{Ops: []Op{{Kind: KindAddNode, Node: validNode("req:b")}}}

	h1 := Merge("pass", b1, b2).Hash()
	h2 := Merge("pass", b2, b1).Hash()
	if h1 != h2 {
		t.Error("merge result depends on proposer completion order")
	}
}

func TestPatchIsEmpty(t *testing.T) {
	if !(&Patch{}).IsEmpty() {
		t.Error("zero patch not reported empty")
	}
	stmt := "s"
	if (&Patch{Statement: &stmt}).IsEmpty() {
		t.Error("statement patch reported empty")
	}
	if (&Patch{Fields: map[string]string{"k": "v"}}).IsEmpty() {
		t.Error("fields patch reported empty")
	}
}
