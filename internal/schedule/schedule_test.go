package schedule

import (
	"reflect"
	"strings"
	"testing"
	"time"

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

func addEdge(from, to string, et types.EdgeType) delta.Op {
	return delta.Op{Kind: delta.KindAddEdge, Edge: &types.Edge{From: from, To: to, Type: et}}
}

// readyCS builds a ChangeSpec that satisfies every work-start clause.
func readyCS(id string) *types.Node {
	return &types.Node{
		ID:       id,
		Type:     types.TypeChangeSpec,
		Status:   types.StatusReady,
		Owner:    "core-team",
		Estimate: "2d",
		Fields:   map[string]string{"acceptance": "integration suite green"},
	}
}

func TestGateRejectsUnreadyWork(t *testing.T) {
	s := graph.New()
	seed(t, s, addNode(&types.Node{ID: "change:draft", Type: types.TypeChangeSpec, Status: types.StatusOpen}))

	sched := New()
	ok, reasons := sched.Gate(s.Snapshot(), "change:draft")
	if ok {
		t.Fatal("open node with no owner passed the gate")
	}
	// Owner is defaulted to the batch actor at apply time, so the gate's
	// owner clause cannot fire for stored nodes; the rest must.
	want := map[string]bool{"status": false, "acceptance": false, "estimate": false}
	for _, r := range reasons {
		for k := range want {
			if strings.Contains(r, k) {
				want[k] = true
			}
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("gate reasons missing %q clause: %v", k, reasons)
		}
	}
}

func TestGateBlocksOnOpenQuestion(t *testing.T) {
	s := graph.New()
	cs := readyCS("change:billing")
	seed(t, s,
		addNode(cs),
		addNode(&types.Node{
			ID:        "q:change:billing:fields",
			Type:      types.TypeOpenQuestion,
			Status:    types.StatusOpen,
			Statement: "which processor",
			Question: &types.QuestionDetail{
				Owner:       "core-team",
				Due:         time.Now().Add(72 * time.Hour),
				Blocks:      []string{"change:billing"},
				HardBlocker: true,
			},
		}),
	)

	if ok, _ := New().Gate(s.Snapshot(), "change:billing"); ok {
		t.Fatal("node with unresolved blocking question passed the gate")
	}
}

func TestGateBlocksOnUnreadyContract(t *testing.T) {
	s := graph.New()
	seed(t, s,
		addNode(readyCS("change:profile")),
		addNode(&types.Node{ID: "contract:profile", Type: types.TypeContract, Status: types.StatusOpen}),
		addEdge("change:profile", "contract:profile", types.EdgeDependsOn),
	)

	ok, reasons := New().Gate(s.Snapshot(), "change:profile")
	if ok {
		t.Fatalf("gate passed with open upstream contract: %v", reasons)
	}
}

func TestGateUserFacingNeedsUIPairing(t *testing.T) {
	s := graph.New()
	cs := readyCS("change:inbox")
	cs.UserFacing = true
	seed(t, s, addNode(cs))

	sched := New()
	if ok, _ := sched.Gate(s.Snapshot(), "change:inbox"); ok {
		t.Fatal("user-facing node with no UI artifacts passed the gate")
	}

	// A documented exclusion satisfies the pairing.
	seed(t, s,
		addNode(&types.Node{
			ID: "excl:inbox", Type: types.TypeExclusion, Status: types.StatusOpen,
			Owner: "design", Statement: "surfaced through existing mail client",
		}),
		addEdge("excl:inbox", "change:inbox", types.EdgeTracesTo),
	)
	if ok, reasons := sched.Gate(s.Snapshot(), "change:inbox"); !ok {
		t.Fatalf("exclusion did not satisfy UI pairing: %v", reasons)
	}
}

func TestGateUnreadyScreenBlocksWork(t *testing.T) {
	s := graph.New()
	cs := readyCS("change:search")
	cs.UserFacing = true
	seed(t, s,
		addNode(cs),
		addNode(&types.Node{ID: "screen:search", Type: types.TypeScreen, Status: types.StatusOpen, UserFacing: true}),
		addEdge("screen:search", "change:search", types.EdgeTracesTo),
	)

	if ok, _ := New().Gate(s.Snapshot(), "change:search"); ok {
		t.Fatal("gate passed while paired screen still open")
	}
}

func TestOrderDependenciesFirst(t *testing.T) {
	s := graph.New()
	seed(t, s,
		addNode(readyCS("change:api")),
		addNode(readyCS("change:client")),
		addNode(readyCS("change:cache")),
		addEdge("change:client", "change:api", types.EdgeDependsOn),
		addEdge("change:api", "change:cache", types.EdgeDependsOn),
	)

	got := New().Order(s.Snapshot())
	want := []string{"change:cache", "change:api", "change:client"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrderTiesBreakByID(t *testing.T) {
	s := graph.New()
	seed(t, s,
		addNode(readyCS("change:zeta")),
		addNode(readyCS("change:alpha")),
		addNode(readyCS("change:mid")),
	)

	got := New().Order(s.Snapshot())
	want := []string{"change:alpha", "change:mid", "change:zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrderTiesBreakByLaneFirst(t *testing.T) {
	front := readyCS("change:checkout-ui")
	front.Fields["lane"] = "frontend"
	back := readyCS("change:payments-api")
	back.Fields["lane"] = "backend"
	stray := readyCS("change:analytics")

	s := graph.New()
	seed(t, s, addNode(front), addNode(back), addNode(stray))

	sched := New()
	sched.Lanes = []string{"backend", "frontend"}
	got := sched.Order(s.Snapshot())
	// Ranked lanes come first; the unlaned node falls to the back even
	// though its id sorts lowest.
	want := []string{"change:payments-api", "change:checkout-ui", "change:analytics"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrderOmitsGatedOutNodes(t *testing.T) {
	s := graph.New()
	draft := readyCS("change:draft")
	draft.Estimate = ""
	seed(t, s,
		addNode(readyCS("change:done")),
		addNode(draft),
		addNode(&types.Node{ID: "scenario:x", Type: types.TypeScenario, Status: types.StatusReady, Owner: "pm", Estimate: "1d"}),
	)

	got := New().Order(s.Snapshot())
	want := []string{"change:done"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v (unestimated and non-work nodes must be omitted)", got, want)
	}

	// Gate soundness: everything ordered is Ready with no blockers.
	snap := s.Snapshot()
	for _, id := range got {
		n, err := snap.Node(id)
		if err != nil || n.Status != types.StatusReady {
			t.Errorf("ordered node %s is not ready", id)
		}
		if len(snap.BlockingQuestions(id)) > 0 {
			t.Errorf("ordered node %s has blocking questions", id)
		}
	}
}
