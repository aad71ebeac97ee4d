package uiproj

import (
	"fmt"
	"testing"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

func seed(t *testing.T, s *graph.Store, ops ...delta.Op) {
	t.Helper()
	res, err := s.Apply(&delta.Batch{Actor: "test", Ops: ops})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(res.Rejected) > 0 {
		t.Fatalf("seed rejections: %+v", res.Rejected)
	}
}

func userFacing(id string, nt types.NodeType, answers map[string]string) *types.Node {
	return &types.Node{
		ID: id, Type: nt, Status: types.StatusOpen,
		UserFacing: true, UIAnswers: answers, Confidence: 1,
	}
}

func apply(t *testing.T, s *graph.Store, b *delta.Batch) {
	t.Helper()
	res, err := s.Apply(b)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Rejected) > 0 {
		t.Fatalf("rejections: %+v", res.Rejected)
	}
}

func TestProjectUnansweredRaisesQuestion(t *testing.T) {
	s := graph.New()
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: userFacing("cap:inbox", types.TypeCapability, nil)})

	b, err := New().Project(s.Snapshot(), []string{"cap:inbox"})
	if err != nil {
		t.Fatal(err)
	}
	apply(t, s, b)

	snap := s.Snapshot()
	qs := snap.BlockingQuestions("cap:inbox")
	if len(qs) != 1 {
		t.Fatalf("blocking questions = %d, want 1", len(qs))
	}
	if got := snap.NodesByType(types.TypeScreen); len(got) != 0 {
		t.Error("artifacts generated before the questionnaire was answered")
	}
}

func TestProjectNoUIEmitsOnlyExclusion(t *testing.T) {
	s := graph.New()
	n := userFacing("cap:batch-export", types.TypeCapability, map[string]string{
		"presence":  "no",
		"rationale": "export runs headless via the API",
	})
	n.Owner = "kim"
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: n})

	b, err := New().Project(s.Snapshot(), []string{"cap:batch-export"})
	if err != nil {
		t.Fatal(err)
	}
	apply(t, s, b)

	snap := s.Snapshot()
	excls := snap.NodesByType(types.TypeExclusion)
	if len(excls) != 1 {
		t.Fatalf("exclusions = %d, want 1", len(excls))
	}
	if excls[0].Owner == "" || excls[0].Statement == "" {
		t.Error("exclusion missing owner or rationale")
	}
	for _, nt := range []types.NodeType{types.TypeScreen, types.TypeUXFlow, types.TypeNavigationSpec} {
		if got := snap.NodesByType(nt); len(got) != 0 {
			t.Errorf("%s generated despite no-UI answer", nt)
		}
	}
}

func TestProjectAnswersGenerateArtifacts(t *testing.T) {
	s := graph.New()
	answers := map[string]string{
		"presence":       "yes",
		"entry":          "main_nav",
		"representation": "a chronological list of items",
		"interaction":    "open, archive, mark read",
		"feedback":       "skeleton rows while loading",
		"settings":       "yes",
		"tutorial":       "no",
		"background":     "yes",
		"notifications":  "yes",
		"device":         "both",
		"a11y_i18n":      "screen reader labels, rtl",
		"privacy":        "no",
		"analytics":      "open_rate",
	}
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: userFacing("cap:inbox", types.TypeCapability, answers)})

	b, err := New().Project(s.Snapshot(), []string{"cap:inbox"})
	if err != nil {
		t.Fatal(err)
	}
	apply(t, s, b)

	snap := s.Snapshot()
	for _, nt := range []types.NodeType{
		types.TypeScreen, types.TypeUXFlow, types.TypeNavigationSpec,
		types.TypeUIComponentContract, types.TypeSettingsSpec,
		types.TypeNotificationSpec, types.TypeBadgeRule, types.TypeVisualSpec,
	} {
		if got := snap.NodesByType(nt); len(got) != 1 {
			t.Errorf("%s artifacts = %d, want 1", nt, len(got))
		}
	}
	// tutorial answered "no": no TutorialSpec.
	if got := snap.NodesByType(types.TypeTutorialSpec); len(got) != 0 {
		t.Error("tutorial spec generated despite no answer")
	}
	// All UX flow state variants declared.
	flows := snap.NodesByType(types.TypeUXFlow)
	if flows[0].Fields["states"] != "loading,empty,error,ready" {
		t.Errorf("flow states = %q", flows[0].Fields["states"])
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	s := graph.New()
	answers := map[string]string{"presence": "yes", "entry": "main_nav", "representation": "list"}
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: userFacing("cap:inbox", types.TypeCapability, answers)})

	e := New()
	b1, err := e.Project(s.Snapshot(), []string{"cap:inbox"})
	if err != nil {
		t.Fatal(err)
	}
	apply(t, s, b1)

	// Re-projecting against the updated graph proposes nothing new.
	b2, err := e.Project(s.Snapshot(), []string{"cap:inbox"})
	if err != nil {
		t.Fatal(err)
	}
	if !b2.IsEmpty() {
		t.Errorf("re-projection emitted %d ops, want 0", len(b2.Ops))
	}
}

func TestDesignTokenGate(t *testing.T) {
	s := graph.New()
	seed(t, s, delta.Op{Kind: delta.KindAddNode,
		Node: userFacing("visual:inbox", types.TypeVisualSpec, nil)})

	ok, missing := DesignTokenGate(s.Snapshot(), "visual:inbox")
	if ok || len(missing) != 3 {
		t.Fatalf("gate = %v %v, want blocked on all three foundations", ok, missing)
	}

	seed(t, s,
		delta.Op{Kind: delta.KindAddNode, Node: &types.Node{ID: "style:base", Type: types.TypeStyleGuide, Status: types.StatusOpen, Confidence: 1}},
		delta.Op{Kind: delta.KindAddNode, Node: &types.Node{ID: "tokens:base", Type: types.TypeDesignTokens, Status: types.StatusOpen, Confidence: 1}},
		delta.Op{Kind: delta.KindAddNode, Node: &types.Node{ID: "lib:base", Type: types.TypeComponentLibrary, Status: types.StatusOpen, Confidence: 1}},
	)
	if ok, missing = DesignTokenGate(s.Snapshot(), "visual:inbox"); !ok {
		t.Errorf("gate still blocked: %v", missing)
	}

	// Non-visual nodes pass regardless.
	if ok, _ = DesignTokenGate(graph.New().Snapshot(), "cap:anything"); !ok {
		t.Error("gate applied to a non-visual node")
	}
}

func TestSalvageConsolidatesMisTaggedScreens(t *testing.T) {
	// 14 "screens" whose purpose is monitoring or analytics must collapse
	// into at most 2 dashboards, all originals retired with evolved_from
	// edges preserved.
	s := graph.New()
	var ops []delta.Op
	for i := 0; i < 7; i++ {
		n := userFacing(fmt.Sprintf("screen:monitoring-%d", i), types.TypeScreen, nil)
		n.Statement = fmt.Sprintf("monitoring panel %d", i)
		ops = append(ops, delta.Op{Kind: delta.KindAddNode, Node: n})
	}
	for i := 0; i < 7; i++ {
		n := userFacing(fmt.Sprintf("screen:usage-%d", i), types.TypeScreen, nil)
		n.Statement = fmt.Sprintf("analytics report %d", i)
		ops = append(ops, delta.Op{Kind: delta.KindAddNode, Node: n})
	}
	seed(t, s, ops...)

	e := New()
	b, decisions := e.Salvage(s.Snapshot())
	if len(decisions) != 14 {
		t.Fatalf("decisions = %d, want 14", len(decisions))
	}
	apply(t, s, b)

	snap := s.Snapshot()
	dashboards := snap.NodesByType(types.TypeDashboard)
	if len(dashboards) == 0 || len(dashboards) > 2 {
		t.Fatalf("dashboards = %d, want 1 or 2", len(dashboards))
	}
	retired := 0
	for _, d := range decisions {
		n, err := snap.Node(d.NodeID)
		if err != nil {
			t.Fatalf("salvaged node %s vanished", d.NodeID)
		}
		if n.IsRetired() {
			retired++
			// Traceability: some dashboard evolved from this screen.
			found := false
			for _, dash := range dashboards {
				if snap.HasEdge(dash.ID, n.ID, types.EdgeEvolvedFrom) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s retired without an evolved_from edge", n.ID)
			}
		}
	}
	if retired != 14 {
		t.Errorf("retired = %d, want all 14", retired)
	}
}

func TestSalvageKeepsRealScreens(t *testing.T) {
	s := graph.New()
	n := userFacing("screen:feed", types.TypeScreen, nil)
	n.Statement = "home feed the user scrolls"
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: n})

	e := New()
	b, decisions := e.Salvage(s.Snapshot())
	if len(decisions) != 1 || decisions[0].Bucket != BucketKeep {
		t.Fatalf("decisions = %+v, want keep", decisions)
	}
	if !b.IsEmpty() {
		t.Errorf("keep bucket produced %d ops", len(b.Ops))
	}
}

func TestSalvageRetiresBackendBehaviorWithExclusion(t *testing.T) {
	s := graph.New()
	n := userFacing("screen:job-is-queued", types.TypeScreen, nil)
	n.Statement = "worker picks the job off the queue"
	seed(t, s, delta.Op{Kind: delta.KindAddNode, Node: n})

	e := New()
	b, decisions := e.Salvage(s.Snapshot())
	if decisions[0].Bucket != BucketDeleteNoUI {
		t.Fatalf("bucket = %s, want delete-no-ui", decisions[0].Bucket)
	}
	apply(t, s, b)

	snap := s.Snapshot()
	old, _ := snap.Node("screen:job-is-queued")
	if !old.IsRetired() {
		t.Error("backend screen not retired")
	}
	excls := snap.NodesByType(types.TypeExclusion)
	if len(excls) != 1 || excls[0].Owner == "" {
		t.Fatalf("exclusions = %+v, want one owned record", excls)
	}
}

func TestClassifyComponentKeywords(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		stmt string
		want Bucket
	}{
		{"confirmation dialog before delete", BucketComponent},
		{"notification preferences section", BucketSettingsSection},
		{"moderation queue for reported posts", BucketAdminTool},
		{"user-navigates between tabs", BucketUXFlow},
		{"csrf token validation", BucketDeleteNoUI},
		{"profile view with avatar", BucketKeep},
	}
	for _, tt := range tests {
		n := &types.Node{ID: "screen:x", Type: types.TypeScreen, Statement: tt.stmt}
		if got, _ := rules.Classify(n); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.stmt, got, tt.want)
		}
	}
}

func TestAnswered(t *testing.T) {
	if Answered(nil) {
		t.Error("empty answers reported complete")
	}
	if !Answered(map[string]string{"presence": "no", "rationale": "headless"}) {
		t.Error("no-UI answer with rationale reported incomplete")
	}
	if Answered(map[string]string{"presence": "no"}) {
		t.Error("no-UI answer without rationale reported complete")
	}
	full := map[string]string{}
	for _, q := range Protocol {
		full[q.ID] = "answered"
	}
	if !Answered(full) {
		t.Error("fully answered protocol reported incomplete")
	}
}
