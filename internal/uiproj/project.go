package uiproj

import (
	"fmt"
	"sort"
	"time"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/types"
)

// Engine turns questionnaire answers into UI artifact deltas.
type Engine struct {
	// DefaultOwner owns exclusions and questions when the source node has
	// no owner of its own.
	DefaultOwner string

	// QuestionLeadTime sets due dates on emitted OpenQuestions.
	QuestionLeadTime time.Duration

	// Salvage rules; see salvage.go.
	Rules Rules

	now func() time.Time
}

// New builds an engine with the default salvage rules.
func New() *Engine {
	return &Engine{
		DefaultOwner:     "unassigned",
		QuestionLeadTime: 72 * time.Hour,
		Rules:            DefaultRules(),
		now:              time.Now,
	}
}

// Project emits UI deltas for the given nodes. Nodes that are not
// user-facing are skipped; user-facing nodes without questionnaire answers
// get one OpenQuestion; answered nodes get their artifact set, or an
// Exclusion when the answer was "no UI".
func (e *Engine) Project(snap *graph.Snapshot, ids []string) (*delta.Batch, error) {
	b := &delta.Batch{Actor: "uiproj"}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	for _, id := range sorted {
		n, err := snap.Node(id)
		if err != nil {
			return nil, fmt.Errorf("projecting %s: %w", id, err)
		}
		if !n.UserFacing || n.IsRetired() || n.Type.IsUIType() {
			continue
		}
		switch {
		case len(n.UIAnswers) == 0 || n.UIAnswers["presence"] == "":
			e.askQuestionnaire(b, snap, n)
		case n.UIAnswers["presence"] == "no":
			e.exclude(b, snap, n)
		default:
			e.generate(b, snap, n)
		}
	}
	b.SortOps()
	return b, nil
}

// askQuestionnaire raises one OpenQuestion pointing at the unanswered
// protocol. Answering is the content author's job, not the engine's.
func (e *Engine) askQuestionnaire(b *delta.Batch, snap *graph.Snapshot, n *types.Node) {
	qid := "q:" + n.ID + ":ui"
	if snap.Has(qid) {
		return
	}
	q := &types.Node{
		ID:        qid,
		Type:      types.TypeOpenQuestion,
		Status:    types.StatusOpen,
		Statement: fmt.Sprintf("%s is user-facing but its UI questionnaire is unanswered", n.ID),
		Question: &types.QuestionDetail{
			Owner:       e.owner(n),
			Due:         e.now().Add(e.QuestionLeadTime),
			Blocks:      []string{n.ID},
			HardBlocker: true,
		},
		Confidence: 1,
	}
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: q})
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
		Edge: &types.Edge{From: n.ID, To: qid, Type: types.EdgeGatedBy}})
}

// exclude records the "no UI" decision as a first-class artifact: an
// Exclusion with owner and rationale, nothing else.
func (e *Engine) exclude(b *delta.Batch, snap *graph.Snapshot, n *types.Node) {
	exID := idgen.Child("excl", n.ID, "")
	if snap.Has(exID) {
		return
	}
	rationale := n.UIAnswers["rationale"]
	if rationale == "" {
		rationale = "declared no user interface in questionnaire"
	}
	ex := &types.Node{
		ID:         exID,
		Type:       types.TypeExclusion,
		Status:     types.StatusOpen,
		Statement:  rationale,
		Owner:      e.owner(n),
		Confidence: 1,
	}
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: ex})
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
		Edge: &types.Edge{From: exID, To: n.ID, Type: types.EdgeTracesTo}})
}

// artifact is one generated UI node joined to its source by traces_to.
func (e *Engine) artifact(b *delta.Batch, snap *graph.Snapshot, src *types.Node, prefix string, nt types.NodeType, stmt string, fields map[string]string) string {
	id := idgen.Child(prefix, src.ID, "")
	if snap.Has(id) {
		return id
	}
	n := &types.Node{
		ID:         id,
		Type:       nt,
		Status:     types.StatusOpen,
		Statement:  stmt,
		Owner:      e.owner(src),
		Fields:     fields,
		UserFacing: true,
		Confidence: 1,
	}
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: n})
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
		Edge: &types.Edge{From: id, To: src.ID, Type: types.EdgeTracesTo}})
	return id
}

// generate maps the answers onto the artifact set. The mapping is fixed:
// same answers, same artifacts.
func (e *Engine) generate(b *delta.Batch, snap *graph.Snapshot, n *types.Node) {
	a := n.UIAnswers
	label := n.Statement
	if label == "" {
		label = n.ID
	}

	e.artifact(b, snap, n, "screen", types.TypeScreen,
		fmt.Sprintf("Screen for %s", label),
		map[string]string{"representation": a["representation"], "interaction": a["interaction"]})

	e.artifact(b, snap, n, "flow", types.TypeUXFlow,
		fmt.Sprintf("UX flow for %s", label),
		map[string]string{"states": "loading,empty,error,ready", "feedback": a["feedback"]})

	if entry := a["entry"]; entry != "" && entry != "none" {
		e.artifact(b, snap, n, "nav", types.TypeNavigationSpec,
			fmt.Sprintf("Navigation to %s via %s", label, entry),
			map[string]string{"entry": entry})
	}
	if a["interaction"] != "" {
		e.artifact(b, snap, n, "uicc", types.TypeUIComponentContract,
			fmt.Sprintf("Component contract for %s", label),
			map[string]string{"interaction": a["interaction"]})
	}
	if a["settings"] == "yes" {
		e.artifact(b, snap, n, "settings", types.TypeSettingsSpec,
			fmt.Sprintf("Settings surface for %s", label), nil)
	}
	if a["tutorial"] == "yes" {
		e.artifact(b, snap, n, "tutorial", types.TypeTutorialSpec,
			fmt.Sprintf("First-run tutorial for %s", label), nil)
	}
	if a["background"] == "yes" || a["notifications"] == "yes" {
		notifID := e.artifact(b, snap, n, "notif", types.TypeNotificationSpec,
			fmt.Sprintf("Notification spec for %s", label), nil)
		badgeID := e.artifact(b, snap, n, "badge", types.TypeBadgeRule,
			fmt.Sprintf("Badge rule for %s", label), nil)
		if !snap.HasEdge(badgeID, notifID, types.EdgeTracesTo) && badgeID != notifID {
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
				Edge: &types.Edge{From: badgeID, To: notifID, Type: types.EdgeTracesTo}})
		}
	}
	if a["device"] != "" || a["representation"] != "" {
		e.artifact(b, snap, n, "visual", types.TypeVisualSpec,
			fmt.Sprintf("Visual spec for %s", label),
			map[string]string{"device": a["device"], "a11y_i18n": a["a11y_i18n"]})
	}
}

func (e *Engine) owner(n *types.Node) string {
	if n.Owner != "" {
		return n.Owner
	}
	return e.DefaultOwner
}

// DesignTokenGate blocks VisualSpec readiness until a styling foundation
// exists: at least one live StyleGuide, DesignTokens, and ComponentLibrary
// node. Non-VisualSpec nodes always pass. Composed into the store's
// readiness check by the orchestrator.
func DesignTokenGate(snap *graph.Snapshot, id string) (bool, []string) {
	n, err := snap.Node(id)
	if err != nil || n.Type != types.TypeVisualSpec {
		return true, nil
	}
	var missing []string
	for _, nt := range []types.NodeType{types.TypeStyleGuide, types.TypeDesignTokens, types.TypeComponentLibrary} {
		if len(snap.NodesByType(nt)) == 0 {
			missing = append(missing, fmt.Sprintf("no %s exists", nt))
		}
	}
	return len(missing) == 0, missing
}
