// Package guardrail brackets every pass with confidence and accounting
// checks. The pre-check blocks low-confidence branches before any engine
// proposes work on top of them; the post-check turns proof failures into
// OpenQuestions so a failing pass ends with named follow-ups instead of a
// silent shortfall. Nothing is ever dropped without an unaccounted entry
// carrying an owner and a due date.
package guardrail

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/proof"
	"github.com/trellisplan/trellis/internal/types"
)

// Engine holds the guardrail knobs for one plan.
type Engine struct {
	// Threshold is the minimum authoring confidence a node needs before
	// work may build on it.
	Threshold float64

	// DefaultOwner owns emitted questions and unaccounted entries when the
	// offending node has no owner of its own.
	DefaultOwner string

	// QuestionLeadTime sets how far out follow-up due dates land.
	QuestionLeadTime time.Duration

	now func() time.Time
}

// New returns an engine with the default 0.80 confidence threshold.
func New() *Engine {
	return &Engine{
		Threshold:        0.80,
		DefaultOwner:     "unassigned",
		QuestionLeadTime: 72 * time.Hour,
		now:              time.Now,
	}
}

// Verdict evaluates one node's confidence as a three-valued result.
// Insufficient is not false: a node may be perfectly correct and still
// under-evidenced, and the two must route differently.
func (e *Engine) Verdict(n *types.Node) types.Tri {
	if n.Fields["verified"] == "false" {
		return types.TriFalse
	}
	if n.Confidence >= e.Threshold {
		return types.TriTrue
	}
	return types.TriInsufficient
}

// PreCheck sweeps the snapshot before any proposer runs. Every live node
// with an indefinite or negative verdict is blocked behind a targeted
// OpenQuestion; the returned gaps mirror the batch for the pass report.
func (e *Engine) PreCheck(snap *graph.Snapshot) (*delta.Batch, []types.Gap) {
	b := &delta.Batch{Actor: "guardrail"}
	var gaps []types.Gap

	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() || n.Type == types.TypeOpenQuestion {
			continue
		}
		v := e.Verdict(n)
		if v.IsTrue() {
			continue
		}

		kind := "confidence_insufficient"
		prompt := fmt.Sprintf("confidence %.2f below threshold %.2f; provide evidence or revise", n.Confidence, e.Threshold)
		if v.IsFalse() {
			kind = "verification_failed"
			prompt = "verification failed; revise the node or retire it"
		}
		gaps = append(gaps, types.Gap{NodeID: n.ID, Kind: kind, Detail: prompt})

		qid := "q:" + n.ID + ":confidence"
		if !snap.Has(qid) {
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: &types.Node{
				ID:        qid,
				Type:      types.TypeOpenQuestion,
				Status:    types.StatusOpen,
				Statement: fmt.Sprintf("%s: %s", n.ID, prompt),
				Question: &types.QuestionDetail{
					Owner:       e.owner(n),
					Due:         e.now().Add(e.QuestionLeadTime),
					Blocks:      []string{n.ID},
					HardBlocker: true,
				},
				Confidence: 1,
			}})
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
				Edge: &types.Edge{From: n.ID, To: qid, Type: types.EdgeGatedBy}})
		}
		if n.Status != types.StatusBlocked {
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindPromoteStatus, NodeID: n.ID, Status: types.StatusBlocked})
		}
	}

	b.SortOps()
	return b, gaps
}

// PostCheck turns a failing proof report into follow-up work: one
// OpenQuestion per failing proof, carrying the proof's own gap detail. A
// passing report produces an empty batch.
func (e *Engine) PostCheck(snap *graph.Snapshot, report *proof.Report) (*delta.Batch, []types.Gap) {
	b := &delta.Batch{Actor: "guardrail"}
	var gaps []types.Gap

	for _, res := range report.Results {
		if res.Passed {
			continue
		}
		detail := summarizeDetails(res.Details)
		gaps = append(gaps, types.Gap{
			NodeID: "proof:" + strings.ToLower(res.ID),
			Kind:   "proof_failure",
			Detail: fmt.Sprintf("%s (%s) score %.2f: %s", res.ID, res.Name, res.Score, detail),
		})

		qid := "q:proof:" + strings.ToLower(res.ID)
		if snap.Has(qid) {
			continue
		}
		b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: &types.Node{
			ID:        qid,
			Type:      types.TypeOpenQuestion,
			Status:    types.StatusOpen,
			Statement: fmt.Sprintf("close %s (%s): %s", res.ID, res.Name, detail),
			Question: &types.QuestionDetail{
				Owner:       e.DefaultOwner,
				Due:         e.now().Add(e.QuestionLeadTime),
				HardBlocker: false,
			},
			Confidence: 1,
		}})
	}

	b.SortOps()
	return b, gaps
}

// Skip records one skipped item on a node's unaccounted ledger. Every
// deliberate omission in a pass goes through here.
func (e *Engine) Skip(b *delta.Batch, snap *graph.Snapshot, nodeID, item string) {
	owner := e.DefaultOwner
	if n, err := snap.Node(nodeID); err == nil && n.Owner != "" {
		owner = n.Owner
	}
	b.Ops = append(b.Ops, delta.Op{
		Kind:   delta.KindRecordUnaccounted,
		NodeID: nodeID,
		Unaccounted: &types.UnaccountedItem{
			Item:  item,
			Owner: owner,
			Due:   e.now().Add(e.QuestionLeadTime),
		},
	})
}

func (e *Engine) owner(n *types.Node) string {
	if n.Owner != "" {
		return n.Owner
	}
	return e.DefaultOwner
}

// summarizeDetails flattens a proof details payload into one line, keys
// sorted, list lengths instead of full contents past the first few ids.
func summarizeDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := details[k].(type) {
		case []string:
			if len(v) == 0 {
				continue
			}
			shown := v
			if len(shown) > 3 {
				shown = shown[:3]
			}
			part := fmt.Sprintf("%s: %s", k, strings.Join(shown, "; "))
			if len(v) > 3 {
				part += fmt.Sprintf(" (+%d more)", len(v)-3)
			}
			parts = append(parts, part)
		case map[string]any:
			if inner := summarizeDetails(v); inner != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", k, inner))
			}
		}
	}
	if len(parts) == 0 {
		return "see proof details"
	}
	return strings.Join(parts, "; ")
}
