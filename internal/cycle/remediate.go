package cycle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/types"
)

// rewrite emits the delta ops for one remediation pattern applied to all
// offending edges sharing a target.
func (g *Guard) rewrite(p Pattern, target string, group []offense) []delta.Op {
	switch p {
	case PatternCapabilityEvolution:
		return g.rewriteCapabilityEvolution(target, group[0])
	case PatternConcernAggregation:
		return g.rewriteAggregation(target, group, types.TypeConcern, "concern")
	case PatternFeedbackAggregation:
		return g.rewriteAggregation(target, group, types.TypeFeedback, "feedback")
	case PatternEvaluationGate:
		return g.rewriteEvaluationGate(target, group[0])
	default:
		return g.rewriteQuestionVersioning(target, group[0])
	}
}

// rewriteQuestionVersioning replaces the back-edge with an OpenQuestion and
// a forward-only new version of the target. The old version is retired, its
// replacement carries a supersedes edge back for traceability, and the
// discovering node keeps an informs edge so the insight survives.
func (g *Guard) rewriteQuestionVersioning(target string, o offense) []delta.Op {
	src := o.op.Edge.From
	base, n := idgen.ParseVersion(target)
	next := idgen.Version(base, n+1)
	qid := idgen.Child("q", target, "rework-"+idgen.HashSuffix(src, 4))

	question := &types.Node{
		ID:        qid,
		Type:      types.TypeOpenQuestion,
		Status:    types.StatusOpen,
		Statement: fmt.Sprintf("%s surfaced a gap in %s: decide what the next version must cover", src, target),
		Question: &types.QuestionDetail{
			Owner:       g.ownerFor(target, src),
			Due:         g.now().Add(g.QuestionLeadTime),
			Blocks:      []string{next},
			HardBlocker: true,
		},
		Confidence: 1,
	}

	ops := []delta.Op{
		{Kind: delta.KindAddNode, Node: question},
		{Kind: delta.KindAddNode, Node: g.nextVersion(target, next)},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: next, To: target, Type: types.EdgeSupersedes}},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: next, To: qid, Type: types.EdgeGatedBy}},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: src, To: next, Type: types.EdgeInforms}},
		{Kind: delta.KindRetireNode, NodeID: target, Reason: "superseded by " + next},
	}
	return ops
}

// rewriteCapabilityEvolution inserts an Evaluation between the requirement
// and a new version of the capability it forces to evolve.
func (g *Guard) rewriteCapabilityEvolution(target string, o offense) []delta.Op {
	src := o.op.Edge.From
	base, n := idgen.ParseVersion(target)
	next := idgen.Version(base, n+1)
	evalID := idgen.Child("eval", target, "evolve-"+idgen.HashSuffix(src, 4))

	eval := &types.Node{
		ID:         evalID,
		Type:       types.TypeEvaluation,
		Status:     types.StatusOpen,
		Statement:  fmt.Sprintf("assess whether %s satisfies %s before %s proceeds", target, src, next),
		Owner:      g.ownerFor(target, src),
		Confidence: 1,
	}

	return []delta.Op{
		{Kind: delta.KindAddNode, Node: eval},
		{Kind: delta.KindAddNode, Node: g.nextVersion(target, next)},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: evalID, To: src, Type: types.EdgeTracesTo}},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: next, To: evalID, Type: types.EdgeDependsOn}},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: next, To: target, Type: types.EdgeSupersedes}},
		{Kind: delta.KindRetireNode, NodeID: target, Reason: "evolved to " + next},
	}
}

// rewriteAggregation merges all back-edges into a single forward informs
// edge from one new aggregator node. Sources attach to the aggregator with
// non-ordering edges, so the cycle never forms.
func (g *Guard) rewriteAggregation(target string, group []offense, nt types.NodeType, prefix string) []delta.Op {
	sources := make([]string, 0, len(group))
	for _, o := range group {
		sources = append(sources, o.op.Edge.From)
	}
	sort.Strings(sources)

	aggID := idgen.Child(prefix, target, idgen.HashSuffix(strings.Join(sources, "\x00"), 4))
	srcEdge := types.EdgeRevealsCross
	if nt == types.TypeFeedback {
		srcEdge = types.EdgeInforms
	}

	agg := &types.Node{
		ID:         aggID,
		Type:       nt,
		Status:     types.StatusOpen,
		Statement:  fmt.Sprintf("%d nodes independently surfaced the same issue with %s", len(sources), target),
		Owner:      g.ownerFor(target, sources[0]),
		Confidence: 1,
	}

	ops := []delta.Op{
		{Kind: delta.KindAddNode, Node: agg},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: aggID, To: target, Type: types.EdgeInforms}},
	}
	for _, src := range sources {
		ops = append(ops, delta.Op{Kind: delta.KindAddEdge, Edge: &types.Edge{From: src, To: aggID, Type: srcEdge}})
	}
	return ops
}

// rewriteEvaluationGate inserts an explicit go/no-go Evaluation before the
// target iterates again. A failed gate produces forward-only Requirement
// nodes later; nothing here points backwards.
func (g *Guard) rewriteEvaluationGate(target string, o offense) []delta.Op {
	src := o.op.Edge.From
	gateID := idgen.Child("eval", target, "gate-"+idgen.HashSuffix(src, 4))

	gate := &types.Node{
		ID:         gateID,
		Type:       types.TypeEvaluation,
		Status:     types.StatusOpen,
		Statement:  fmt.Sprintf("go/no-go gate on %s raised by %s: define pass/fail criteria", target, src),
		Owner:      g.ownerFor(target, src),
		Fields:     map[string]string{"gate": "go_no_go"},
		Confidence: 1,
	}

	return []delta.Op{
		{Kind: delta.KindAddNode, Node: gate},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: gateID, To: src, Type: types.EdgeTracesTo}},
		{Kind: delta.KindAddEdge, Edge: &types.Edge{From: target, To: gateID, Type: types.EdgeGatedBy}},
	}
}

// nextVersion builds the superseding node: same content as the current
// target, fresh id, Open status. Never fabricates fields the target did
// not have.
func (g *Guard) nextVersion(target, nextID string) *types.Node {
	cur, err := g.snap.Node(target)
	if err != nil {
		return &types.Node{ID: nextID, Type: types.TypeChangeSpec, Status: types.StatusOpen, Confidence: 1}
	}
	next := &types.Node{
		ID:         nextID,
		Type:       cur.Type,
		Status:     types.StatusOpen,
		Statement:  cur.Statement,
		Owner:      cur.Owner,
		Estimate:   cur.Estimate,
		UserFacing: cur.UserFacing,
		Confidence: cur.Confidence,
	}
	if len(cur.Fields) > 0 {
		next.Fields = make(map[string]string, len(cur.Fields))
		for k, v := range cur.Fields {
			next.Fields[k] = v
		}
	}
	return next
}

func (g *Guard) ownerFor(ids ...string) string {
	for _, id := range ids {
		if n, err := g.snap.Node(id); err == nil && n.Owner != "" {
			return n.Owner
		}
	}
	return g.DefaultOwner
}
