package expand

import (
	"fmt"
	"strings"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/types"
)

// interfaces returns the interfaces a ChangeSpec is exposed through.
func interfaces(n *types.Node) []string {
	if got := splitList(n.Fields["interfaces"]); len(got) > 0 {
		return got
	}
	return []string{"API"}
}

// operations returns the operations a ChangeSpec touches. An explicit
// field wins; otherwise the statement narrows the default CRUD set.
func operations(n *types.Node) []string {
	if got := splitList(n.Fields["operations"]); len(got) > 0 {
		return got
	}
	stmt := strings.ToLower(n.Statement)
	switch {
	case strings.Contains(stmt, "read") || strings.Contains(stmt, "get"):
		return []string{"read"}
	case strings.Contains(stmt, "write") || strings.Contains(stmt, "store"):
		return []string{"create", "update"}
	case strings.Contains(stmt, "delete") || strings.Contains(stmt, "remove"):
		return []string{"delete"}
	default:
		return []string{"create", "delete", "read", "update"}
	}
}

// tupleKey identifies one (interface, operation, cluster) coverage cell.
func tupleKey(iface, op, state string) string {
	return iface + "\x00" + op + "\x00" + state
}

// Coverage computes expected and realized interaction counts for one
// ChangeSpec: expected = interfaces × operations × clusters, realized =
// live InteractionSpec children covering a distinct tuple.
func (e *Engine) Coverage(snap *graph.Snapshot, cs *types.Node) (expected, realized int) {
	clusters := Clusters(cs, e.Factors)
	expected = len(interfaces(cs)) * len(operations(cs)) * len(clusters)
	realized = len(e.realizedTuples(snap, cs))
	return expected, realized
}

// realizedTuples collects the distinct coverage cells already filled by
// live InteractionSpec children.
func (e *Engine) realizedTuples(snap *graph.Snapshot, cs *types.Node) map[string]bool {
	out := make(map[string]bool)
	for _, ix := range snap.Children(cs.ID, types.TypeInteractionSpec) {
		key := tupleKey(ix.Fields["interface"], ix.Fields["operation"], ix.Fields["state"])
		out[key] = true
	}
	return out
}

// expandInteractions appends one InteractionSpec skeleton per uncovered
// (interface, operation, cluster) tuple of the ChangeSpec, each gated by
// an OpenQuestion for its unfilled contract fields.
func (e *Engine) expandInteractions(snap *graph.Snapshot, cs *types.Node, b *delta.Batch) {
	realized := e.realizedTuples(snap, cs)
	clusters := Clusters(cs, e.Factors)

	for _, iface := range interfaces(cs) {
		for _, op := range operations(cs) {
			for _, cl := range clusters {
				state := cl.String()
				if realized[tupleKey(iface, op, state)] {
					continue
				}
				disc := strings.ToLower(iface) + "-" + op + "-" + cl.Slug()
				ixID := idgen.Child("ix", cs.ID, disc)
				if snap.Has(ixID) {
					continue
				}
				ix := &types.Node{
					ID:        ixID,
					Type:      types.TypeInteractionSpec,
					Status:    types.StatusOpen,
					Statement: fmt.Sprintf("%s via %s under %s", op, iface, state),
					Fields: map[string]string{
						"interface": iface,
						"operation": op,
						"state":     state,
					},
					Confidence: 1,
				}
				b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: ix})
				b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
					Edge: &types.Edge{From: ixID, To: cs.ID, Type: types.EdgeCoveredBy}})
				e.questionForBlanks(b, ix)
			}
		}
	}
}

// ScenarioCoverage aggregates coverage over every ChangeSpec reachable
// from the scenario (scenario -> requirements -> change specs). This is
// the arithmetic the scenario-by-state coverage proof reads.
func (e *Engine) ScenarioCoverage(snap *graph.Snapshot, scenarioID string) (expected, realized int, gaps []types.Gap) {
	for _, req := range snap.Children(scenarioID, types.TypeRequirement) {
		for _, cs := range snap.Children(req.ID, types.TypeChangeSpec) {
			exp, real := e.Coverage(snap, cs)
			expected += exp
			realized += real
			if real < exp {
				gaps = append(gaps, types.Gap{
					NodeID: cs.ID,
					Kind:   "interaction_coverage",
					Detail: fmt.Sprintf("expected %d interaction specs, have %d", exp, real),
				})
			}
		}
	}
	return expected, realized, gaps
}

// Readiness is the promote-to-Ready gate: every required child exists and
// is Ready or Open with no blockers, the interaction coverage gap is zero,
// and the node's own checklist is satisfied. Installed on the store via
// graph.WithReadinessCheck.
func (e *Engine) Readiness(snap *graph.Snapshot, id string) (bool, []string) {
	n, err := snap.Node(id)
	if err != nil {
		return false, []string{"unknown node"}
	}

	var missing []string
	for _, rule := range e.Table[n.Type] {
		if !rule.applies(n) {
			continue
		}
		kids := e.children(snap, n.ID, rule)
		if len(kids) < rule.Min {
			missing = append(missing, fmt.Sprintf("needs %d %s, has %d", rule.Min, rule.Child, len(kids)))
			continue
		}
		for _, kid := range kids {
			if kid.Status == types.StatusReady {
				continue
			}
			if kid.Status == types.StatusOpen && len(snap.BlockingQuestions(kid.ID)) == 0 {
				continue
			}
			missing = append(missing, fmt.Sprintf("child %s is %s with blockers", kid.ID, kid.Status))
		}
	}

	if n.Type == types.TypeChangeSpec {
		if exp, real := e.Coverage(snap, n); real < exp {
			missing = append(missing, fmt.Sprintf("interaction coverage %d/%d", real, exp))
		}
	}

	for _, f := range RequiredFields(n.Type) {
		if !fieldFilled(n, f) {
			missing = append(missing, "missing field "+f)
		}
	}
	return len(missing) == 0, missing
}
