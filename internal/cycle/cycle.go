// Package cycle keeps the ordering subgraph acyclic. Detection is a
// depth-first search over depends_on/covered_by/traces_to edges; when a
// proposed edge would close a cycle, the edge is not applied raw — it is
// rewritten into one of five remediation patterns, each expressed as
// ordinary delta ops so the rewrite is auditable and replayable.
//
// Dropping the offending edge outright is not an option: the back-edge
// carries bottom-up discovery information, and discarding it strands the
// insight that produced it.
package cycle

import (
	"sort"
	"strings"
	"time"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

// Pattern names the remediation applied to a would-be cycle.
type Pattern string

const (
	// PatternQuestionVersioning replaces the back-edge with an
	// OpenQuestion whose resolution supersedes the target with a new
	// version. The default when no more specific shape matches.
	PatternQuestionVersioning Pattern = "open_question_versioning"

	// PatternCapabilityEvolution inserts an Evaluation between a
	// requirement and a new version of the capability it forces to evolve.
	PatternCapabilityEvolution Pattern = "capability_evolution_chain"

	// PatternConcernAggregation merges several back-edges into one
	// forward edge from a new cross-cutting Concern node.
	PatternConcernAggregation Pattern = "cross_cutting_aggregator"

	// PatternFeedbackAggregation is the Concern shape specialized for
	// consolidating qualitative findings from Feedback nodes.
	PatternFeedbackAggregation Pattern = "feedback_aggregation"

	// PatternEvaluationGate inserts an Evaluation node as an explicit
	// go/no-go before another iteration of the target.
	PatternEvaluationGate Pattern = "evaluation_gate"
)

// Remediation records one rewritten edge: the edge that was intercepted,
// the cycle it would have closed, and the pattern used instead.
type Remediation struct {
	Pattern Pattern    `json:"pattern"`
	Edge    types.Edge `json:"edge"`
	Cycle   []string   `json:"cycle"`
}

// Check finds cycles in the live ordering subgraph. O(V+E) depth-first
// search; a back-edge to a node on the recursion stack is a cycle, reported
// as its full node sequence. Retired nodes are outside the ordering
// subgraph. Deterministic: start nodes and neighbors visit in id order.
func Check(snap *graph.Snapshot) [][]string {
	live := func(id string) bool {
		n, err := snap.Node(id)
		return err == nil && !n.IsRetired()
	}

	var ids []string
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if !n.IsRetired() {
			ids = append(ids, n.ID)
		}
	}

	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string)
	dfs = func(node string) {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, neighbor := range snap.OrderingNeighbors(node) {
			if !live(neighbor) {
				continue
			}
			if !visited[neighbor] {
				dfs(neighbor)
			} else if recStack[neighbor] {
				// Found cycle: slice it out of the current path.
				for i, n := range path {
					if n == neighbor {
						cyc := make([]string, len(path)-i)
						copy(cyc, path[i:])
						cycles = append(cycles, normalize(cyc))
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
	}

	for _, id := range ids {
		if !visited[id] {
			dfs(id)
		}
	}
	return dedupe(cycles)
}

// normalize rotates a cycle so the smallest id comes first, making the
// same cycle report identically regardless of where the search entered it.
func normalize(cyc []string) []string {
	min := 0
	for i := range cyc {
		if cyc[i] < cyc[min] {
			min = i
		}
	}
	out := make([]string, 0, len(cyc))
	out = append(out, cyc[min:]...)
	out = append(out, cyc[:min]...)
	return out
}

func dedupe(cycles [][]string) [][]string {
	seen := make(map[string]bool)
	var out [][]string
	for _, c := range cycles {
		key := strings.Join(c, "\x00")
		if !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], "\x00") < strings.Join(out[j], "\x00")
	})
	return out
}

// Guard intercepts proposed batches before they reach Apply, rewriting any
// add_edge op that would close an ordering cycle.
type Guard struct {
	snap *graph.Snapshot

	// DefaultOwner owns remediation OpenQuestions when neither endpoint
	// carries an owner.
	DefaultOwner string

	// QuestionLeadTime sets the due date on remediation OpenQuestions.
	QuestionLeadTime time.Duration

	now func() time.Time
}

// NewGuard builds a guard over the snapshot the batch will apply against.
func NewGuard(snap *graph.Snapshot) *Guard {
	return &Guard{
		snap:             snap,
		DefaultOwner:     "unassigned",
		QuestionLeadTime: 72 * time.Hour,
		now:              time.Now,
	}
}

// Filter returns a batch safe to apply: every offending add_edge op is
// replaced by the ops of its remediation pattern, everything else passes
// through untouched. The returned remediations describe what was rewritten.
func (g *Guard) Filter(b *delta.Batch) (*delta.Batch, []Remediation) {
	if b == nil || b.IsEmpty() {
		return b, nil
	}

	// Overlay adjacency: snapshot ordering edges plus edges kept so far,
	// so intra-batch cycles are caught too. Nodes created by this batch
	// count as live.
	extra := make(map[string][]string)
	staged := make(map[string]bool)
	for i := range b.Ops {
		if b.Ops[i].Kind == delta.KindAddNode && b.Ops[i].Node != nil {
			staged[b.Ops[i].Node.ID] = true
		}
	}
	reach := func(from, to string) ([]string, bool) {
		return g.pathBetween(from, to, extra, staged)
	}

	// First pass: find the offending edges and keep the rest.
	var offenses []offense
	out := &delta.Batch{Actor: b.Actor}
	for i := range b.Ops {
		op := b.Ops[i]
		if op.Kind != delta.KindAddEdge || op.Edge == nil || !op.Edge.Type.AffectsOrdering() {
			out.Ops = append(out.Ops, op)
			continue
		}
		e := *op.Edge
		if path, found := reach(e.To, e.From); found {
			offenses = append(offenses, offense{op: op, cycle: append(path, e.To)})
			continue
		}
		extra[e.From] = append(extra[e.From], e.To)
		out.Ops = append(out.Ops, op)
	}
	if len(offenses) == 0 {
		return out, nil
	}

	// Group offending edges by target: several leaves discovering the same
	// parent get one aggregator, not N question nodes.
	byTarget := make(map[string][]offense)
	var targets []string
	for _, o := range offenses {
		t := o.op.Edge.To
		if len(byTarget[t]) == 0 {
			targets = append(targets, t)
		}
		byTarget[t] = append(byTarget[t], o)
	}
	sort.Strings(targets)

	var rems []Remediation
	for _, target := range targets {
		group := byTarget[target]
		pattern := g.classify(group)
		ops := g.rewrite(pattern, target, group)
		out.Ops = append(out.Ops, ops...)
		for _, o := range group {
			rems = append(rems, Remediation{Pattern: pattern, Edge: *o.op.Edge, Cycle: o.cycle})
		}
	}
	out.SortOps()
	return out, rems
}

// pathBetween finds a live ordering path from -> to, returning the node
// sequence when one exists. Iterative DFS with sorted neighbor order.
func (g *Guard) pathBetween(from, to string, extra map[string][]string, staged map[string]bool) ([]string, bool) {
	if from == to {
		return []string{from}, true
	}
	live := func(id string) bool {
		n, err := g.snap.Node(id)
		if err != nil {
			return staged[id]
		}
		return !n.IsRetired()
	}
	neighbors := func(id string) []string {
		merged := append(g.snap.OrderingNeighbors(id), extra[id]...)
		sort.Strings(merged)
		return merged
	}

	parent := map[string]string{from: ""}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, nb := range neighbors(cur) {
			if _, seen := parent[nb]; seen || !live(nb) {
				continue
			}
			parent[nb] = cur
			if nb == to {
				var path []string
				for n := to; n != ""; n = parent[n] {
					path = append([]string{n}, path...)
				}
				return path, true
			}
			stack = append(stack, nb)
		}
	}
	return nil, false
}

// classify picks the remediation pattern from the shape of the offense.
func (g *Guard) classify(group []offense) Pattern {
	e := group[0].op.Edge
	srcType := g.nodeType(e.From)
	dstType := g.nodeType(e.To)

	if len(group) > 1 {
		allFeedback := true
		for _, o := range group {
			if g.nodeType(o.op.Edge.From) != types.TypeFeedback {
				allFeedback = false
				break
			}
		}
		if allFeedback {
			return PatternFeedbackAggregation
		}
		return PatternConcernAggregation
	}
	switch {
	case srcType == types.TypeRequirement && dstType == types.TypeCapability:
		return PatternCapabilityEvolution
	case srcType == types.TypeEvaluation || dstType == types.TypeEvaluation:
		return PatternEvaluationGate
	default:
		// Leaf discovering a gap in its own ancestor, and every shape we
		// cannot name: question the target and version it forward.
		return PatternQuestionVersioning
	}
}

func (g *Guard) nodeType(id string) types.NodeType {
	n, err := g.snap.Node(id)
	if err != nil {
		return ""
	}
	return n.Type
}

// offense is one intercepted edge with the cycle it would have closed.
type offense struct {
	op    delta.Op
	cycle []string
}
