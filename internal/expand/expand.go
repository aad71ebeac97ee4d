// Package expand grows the plan graph. Frontier finds every nonterminal
// missing a required child from the expansion table; Expand emits skeleton
// children in Open status plus their connecting edges. Field content is
// never guessed: a required field the engine cannot derive becomes an
// OpenQuestion on the new node instead of a fabricated value.
//
// ChangeSpec leaves are covered per state cluster: one InteractionSpec is
// required for every (interface, operation, cluster) tuple, and the
// expected/realized arithmetic here is what the coverage proof reads.
package expand

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/types"
)

// Engine holds the expansion table and state factors for one plan.
type Engine struct {
	Table   Table
	Factors []Factor

	// DefaultOwner owns the OpenQuestions raised for underivable fields.
	DefaultOwner string

	// QuestionLeadTime sets how far out question due dates land.
	QuestionLeadTime time.Duration

	now func() time.Time
}

// New builds an engine with the default table and factors.
func New() *Engine {
	return &Engine{
		Table:            DefaultTable(),
		Factors:          DefaultFactors(),
		DefaultOwner:     "unassigned",
		QuestionLeadTime: 72 * time.Hour,
		now:              time.Now,
	}
}

// Frontier returns every live node missing at least one required child,
// sorted by id. ChangeSpecs with an interaction coverage gap count as
// unexpanded.
func (e *Engine) Frontier(snap *graph.Snapshot) []string {
	var out []string
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() {
			continue
		}
		if len(e.missingRules(snap, n)) > 0 {
			out = append(out, n.ID)
			continue
		}
		if n.Type == types.TypeChangeSpec {
			if exp, real := e.Coverage(snap, n); real < exp {
				out = append(out, n.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// missingRules returns the table rules the node does not yet satisfy.
func (e *Engine) missingRules(snap *graph.Snapshot, n *types.Node) []ChildRule {
	var missing []ChildRule
	for _, rule := range e.Table[n.Type] {
		if !rule.applies(n) {
			continue
		}
		if e.countChildren(snap, n.ID, rule) < rule.Min {
			missing = append(missing, rule)
		}
	}
	return missing
}

// countChildren counts live children per the edge convention: covered_by
// and traces_to point child -> parent, depends_on points parent -> child.
func (e *Engine) countChildren(snap *graph.Snapshot, id string, rule ChildRule) int {
	if rule.Edge == types.EdgeDependsOn {
		count := 0
		for _, edge := range snap.EdgesFrom(id, types.EdgeDependsOn) {
			if c, err := snap.Node(edge.To); err == nil && c.Type == rule.Child && !c.IsRetired() {
				count++
			}
		}
		return count
	}
	return len(snap.Children(id, rule.Child))
}

// children returns the live child nodes for a rule, sorted by id.
func (e *Engine) children(snap *graph.Snapshot, id string, rule ChildRule) []*types.Node {
	if rule.Edge == types.EdgeDependsOn {
		var out []*types.Node
		for _, edge := range snap.EdgesFrom(id, types.EdgeDependsOn) {
			if c, err := snap.Node(edge.To); err == nil && c.Type == rule.Child && !c.IsRetired() {
				out = append(out, c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}
	return snap.Children(id, rule.Child)
}

// Expand emits the delta ops that close one node's expansion gap: skeleton
// children for unsatisfied table rules, missing InteractionSpecs for a
// ChangeSpec's uncovered clusters, and OpenQuestions for every required
// field the skeletons leave blank.
func (e *Engine) Expand(snap *graph.Snapshot, id string) (*delta.Batch, error) {
	n, err := snap.Node(id)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", id, err)
	}
	if n.IsRetired() {
		return nil, fmt.Errorf("expanding %s: node is retired", id)
	}

	b := &delta.Batch{Actor: "expand"}
	for _, rule := range e.missingRules(snap, n) {
		have := e.countChildren(snap, n.ID, rule)
		for i := have; i < rule.Min; i++ {
			disc := ""
			if rule.Min > 1 {
				disc = fmt.Sprintf("%d", i+1)
			}
			childID := idgen.Child(rule.Prefix, n.ID, disc)
			if snap.Has(childID) {
				continue
			}
			child := e.skeleton(childID, rule.Child, n)
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: child})
			b.Ops = append(b.Ops, e.connect(n.ID, childID, rule))
			e.questionForBlanks(b, child)
		}
	}

	if n.Type == types.TypeChangeSpec {
		e.expandInteractions(snap, n, b)
	}
	b.SortOps()
	return b, nil
}

// Propose expands the whole frontier against one snapshot, producing the
// structural proposal for a pass.
func (e *Engine) Propose(snap *graph.Snapshot) (*delta.Batch, error) {
	var batches []*delta.Batch
	for _, id := range e.Frontier(snap) {
		b, err := e.Expand(snap, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return delta.Merge("expand", batches...), nil
}

// connect builds the edge op joining parent and skeleton child under the
// package edge convention.
func (e *Engine) connect(parentID, childID string, rule ChildRule) delta.Op {
	edge := &types.Edge{From: childID, To: parentID, Type: rule.Edge}
	if rule.Edge == types.EdgeDependsOn {
		edge = &types.Edge{From: parentID, To: childID, Type: types.EdgeDependsOn}
	}
	return delta.Op{Kind: delta.KindAddEdge, Edge: edge}
}

// skeleton builds an Open child node. The statement is derived from the
// parent (a restatement, not invented content); everything else stays blank
// for the questions to chase.
func (e *Engine) skeleton(id string, nt types.NodeType, parent *types.Node) *types.Node {
	stmt := parent.Statement
	if stmt == "" {
		stmt = parent.ID
	}
	n := &types.Node{
		ID:         id,
		Type:       nt,
		Status:     types.StatusOpen,
		Confidence: 1,
	}
	switch nt {
	case types.TypeScenario:
		n.Statement = fmt.Sprintf("Happy path scenario for %s", stmt)
	case types.TypeRequirement:
		n.Statement = fmt.Sprintf("Requirement realizing %s", stmt)
	case types.TypeCapability:
		n.Statement = fmt.Sprintf("Capability delivering %s", stmt)
	case types.TypeContract:
		n.Statement = fmt.Sprintf("API contract for %s", stmt)
	case types.TypeChangeSpec:
		n.Statement = fmt.Sprintf("Implement %s", stmt)
	default:
		n.Statement = fmt.Sprintf("%s for %s", nt, stmt)
	}
	return n
}

// questionForBlanks appends one OpenQuestion covering every required field
// the skeleton cannot derive. No question when the type has no checklist.
func (e *Engine) questionForBlanks(b *delta.Batch, n *types.Node) {
	var blanks []string
	for _, f := range RequiredFields(n.Type) {
		if !fieldFilled(n, f) {
			blanks = append(blanks, f)
		}
	}
	if len(blanks) == 0 {
		return
	}
	// The full child id stays in the question id: sibling skeletons with
	// identical tails (contract:profile vs change:profile) must not collide.
	qid := "q:" + n.ID + ":fields"
	q := &types.Node{
		ID:        qid,
		Type:      types.TypeOpenQuestion,
		Status:    types.StatusOpen,
		Statement: fmt.Sprintf("%s needs %s", n.ID, strings.Join(blanks, ", ")),
		Question: &types.QuestionDetail{
			Owner:       e.DefaultOwner,
			Due:         e.now().Add(e.QuestionLeadTime),
			Blocks:      []string{n.ID},
			HardBlocker: true,
		},
		Confidence: 1,
	}
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: q})
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge, Edge: &types.Edge{From: n.ID, To: qid, Type: types.EdgeGatedBy}})
}

// fieldFilled maps checklist names onto the node: owner and estimate live
// on the struct, everything else in Fields.
func fieldFilled(n *types.Node, name string) bool {
	switch name {
	case "owner":
		return n.Owner != ""
	case "estimate":
		return n.Estimate != ""
	default:
		return n.Fields[name] != ""
	}
}
