package graph

import (
	"sort"

	"github.com/trellisplan/trellis/internal/types"
)

// Snapshot is an immutable view of the graph at a version. Engines within
// a pass all read the same snapshot; Apply never mutates nodes reachable
// from an existing snapshot (copy-on-write), so snapshots stay valid while
// the store moves on.
type Snapshot struct {
	version     int
	planVersion string
	nodes       map[string]*types.Node
	byType      map[types.NodeType]map[string]struct{}
	out         map[string][]types.Edge
	in          map[string][]types.Edge
	edgeCount   int
}

// Snapshot captures the current graph state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		version:     s.version,
		planVersion: s.planVersion,
		nodes:       make(map[string]*types.Node, len(s.nodes)),
		byType:      make(map[types.NodeType]map[string]struct{}, len(s.byType)),
		out:         make(map[string][]types.Edge, len(s.out)),
		in:          make(map[string][]types.Edge, len(s.in)),
		edgeCount:   len(s.edges),
	}
	for id, n := range s.nodes {
		snap.nodes[id] = n
	}
	for t, set := range s.byType {
		cp := make(map[string]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		snap.byType[t] = cp
	}
	for id, es := range s.out {
		snap.out[id] = es
	}
	for id, es := range s.in {
		snap.in[id] = es
	}
	return snap
}

// Version returns the store version this snapshot was taken at.
func (s *Snapshot) Version() int { return s.version }

// PlanVersion returns the plan version label at snapshot time.
func (s *Snapshot) PlanVersion() string { return s.planVersion }

// Node returns the node with the given id, or ErrNotFound.
func (s *Snapshot) Node(id string) (*types.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// Has reports whether a node exists.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.nodes[id]
	return ok
}

// NodeCount returns the total number of nodes, retired included.
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the total number of edges.
func (s *Snapshot) EdgeCount() int { return s.edgeCount }

// NodesByType returns live (non-retired) nodes of a type, sorted by id.
func (s *Snapshot) NodesByType(t types.NodeType) []*types.Node {
	set := s.byType[t]
	out := make([]*types.Node, 0, len(set))
	for id := range set {
		if n := s.nodes[id]; n != nil && !n.IsRetired() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllNodesByType includes retired nodes, sorted by id.
func (s *Snapshot) AllNodesByType(t types.NodeType) []*types.Node {
	set := s.byType[t]
	out := make([]*types.Node, 0, len(set))
	for id := range set {
		if n := s.nodes[id]; n != nil {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns all nodes matching the filter, sorted by id.
func (s *Snapshot) Nodes(filter types.NodeFilter) []*types.Node {
	var out []*types.Node
	for _, n := range s.nodes {
		if filter.Type != nil && n.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		if filter.UserFacing != nil && n.UserFacing != *filter.UserFacing {
			continue
		}
		if filter.Owner != "" && n.Owner != filter.Owner {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// EdgesFrom returns outgoing edges, optionally restricted to one type.
func (s *Snapshot) EdgesFrom(id string, et ...types.EdgeType) []types.Edge {
	return filterEdges(s.out[id], et)
}

// EdgesTo returns incoming edges, optionally restricted to one type.
func (s *Snapshot) EdgesTo(id string, et ...types.EdgeType) []types.Edge {
	return filterEdges(s.in[id], et)
}

func filterEdges(es []types.Edge, et []types.EdgeType) []types.Edge {
	if len(et) == 0 {
		return copyEdges(es)
	}
	var out []types.Edge
	for _, e := range es {
		for _, t := range et {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Edges returns every edge in the snapshot, sorted by key. Used by the
// persistence layer; queries should prefer EdgesFrom/EdgesTo.
func (s *Snapshot) Edges() []types.Edge {
	out := make([]types.Edge, 0, s.edgeCount)
	for _, es := range s.out {
		out = append(out, es...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// HasEdge reports whether the exact (from, to, type) edge exists.
func (s *Snapshot) HasEdge(from, to string, et types.EdgeType) bool {
	for _, e := range s.out[from] {
		if e.To == to && e.Type == et {
			return true
		}
	}
	return false
}

// Children returns live nodes of childType attached to parent by a
// covered_by or traces_to edge pointing at the parent.
func (s *Snapshot) Children(parentID string, childType types.NodeType) []*types.Node {
	var out []*types.Node
	for _, e := range s.in[parentID] {
		if e.Type != types.EdgeCoveredBy && e.Type != types.EdgeTracesTo {
			continue
		}
		n := s.nodes[e.From]
		if n != nil && n.Type == childType && !n.IsRetired() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BlockingQuestions returns unresolved OpenQuestions gating the node:
// either the node carries a gated_by edge to the question, or the question
// names the node in its blocks list.
func (s *Snapshot) BlockingQuestions(id string) []*types.Node {
	seen := make(map[string]bool)
	var out []*types.Node
	add := func(q *types.Node) {
		if q == nil || q.Type != types.TypeOpenQuestion || q.IsRetired() || q.IsResolved() {
			return
		}
		if !seen[q.ID] {
			seen[q.ID] = true
			out = append(out, q)
		}
	}
	for _, e := range s.out[id] {
		if e.Type == types.EdgeGatedBy {
			add(s.nodes[e.To])
		}
	}
	for qid := range s.byType[types.TypeOpenQuestion] {
		q := s.nodes[qid]
		if q == nil || q.Question == nil {
			continue
		}
		for _, blocked := range q.Question.Blocks {
			if blocked == id {
				add(q)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderingNeighbors returns the targets of ordering edges (depends_on,
// covered_by, traces_to) leaving the node, deduplicated and sorted.
func (s *Snapshot) OrderingNeighbors(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.out[id] {
		if !e.Type.AffectsOrdering() {
			continue
		}
		if !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	sort.Strings(out)
	return out
}

// Manifest computes summary counts over the snapshot.
func (s *Snapshot) Manifest() types.Manifest {
	m := types.Manifest{
		PlanVersion: s.planVersion,
		Nodes:       len(s.nodes),
		Edges:       s.edgeCount,
	}
	for _, n := range s.nodes {
		switch n.Status {
		case types.StatusReady:
			m.Ready++
		case types.StatusBlocked:
			m.Blocked++
		case types.StatusRetired:
			m.Retired++
		}
		if n.Type.IsUIType() && !n.IsRetired() {
			m.UINodes++
		}
		if n.Type == types.TypeOpenQuestion && !n.IsRetired() && !n.IsResolved() {
			m.Questions++
		}
	}
	return m
}
