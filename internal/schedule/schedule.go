// Package schedule emits the work order for a plan: a deterministic
// topological sort over the ordering subgraph, restricted to leaves that
// pass the work-start gate. Nothing here mutates the graph.
package schedule

import (
	"fmt"
	"sort"

	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

// workTypes are the node types the scheduler hands out as tasks. Parents
// (Scenario, Capability, ...) are planning structure, not work items.
var workTypes = map[types.NodeType]bool{
	types.TypeChangeSpec:      true,
	types.TypeInteractionSpec: true,
	types.TypeMigrationSpec:   true,
}

// IsWorkType reports whether nodes of this type are handed out as tasks.
func IsWorkType(nt types.NodeType) bool { return workTypes[nt] }

// Scheduler orders ready work. The zero value is not usable; call New.
type Scheduler struct {
	// Lanes ranks the values of a node's "lane" field for tie-breaks in
	// Order: work in earlier lanes is handed out first. Nodes with no
	// lane, or a lane not listed here, sort after every listed lane.
	Lanes []string
}

// New returns a Scheduler.
func New() *Scheduler { return &Scheduler{} }

// Gate is the work-start gate. A node may enter the task order only when
// every clause holds; the returned reasons list what is still missing.
func (s *Scheduler) Gate(snap *graph.Snapshot, id string) (bool, []string) {
	n, err := snap.Node(id)
	if err != nil {
		return false, []string{"unknown node"}
	}

	var reasons []string
	if n.Status != types.StatusReady {
		reasons = append(reasons, fmt.Sprintf("status is %s, not ready", n.Status))
	}
	if qs := snap.BlockingQuestions(id); len(qs) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d blocking open questions", len(qs)))
	}
	for _, e := range snap.EdgesFrom(id, types.EdgeDependsOn) {
		up, err := snap.Node(e.To)
		if err != nil {
			continue
		}
		if (up.Type == types.TypeContract || up.Type == types.TypeDataContract) && up.Status != types.StatusReady {
			reasons = append(reasons, fmt.Sprintf("upstream contract %s is %s", up.ID, up.Status))
		}
	}
	for _, m := range snap.Children(id, types.TypeMigrationSpec) {
		if m.Owner == "" || m.Estimate == "" {
			reasons = append(reasons, fmt.Sprintf("migration %s is not scheduled", m.ID))
		}
	}
	if n.Type == types.TypeChangeSpec || n.Type == types.TypeInteractionSpec {
		if n.Fields["acceptance"] == "" {
			reasons = append(reasons, "no acceptance checks defined")
		}
	}
	if n.Owner == "" {
		reasons = append(reasons, "no owner")
	}
	if n.Estimate == "" {
		reasons = append(reasons, "no estimate")
	}
	if n.UserFacing && !n.Type.IsUIType() {
		ready, total := uiArtifacts(snap, id)
		if total == 0 {
			reasons = append(reasons, "user-facing but no UI artifacts projected")
		} else if ready < total {
			reasons = append(reasons, fmt.Sprintf("UI artifacts not ready (%d/%d)", ready, total))
		}
	}
	return len(reasons) == 0, reasons
}

// uiArtifacts counts the projected UI nodes paired with a source node. An
// Exclusion also satisfies the pairing: declared no-UI is a decision, not
// a gap.
func uiArtifacts(snap *graph.Snapshot, id string) (ready, total int) {
	for _, e := range snap.EdgesTo(id, types.EdgeTracesTo) {
		a, err := snap.Node(e.From)
		if err != nil || a.IsRetired() {
			continue
		}
		if a.Type == types.TypeExclusion {
			ready++
			total++
			continue
		}
		if a.Type.IsUIType() {
			total++
			if a.Status == types.StatusReady {
				ready++
			}
		}
	}
	return ready, total
}

// Order returns the task order: every work-item leaf passing the gate,
// topologically sorted so prerequisites come first. Ordering edges leaving
// a node point at its prerequisites (depends_on at the dependency,
// covered_by and traces_to at the parent being satisfied), so a node is
// emitted only after every gated prerequisite it points at. Ties break by
// lane rank, then ascending id.
func (s *Scheduler) Order(snap *graph.Snapshot) []string {
	gated := make(map[string]bool)
	var ids []string
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() || !workTypes[n.Type] {
			continue
		}
		if ok, _ := s.Gate(snap, n.ID); ok {
			gated[n.ID] = true
			ids = append(ids, n.ID)
		}
	}

	// Kahn over the induced subgraph. Prerequisites of id are the gated
	// targets of its ordering out-edges.
	indegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, id := range ids {
		for _, pre := range snap.OrderingNeighbors(id) {
			if !gated[pre] || pre == id {
				continue
			}
			indegree[id]++
			dependents[pre] = append(dependents[pre], id)
		}
	}

	laneRank := make(map[string]int, len(s.Lanes))
	for i, l := range s.Lanes {
		laneRank[l] = i
	}
	rankOf := func(id string) int {
		n, err := snap.Node(id)
		if err != nil {
			return len(s.Lanes)
		}
		if r, ok := laneRank[n.Fields["lane"]]; ok {
			return r
		}
		return len(s.Lanes)
	}
	sortFrontier := func(frontier []string) {
		sort.Slice(frontier, func(i, j int) bool {
			ri, rj := rankOf(frontier[i]), rankOf(frontier[j])
			if ri != rj {
				return ri < rj
			}
			return frontier[i] < frontier[j]
		})
	}

	var frontier []string
	for _, id := range ids {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	sortFrontier(frontier)

	out := make([]string, 0, len(ids))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		out = append(out, id)
		changed := false
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
				changed = true
			}
		}
		if changed {
			sortFrontier(frontier)
		}
	}
	// Anything left has an ordering cycle among gated leaves; the cycle
	// proof reports it, the schedule just omits it.
	return out
}
