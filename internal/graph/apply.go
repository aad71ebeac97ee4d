package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/types"
)

// Apply validates and applies a delta batch. Shape errors abort the whole
// batch with nothing applied (StructuralError). Contextually invalid ops
// are reported in Result.Rejected and skipped; everything else commits
// atomically. Re-applying a batch with the same content hash is a no-op.
func (s *Store) Apply(batch *delta.Batch) (*delta.Result, error) {
	if batch == nil || batch.IsEmpty() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return &delta.Result{Version: s.version}, nil
	}
	if err := batch.ValidateShape(); err != nil {
		return nil, fmt.Errorf("structural error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := batch.Hash()
	if v, done := s.applied[hash]; done {
		return &delta.Result{Version: v, Replayed: true}, nil
	}

	st := newStage(s)
	now := time.Now().UTC()

	// Ops run grouped by kind in the fixed application order, preserving
	// relative order within each group.
	order := make([]int, len(batch.Ops))
	for i := range order {
		order[i] = i
	}
	rank := func(k delta.Kind) int {
		switch k {
		case delta.KindAddNode:
			return 0
		case delta.KindAddEdge:
			return 1
		case delta.KindUpdateNode, delta.KindRecordUnaccounted, delta.KindPromoteStatus:
			return 2
		case delta.KindSplitNode, delta.KindMergeNodes:
			return 3
		default: // retire_node
			return 4
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rank(batch.Ops[order[a]].Kind) < rank(batch.Ops[order[b]].Kind)
	})

	var rejected []delta.Rejection
	reject := func(i int, op *delta.Op, reason delta.RejectReason, detail string) {
		rejected = append(rejected, delta.Rejection{
			Index: i, Kind: op.Kind, NodeID: op.TargetID(), Reason: reason, Detail: detail,
		})
	}

	for _, i := range order {
		op := &batch.Ops[i]
		switch op.Kind {
		case delta.KindAddNode:
			s.applyAddNode(st, i, op, now, batch.Actor, reject)
		case delta.KindAddEdge:
			s.applyAddEdge(st, i, op, now, batch.Actor, reject)
		case delta.KindUpdateNode:
			s.applyUpdate(st, i, op, now, reject)
		case delta.KindRecordUnaccounted:
			s.applyUnaccounted(st, i, op, now, reject)
		case delta.KindPromoteStatus:
			s.applyPromote(st, i, op, now, reject)
		case delta.KindSplitNode:
			s.applySplit(st, i, op, now, batch.Actor, reject)
		case delta.KindMergeNodes:
			s.applyMerge(st, i, op, now, batch.Actor, reject)
		case delta.KindRetireNode:
			s.applyRetire(st, i, op, now, reject)
		}
	}

	changed := st.commit(s)
	s.version++
	s.applied[hash] = s.version

	return &delta.Result{
		Changed:  changed,
		Rejected: rejected,
		Version:  s.version,
	}, nil
}

func (s *Store) applyAddNode(st *stage, i int, op *delta.Op, now time.Time, actor string, reject func(int, *delta.Op, delta.RejectReason, string)) {
	n := cloneNode(op.Node)
	n.SetDefaults()
	if existing := st.node(n.ID); existing != nil {
		if existing.ComputeContentHash() == n.ComputeContentHash() {
			return // idempotent re-add
		}
		reject(i, op, delta.ReasonDuplicateNode, "node exists with different content")
		return
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Owner == "" {
		n.Owner = actor
	}
	st.putNode(n)
}

func (s *Store) applyAddEdge(st *stage, i int, op *delta.Op, now time.Time, actor string, reject func(int, *delta.Op, delta.RejectReason, string)) {
	e := *op.Edge
	if st.node(e.From) == nil {
		reject(i, op, delta.ReasonDanglingEdge, "unknown from node "+e.From)
		return
	}
	if st.node(e.To) == nil {
		reject(i, op, delta.ReasonDanglingEdge, "unknown to node "+e.To)
		return
	}
	if e.Type.AffectsOrdering() && st.reachesOrdering(e.To, e.From) {
		reject(i, op, delta.ReasonOrderingCycle,
			fmt.Sprintf("%s -> %s closes an ordering cycle", e.From, e.To))
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.CreatedBy == "" {
		e.CreatedBy = actor
	}
	st.putEdge(e)
}

func (s *Store) applyUpdate(st *stage, i int, op *delta.Op, now time.Time, reject func(int, *delta.Op, delta.RejectReason, string)) {
	n := st.node(op.NodeID)
	if n == nil {
		reject(i, op, delta.ReasonUnknownNode, "")
		return
	}
	if n.IsRetired() {
		reject(i, op, delta.ReasonRetiredTarget, "retired nodes are immutable")
		return
	}
	cp := cloneNode(n)
	p := op.Patch
	if p.Statement != nil {
		cp.Statement = *p.Statement
	}
	if p.Owner != nil {
		cp.Owner = *p.Owner
	}
	if p.Estimate != nil {
		cp.Estimate = *p.Estimate
	}
	if p.Confidence != nil {
		cp.Confidence = *p.Confidence
	}
	if p.UserFacing != nil {
		cp.UserFacing = *p.UserFacing
	}
	for k, v := range p.Fields {
		if cp.Fields == nil {
			cp.Fields = make(map[string]string)
		}
		cp.Fields[k] = v
	}
	for k, v := range p.UIAnswers {
		if cp.UIAnswers == nil {
			cp.UIAnswers = make(map[string]string)
		}
		cp.UIAnswers[k] = v
	}
	cp.Evidence = append(cp.Evidence, p.Evidence...)
	if p.Resolution != nil {
		if cp.Type != types.TypeOpenQuestion || cp.Question == nil {
			reject(i, op, delta.ReasonUnknownVariant, "resolution patch on non-question node")
			return
		}
		q := *cp.Question
		q.Resolution = *p.Resolution
		cp.Question = &q
	}
	cp.UpdatedAt = now
	st.putNode(cp)
}

func (s *Store) applyUnaccounted(st *stage, i int, op *delta.Op, now time.Time, reject func(int, *delta.Op, delta.RejectReason, string)) {
	n := st.node(op.NodeID)
	if n == nil {
		reject(i, op, delta.ReasonUnknownNode, "")
		return
	}
	for _, item := range n.Unaccounted {
		if item.Item == op.Unaccounted.Item && item.Owner == op.Unaccounted.Owner {
			return // idempotent
		}
	}
	cp := cloneNode(n)
	cp.Unaccounted = append(cp.Unaccounted, *op.Unaccounted)
	cp.UpdatedAt = now
	st.putNode(cp)
}

func (s *Store) applyPromote(st *stage, i int, op *delta.Op, now time.Time, reject func(int, *delta.Op, delta.RejectReason, string)) {
	n := st.node(op.NodeID)
	if n == nil {
		reject(i, op, delta.ReasonUnknownNode, "")
		return
	}
	if n.Status == op.Status {
		return // idempotent
	}
	if !n.Status.CanTransitionTo(op.Status) {
		reject(i, op, delta.ReasonBadTransition, fmt.Sprintf("%s -> %s", n.Status, op.Status))
		return
	}
	if op.Status == types.StatusReady {
		snap := st.snapshot()
		if qs := snap.BlockingQuestions(n.ID); len(qs) > 0 {
			reject(i, op, delta.ReasonBadTransition, "unresolved open question "+qs[0].ID)
			return
		}
		if s.readiness != nil {
			if ok, missing := s.readiness(snap, n.ID); !ok {
				detail := "missing required children"
				if len(missing) > 0 {
					detail = "missing " + missing[0]
				}
				reject(i, op, delta.ReasonBadTransition, detail)
				return
			}
		}
	}
	cp := cloneNode(n)
	cp.Status = op.Status
	if op.Status == types.StatusRetired {
		t := now
		cp.RetiredAt = &t
	}
	cp.UpdatedAt = now
	st.putNode(cp)
}

func (s *Store) applyRetire(st *stage, i int, op *delta.Op, now time.Time, reject func(int, *delta.Op, delta.RejectReason, string)) {
	n := st.node(op.NodeID)
	if n == nil {
		reject(i, op, delta.ReasonUnknownNode, "")
		return
	}
	if n.IsRetired() {
		return // idempotent
	}
	cp := cloneNode(n)
	cp.Status = types.StatusRetired
	t := now
	cp.RetiredAt = &t
	cp.UpdatedAt = now
	if op.Reason != "" {
		cp.Evidence = append(cp.Evidence, types.Evidence{Kind: "rationale", Text: op.Reason})
	}
	st.putNode(cp)
}

// applySplit redistributes every incident edge of the source across the
// replacement nodes per the caller-supplied routing, then retires the
// source. The union of incident edges is preserved on the replacements.
func (s *Store) applySplit(st *stage, i int, op *delta.Op, now time.Time, actor string, reject func(int, *delta.Op, delta.RejectReason, string)) {
	src := st.node(op.NodeID)
	if src == nil {
		reject(i, op, delta.ReasonUnknownNode, "")
		return
	}
	if src.IsRetired() {
		reject(i, op, delta.ReasonRetiredTarget, "cannot split a retired node")
		return
	}
	for _, id := range op.Into {
		if st.node(id) == nil {
			reject(i, op, delta.ReasonDanglingEdge, "replacement node "+id+" does not exist")
			return
		}
	}

	intoSet := make(map[string]bool, len(op.Into))
	for _, id := range op.Into {
		intoSet[id] = true
	}
	route := func(key string) string {
		if to, ok := op.EdgeRouting[key]; ok && intoSet[to] {
			return to
		}
		return op.Into[0]
	}
	for _, e := range st.edgesOut(op.NodeID) {
		target := route(e.Key())
		st.dropEdge(e.Key())
		moved := e
		moved.From = target
		moved.CreatedAt = now
		if moved.From != moved.To {
			st.putEdge(moved)
		}
	}
	for _, e := range st.edgesIn(op.NodeID) {
		target := route(e.Key())
		st.dropEdge(e.Key())
		moved := e
		moved.To = target
		moved.CreatedAt = now
		if moved.From != moved.To {
			st.putEdge(moved)
		}
	}

	// Traceability: each replacement records its origin.
	for _, id := range op.Into {
		st.putEdge(types.Edge{
			From: id, To: op.NodeID, Type: types.EdgeEvolvedFrom,
			CreatedAt: now, CreatedBy: actor,
		})
	}

	cp := cloneNode(src)
	cp.Status = types.StatusRetired
	t := now
	cp.RetiredAt = &t
	cp.UpdatedAt = now
	st.putNode(cp)
}

// applyMerge reattaches all incident edges of each source to the target
// (created as a skeleton when absent), deduplicates the resulting parallel
// edges, and retires the sources.
func (s *Store) applyMerge(st *stage, i int, op *delta.Op, now time.Time, actor string, reject func(int, *delta.Op, delta.RejectReason, string)) {
	var srcs []*types.Node
	for _, id := range op.Sources {
		n := st.node(id)
		if n == nil {
			reject(i, op, delta.ReasonUnknownNode, "source "+id)
			return
		}
		srcs = append(srcs, n)
	}

	merging := make(map[string]bool, len(op.Sources)+1)
	for _, id := range op.Sources {
		merging[id] = true
	}
	merging[op.Target] = true

	if st.node(op.Target) == nil {
		first := srcs[0]
		skeleton := &types.Node{
			ID:         op.Target,
			Type:       first.Type,
			Status:     types.StatusOpen,
			Statement:  first.Statement,
			Owner:      first.Owner,
			Confidence: first.Confidence,
			UserFacing: first.UserFacing,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		st.putNode(skeleton)
	}

	for _, src := range srcs {
		for _, e := range st.edgesOut(src.ID) {
			st.dropEdge(e.Key())
			if merging[e.To] {
				continue
			}
			moved := e
			moved.From = op.Target
			moved.CreatedAt = now
			st.putEdge(moved)
		}
		for _, e := range st.edgesIn(src.ID) {
			st.dropEdge(e.Key())
			if merging[e.From] {
				continue
			}
			moved := e
			moved.To = op.Target
			moved.CreatedAt = now
			st.putEdge(moved)
		}
		st.putEdge(types.Edge{
			From: op.Target, To: src.ID, Type: types.EdgeEvolvedFrom,
			CreatedAt: now, CreatedBy: actor,
		})
		cp := cloneNode(src)
		cp.Status = types.StatusRetired
		t := now
		cp.RetiredAt = &t
		cp.UpdatedAt = now
		st.putNode(cp)
	}
}

// cloneNode deep-copies a node so staged writes never alias live state.
func cloneNode(n *types.Node) *types.Node {
	cp := *n
	if n.Fields != nil {
		cp.Fields = make(map[string]string, len(n.Fields))
		for k, v := range n.Fields {
			cp.Fields[k] = v
		}
	}
	if n.UIAnswers != nil {
		cp.UIAnswers = make(map[string]string, len(n.UIAnswers))
		for k, v := range n.UIAnswers {
			cp.UIAnswers[k] = v
		}
	}
	cp.Evidence = append([]types.Evidence(nil), n.Evidence...)
	cp.Unaccounted = append([]types.UnaccountedItem(nil), n.Unaccounted...)
	if n.Question != nil {
		q := *n.Question
		q.Blocks = append([]string(nil), n.Question.Blocks...)
		cp.Question = &q
	}
	if n.RetiredAt != nil {
		t := *n.RetiredAt
		cp.RetiredAt = &t
	}
	return &cp
}

// stage is the all-or-nothing overlay a batch is applied into before commit.
type stage struct {
	store     *Store
	nodes     map[string]*types.Node // staged node states (additions and rewrites)
	added     map[string]types.Edge  // staged edge additions by key
	removed   map[string]bool        // staged edge removals by key
	changedID map[string]bool
}

func newStage(s *Store) *stage {
	return &stage{
		store:     s,
		nodes:     make(map[string]*types.Node),
		added:     make(map[string]types.Edge),
		removed:   make(map[string]bool),
		changedID: make(map[string]bool),
	}
}

func (st *stage) node(id string) *types.Node {
	if n, ok := st.nodes[id]; ok {
		return n
	}
	return st.store.nodes[id]
}

func (st *stage) putNode(n *types.Node) {
	st.nodes[n.ID] = n
	st.changedID[n.ID] = true
}

func (st *stage) putEdge(e types.Edge) {
	key := e.Key()
	if st.removed[key] {
		delete(st.removed, key)
	}
	if _, live := st.store.edges[key]; live && !st.removed[key] {
		return // dedupe against live state
	}
	if _, dup := st.added[key]; dup {
		return
	}
	st.added[key] = e
	st.changedID[e.From] = true
	st.changedID[e.To] = true
}

func (st *stage) dropEdge(key string) {
	if _, ok := st.added[key]; ok {
		delete(st.added, key)
		return
	}
	if _, live := st.store.edges[key]; live {
		st.removed[key] = true
	}
}

func (st *stage) edgesOut(id string) []types.Edge {
	var out []types.Edge
	for _, e := range st.store.out[id] {
		if !st.removed[e.Key()] {
			out = append(out, e)
		}
	}
	for _, e := range st.added {
		if e.From == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// reachesOrdering reports whether dst is reachable from src over live
// ordering edges in the staged view. Apply rejects any add_edge op that
// would close an ordering cycle; proposers never see one because the
// cycle guard rewrites their back-edges into remediations first, so this
// is the backstop for externally authored batches.
func (st *stage) reachesOrdering(src, dst string) bool {
	if src == dst {
		return true
	}
	seen := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range st.edgesOut(id) {
			if !e.Type.AffectsOrdering() {
				continue
			}
			if n := st.node(e.To); n == nil || n.IsRetired() {
				continue
			}
			if e.To == dst {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

func (st *stage) edgesIn(id string) []types.Edge {
	var out []types.Edge
	for _, e := range st.store.in[id] {
		if !st.removed[e.Key()] {
			out = append(out, e)
		}
	}
	for _, e := range st.added {
		if e.To == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// snapshot materializes the staged state as a read-only Snapshot so gates
// (open questions, readiness) evaluate mid-batch state, not pre-batch state.
func (st *stage) snapshot() *Snapshot {
	snap := &Snapshot{
		version:     st.store.version,
		planVersion: st.store.planVersion,
		nodes:       make(map[string]*types.Node, len(st.store.nodes)+len(st.nodes)),
		byType:      make(map[types.NodeType]map[string]struct{}),
		out:         make(map[string][]types.Edge),
		in:          make(map[string][]types.Edge),
	}
	for id, n := range st.store.nodes {
		snap.nodes[id] = n
	}
	for id, n := range st.nodes {
		snap.nodes[id] = n
	}
	for id, n := range snap.nodes {
		set, ok := snap.byType[n.Type]
		if !ok {
			set = make(map[string]struct{})
			snap.byType[n.Type] = set
		}
		set[id] = struct{}{}
	}
	addEdge := func(e types.Edge) {
		snap.out[e.From] = append(snap.out[e.From], e)
		snap.in[e.To] = append(snap.in[e.To], e)
		snap.edgeCount++
	}
	for key, e := range st.store.edges {
		if !st.removed[key] {
			addEdge(e)
		}
	}
	for _, e := range st.added {
		addEdge(e)
	}
	return snap
}

// commit installs the staged state into the store. Caller holds the write
// lock. Returns the sorted changed node ids.
func (st *stage) commit(s *Store) []string {
	for key := range st.removed {
		s.removeEdgeLocked(key)
	}
	for id, n := range st.nodes {
		if old, ok := s.nodes[id]; ok && old.Type != n.Type {
			delete(s.byType[old.Type], id)
		}
		s.indexNode(n)
	}
	for _, e := range st.added {
		s.addEdgeLocked(e)
	}
	changed := make([]string, 0, len(st.changedID))
	for id := range st.changedID {
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}
