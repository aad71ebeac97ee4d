// Package graph holds the authoritative plan graph state. All mutation
// funnels through Store.Apply; components read through immutable snapshots.
package graph

import (
	"errors"
	"sync"

	"github.com/trellisplan/trellis/internal/types"
)

// ErrNotFound is returned when a requested node does not exist.
var ErrNotFound = errors.New("not found")

// ReadinessCheck reports whether a node may graduate to Ready. The
// expansion engine supplies the real implementation (required children per
// the expansion table plus the type checklist); a nil check only enforces
// the open-question gate.
type ReadinessCheck func(snap *Snapshot, id string) (ok bool, missing []string)

// Store is the single source of truth for graph state. It is safe for
// concurrent readers; writes are serialized through Apply.
type Store struct {
	mu sync.RWMutex

	nodes  map[string]*types.Node
	byType map[types.NodeType]map[string]struct{}
	edges  map[string]types.Edge // by Edge.Key
	out    map[string][]types.Edge
	in     map[string][]types.Edge

	applied     map[string]int // batch content hash -> version it produced
	version     int
	planVersion string

	readiness ReadinessCheck
}

// Option configures a Store.
type Option func(*Store)

// WithReadinessCheck installs the promote-to-Ready gate.
func WithReadinessCheck(fn ReadinessCheck) Option {
	return func(s *Store) { s.readiness = fn }
}

// WithPlanVersion sets the initial plan version label.
func WithPlanVersion(v string) Option {
	return func(s *Store) { s.planVersion = v }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:       make(map[string]*types.Node),
		byType:      make(map[types.NodeType]map[string]struct{}),
		edges:       make(map[string]types.Edge),
		out:         make(map[string][]types.Edge),
		in:          make(map[string][]types.Edge),
		applied:     make(map[string]int),
		planVersion: "v1",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore builds a store from previously persisted state. Nodes and edges
// are installed as-is: no defaulting, validation, or timestamping happens,
// so a load round-trips exactly what Save wrote. The apply counter starts
// at zero; only the plan version label survives restarts.
func Restore(planVersion string, nodes []*types.Node, edges []types.Edge, opts ...Option) *Store {
	s := New(opts...)
	if planVersion != "" {
		s.planVersion = planVersion
	}
	for _, n := range nodes {
		s.indexNode(cloneNode(n))
	}
	for _, e := range edges {
		s.addEdgeLocked(e)
	}
	return s
}

// Version returns the monotonically increasing apply counter.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// PlanVersion returns the human-facing plan version label.
func (s *Store) PlanVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.planVersion
}

// SetPlanVersion updates the plan version label. Called by the pass
// orchestrator when a pass commits.
func (s *Store) SetPlanVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planVersion = v
}

// SetReadinessCheck installs the promote gate after construction. The
// expansion engine needs a store-independent snapshot to evaluate, so the
// two are wired together by the orchestrator.
func (s *Store) SetReadinessCheck(fn ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = fn
}

// indexNode installs a node into the type index. Caller holds the lock.
func (s *Store) indexNode(n *types.Node) {
	s.nodes[n.ID] = n
	set, ok := s.byType[n.Type]
	if !ok {
		set = make(map[string]struct{})
		s.byType[n.Type] = set
	}
	set[n.ID] = struct{}{}
}

// addEdgeLocked installs an edge into all indexes. Caller holds the lock.
func (s *Store) addEdgeLocked(e types.Edge) {
	key := e.Key()
	if _, dup := s.edges[key]; dup {
		return
	}
	s.edges[key] = e
	s.out[e.From] = append(copyEdges(s.out[e.From]), e)
	s.in[e.To] = append(copyEdges(s.in[e.To]), e)
}

// removeEdgeLocked removes an edge from all indexes. Caller holds the lock.
func (s *Store) removeEdgeLocked(key string) {
	e, ok := s.edges[key]
	if !ok {
		return
	}
	delete(s.edges, key)
	s.out[e.From] = dropEdge(s.out[e.From], key)
	s.in[e.To] = dropEdge(s.in[e.To], key)
}

// copyEdges clones a slice so snapshots never share backing arrays with
// later writes.
func copyEdges(es []types.Edge) []types.Edge {
	out := make([]types.Edge, len(es))
	copy(out, es)
	return out
}

func dropEdge(es []types.Edge, key string) []types.Edge {
	out := make([]types.Edge, 0, len(es))
	for _, e := range es {
		if e.Key() != key {
			out = append(out, e)
		}
	}
	return out
}
