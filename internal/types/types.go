// Package types defines core data structures for the trellis plan graph.
package types

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// Node is a single vertex in the plan graph. Nodes are never mutated in
// place by callers; every change flows through a delta batch.
type Node struct {
	ID        string            `json:"id"`
	Type      NodeType          `json:"type"`
	Status    Status            `json:"status,omitempty"`
	Statement string            `json:"stmt,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Owner     string            `json:"owner,omitempty"`
	Estimate  string            `json:"estimate,omitempty"`
	Evidence  []Evidence        `json:"evidence,omitempty"`

	// Confidence is the authoring certainty for this node's content, in
	// [0,1]. Values below the configured threshold block the branch.
	Confidence float64 `json:"confidence,omitempty"`

	// UserFacing marks nodes that must answer the UI projection protocol.
	UserFacing bool `json:"user_facing,omitempty"`

	// UIAnswers holds questionnaire answers keyed by question id.
	UIAnswers map[string]string `json:"ui_answers,omitempty"`

	// Unaccounted records skipped or deferred items with owner and due date.
	Unaccounted []UnaccountedItem `json:"unaccounted,omitempty"`

	// Question is set only for OpenQuestion nodes.
	Question *QuestionDetail `json:"question,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
}

// Evidence is one rationale entry attached to a node.
type Evidence struct {
	Kind   string `json:"kind"` // rationale, source, measurement
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// UnaccountedItem is a logged skip: nothing is silently dropped.
type UnaccountedItem struct {
	Item  string    `json:"item"`
	Owner string    `json:"owner"`
	Due   time.Time `json:"due"`
}

// QuestionDetail carries the OpenQuestion-specific fields.
type QuestionDetail struct {
	Owner       string    `json:"owner"`
	Due         time.Time `json:"due"`
	Blocks      []string  `json:"blocks,omitempty"`
	HardBlocker bool      `json:"hard_blocker,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
}

// ComputeContentHash creates a deterministic hash of the node's content.
// ID and timestamps are excluded so identical content produces identical
// hashes regardless of when or where it was authored.
func (n *Node) ComputeContentHash() string {
	h := sha256.New()
	h.Write([]byte(n.Type))
	h.Write([]byte{0})
	h.Write([]byte(n.Status))
	h.Write([]byte{0})
	h.Write([]byte(n.Statement))
	h.Write([]byte{0})
	h.Write([]byte(n.Owner))
	h.Write([]byte{0})
	h.Write([]byte(n.Estimate))
	h.Write([]byte{0})
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{1})
		h.Write([]byte(n.Fields[k]))
		h.Write([]byte{0})
	}
	if n.UserFacing {
		h.Write([]byte("user-facing"))
	}
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%.4f", n.Confidence)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Validate checks field values against the closed vocabularies.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if len(n.ID) > 500 {
		return fmt.Errorf("node id must be 500 characters or less (got %d)", len(n.ID))
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("invalid node type: %s", n.Type)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", n.Status)
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %g)", n.Confidence)
	}
	if n.Status == StatusRetired && n.RetiredAt == nil {
		return fmt.Errorf("retired nodes must have retired_at timestamp")
	}
	if n.Status != StatusRetired && n.RetiredAt != nil {
		return fmt.Errorf("non-retired nodes cannot have retired_at timestamp")
	}
	if n.Type == TypeOpenQuestion && n.Question == nil {
		return fmt.Errorf("open question nodes must carry question detail")
	}
	return nil
}

// SetDefaults applies defaults for fields omitted during import.
func (n *Node) SetDefaults() {
	if n.Status == "" {
		n.Status = StatusOpen
	}
	if n.Confidence == 0 {
		n.Confidence = 1.0
	}
}

// IsRetired reports whether the node has been retired. Retired nodes stay
// in the graph for traceability and are never re-activated.
func (n *Node) IsRetired() bool {
	return n.Status == StatusRetired
}

// IsResolved reports whether an OpenQuestion node has been answered.
func (n *Node) IsResolved() bool {
	return n.Type == TypeOpenQuestion && n.Question != nil && n.Question.Resolution != ""
}

// Status represents the lifecycle state of a node.
type Status string

// Node status constants. The only legal transitions are Open->Ready,
// any->Blocked, and any->Retired (plus Blocked back to Open/Ready once
// the blocker clears).
const (
	StatusOpen    Status = "open"
	StatusReady   Status = "ready"
	StatusBlocked Status = "blocked"
	StatusRetired Status = "retired"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusReady, StatusBlocked, StatusRetired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status transition is legal.
// Retirement is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch next {
	case StatusBlocked, StatusRetired:
		return s != StatusRetired
	case StatusReady:
		return s == StatusOpen || s == StatusBlocked
	case StatusOpen:
		return s == StatusBlocked
	}
	return false
}

// NodeType categorizes the kind of planning artifact.
type NodeType string

// Structural node types.
const (
	TypeIntent          NodeType = "Intent"
	TypeCapability      NodeType = "Capability"
	TypeScenario        NodeType = "Scenario"
	TypeRequirement     NodeType = "Requirement"
	TypeContract        NodeType = "Contract"
	TypeDataContract    NodeType = "DataContract"
	TypeChangeSpec      NodeType = "ChangeSpec"
	TypeInteractionSpec NodeType = "InteractionSpec"
	TypeComponent       NodeType = "Component"
	TypeArchitecture    NodeType = "Architecture"
	TypeEvaluation      NodeType = "Evaluation"
	TypeOpenQuestion    NodeType = "OpenQuestion"
	TypePolicy          NodeType = "Policy"
	TypeTest            NodeType = "Test"
	TypeMigrationSpec   NodeType = "MigrationSpec"
	TypeRunbook         NodeType = "Runbook"
	TypeBlueprint       NodeType = "Blueprint"
	TypeConcern         NodeType = "Concern" // cross-cutting concern aggregator
	TypeFeedback        NodeType = "Feedback"
)

// UI projection node types.
const (
	TypeScreen              NodeType = "Screen"
	TypeNavigationSpec      NodeType = "NavigationSpec"
	TypeUXFlow              NodeType = "UXFlow"
	TypeUIComponentContract NodeType = "UIComponentContract"
	TypeSettingsSpec        NodeType = "SettingsSpec"
	TypeTutorialSpec        NodeType = "TutorialSpec"
	TypeNotificationSpec    NodeType = "NotificationSpec"
	TypeBadgeRule           NodeType = "BadgeRule"
	TypeVisualSpec          NodeType = "VisualSpec"
	TypeExclusion           NodeType = "Exclusion"
	TypeStyleGuide          NodeType = "StyleGuide"
	TypeDesignTokens        NodeType = "DesignTokens"
	TypeComponentLibrary    NodeType = "ComponentLibrary"
	TypeDashboard           NodeType = "Dashboard"
)

// AllNodeTypes lists every valid node type in a stable order.
var AllNodeTypes = []NodeType{
	TypeIntent, TypeCapability, TypeScenario, TypeRequirement, TypeContract,
	TypeDataContract, TypeChangeSpec, TypeInteractionSpec, TypeComponent,
	TypeArchitecture, TypeEvaluation, TypeOpenQuestion, TypePolicy, TypeTest,
	TypeMigrationSpec, TypeRunbook, TypeBlueprint, TypeConcern, TypeFeedback,
	TypeScreen, TypeNavigationSpec, TypeUXFlow, TypeUIComponentContract,
	TypeSettingsSpec, TypeTutorialSpec, TypeNotificationSpec, TypeBadgeRule,
	TypeVisualSpec, TypeExclusion, TypeStyleGuide, TypeDesignTokens,
	TypeComponentLibrary, TypeDashboard,
}

var validNodeTypes = func() map[NodeType]bool {
	m := make(map[NodeType]bool, len(AllNodeTypes))
	for _, t := range AllNodeTypes {
		m[t] = true
	}
	return m
}()

// IsValid checks if the node type value is valid.
func (t NodeType) IsValid() bool {
	return validNodeTypes[t]
}

// IsUIType reports whether the node type is produced by UI projection.
func (t NodeType) IsUIType() bool {
	switch t {
	case TypeScreen, TypeNavigationSpec, TypeUXFlow, TypeUIComponentContract,
		TypeSettingsSpec, TypeTutorialSpec, TypeNotificationSpec, TypeBadgeRule,
		TypeVisualSpec, TypeStyleGuide, TypeDesignTokens, TypeComponentLibrary,
		TypeDashboard:
		return true
	}
	return false
}

// Edge is an ordered, typed pair of node ids. Multiple edge types may
// connect the same pair.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      EdgeType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// Key returns the identity triple used for edge deduplication.
func (e Edge) Key() string {
	return e.From + "\x00" + e.To + "\x00" + string(e.Type)
}

// EdgeType categorizes the relationship between two nodes.
type EdgeType string

// Edge type constants.
const (
	EdgeDependsOn    EdgeType = "depends_on"
	EdgeCoveredBy    EdgeType = "covered_by"
	EdgeGatedBy      EdgeType = "gated_by"
	EdgeTracesTo     EdgeType = "traces_to"
	EdgeSupersedes   EdgeType = "supersedes"
	EdgeResolves     EdgeType = "resolves"
	EdgeInforms      EdgeType = "informs"
	EdgeRevealsCross EdgeType = "reveals_cross_cutting"
	EdgeEvolvedFrom  EdgeType = "evolved_from"
)

// IsValid checks if the edge type value is valid.
func (e EdgeType) IsValid() bool {
	switch e {
	case EdgeDependsOn, EdgeCoveredBy, EdgeGatedBy, EdgeTracesTo,
		EdgeSupersedes, EdgeResolves, EdgeInforms, EdgeRevealsCross,
		EdgeEvolvedFrom:
		return true
	}
	return false
}

// AffectsOrdering reports whether this edge type participates in the
// acyclic subgraph. Only depends_on, covered_by and traces_to edges are
// cycle-checked and consumed by the scheduler.
func (e EdgeType) AffectsOrdering() bool {
	return e == EdgeDependsOn || e == EdgeCoveredBy || e == EdgeTracesTo
}

// Manifest summarizes graph state after a pass.
type Manifest struct {
	PlanVersion string `json:"plan_version"`
	Nodes       int    `json:"nodes"`
	Edges       int    `json:"edges"`
	Ready       int    `json:"ready"`
	Blocked     int    `json:"blocked"`
	Retired     int    `json:"retired"`
	UINodes     int    `json:"ui_nodes"`
	Questions   int    `json:"open_questions"`
}

// Gap describes one unmet obligation surfaced by a pass.
type Gap struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// NodeFilter selects nodes for list queries.
type NodeFilter struct {
	Type       *NodeType
	Status     *Status
	UserFacing *bool
	Owner      string
	Limit      int
}
