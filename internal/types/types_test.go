package types

import (
	"strings"
	"testing"
	"time"
)

func TestNodeValidation(t *testing.T) {
	retired := time.Now()

	tests := []struct {
		name    string
		node    Node
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid capability",
			node: Node{
				ID:         "cap:auth",
				Type:       TypeCapability,
				Status:     StatusOpen,
				Statement:  "Users can authenticate",
				Confidence: 0.9,
			},
			wantErr: false,
		},
		{
			name:    "missing id",
			node:    Node{Type: TypeCapability, Status: StatusOpen},
			wantErr: true,
			errMsg:  "node id is required",
		},
		{
			name: "id too long",
			node: Node{
				ID:     strings.Repeat("x", 501),
				Type:   TypeCapability,
				Status: StatusOpen,
			},
			wantErr: true,
			errMsg:  "node id must be 500 characters or less",
		},
		{
			name:    "unknown type",
			node:    Node{ID: "n1", Type: "Widget", Status: StatusOpen},
			wantErr: true,
			errMsg:  "invalid node type",
		},
		{
			name:    "unknown status",
			node:    Node{ID: "n1", Type: TypeScenario, Status: "closed"},
			wantErr: true,
			errMsg:  "invalid status",
		},
		{
			name: "confidence out of range",
			node: Node{
				ID: "n1", Type: TypeScenario, Status: StatusOpen, Confidence: 1.5,
			},
			wantErr: true,
			errMsg:  "confidence must be in [0,1]",
		},
		{
			name:    "retired without timestamp",
			node:    Node{ID: "n1", Type: TypeScenario, Status: StatusRetired},
			wantErr: true,
			errMsg:  "retired nodes must have retired_at",
		},
		{
			name: "retired with timestamp",
			node: Node{
				ID: "n1", Type: TypeScenario, Status: StatusRetired, RetiredAt: &retired,
			},
			wantErr: false,
		},
		{
			name: "open node with retired timestamp",
			node: Node{
				ID: "n1", Type: TypeScenario, Status: StatusOpen, RetiredAt: &retired,
			},
			wantErr: true,
			errMsg:  "non-retired nodes cannot have retired_at",
		},
		{
			name:    "open question without detail",
			node:    Node{ID: "q:1", Type: TypeOpenQuestion, Status: StatusOpen},
			wantErr: true,
			errMsg:  "open question nodes must carry question detail",
		},
		{
			name: "open question with detail",
			node: Node{
				ID: "q:1", Type: TypeOpenQuestion, Status: StatusOpen,
				Question: &QuestionDetail{Owner: "ana", Due: time.Now()},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusReady, true},
		{StatusOpen, StatusBlocked, true},
		{StatusOpen, StatusRetired, true},
		{StatusBlocked, StatusOpen, true},
		{StatusBlocked, StatusReady, true},
		{StatusBlocked, StatusRetired, true},
		{StatusReady, StatusBlocked, true},
		{StatusReady, StatusRetired, true},
		{StatusReady, StatusOpen, false},
		{StatusRetired, StatusOpen, false},
		{StatusRetired, StatusReady, false},
		{StatusRetired, StatusBlocked, false},
		{StatusRetired, StatusRetired, true}, // idempotent no-op
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestContentHashStability(t *testing.T) {
	mk := func() *Node {
		return &Node{
			ID:        "req:search",
			Type:      TypeRequirement,
			Status:    StatusOpen,
			Statement: "Search returns results under 200ms",
			Fields:    map[string]string{"lane": "API", "priority": "1"},
			Owner:     "kim",
			CreatedAt: time.Now(),
		}
	}

	a, b := mk(), mk()
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	b.ID = "req:search-v2"
	if a.ComputeContentHash() != b.ComputeContentHash() {
		t.Error("hash should ignore id and timestamps")
	}

	b.Statement = "Search returns results under 100ms"
	if a.ComputeContentHash() == b.ComputeContentHash() {
		t.Error("hash should change when the statement changes")
	}
}

func TestEdgeTypeOrdering(t *testing.T) {
	ordering := []EdgeType{EdgeDependsOn, EdgeCoveredBy, EdgeTracesTo}
	for _, et := range ordering {
		if !et.AffectsOrdering() {
			t.Errorf("%s should affect ordering", et)
		}
	}
	nonOrdering := []EdgeType{EdgeGatedBy, EdgeSupersedes, EdgeResolves, EdgeInforms, EdgeRevealsCross, EdgeEvolvedFrom}
	for _, et := range nonOrdering {
		if et.AffectsOrdering() {
			t.Errorf("%s should not affect ordering", et)
		}
	}
}

func TestTriDoesNotCollapse(t *testing.T) {
	if TriInsufficient.IsTrue() || TriInsufficient.IsFalse() {
		t.Error("insufficient must be neither true nor false")
	}
	if TriInsufficient.Definite() {
		t.Error("insufficient is not definite")
	}
	if !TriOf(true).IsTrue() || !TriOf(false).IsFalse() {
		t.Error("TriOf round trip broken")
	}
	if TriInsufficient.String() != "insufficient" {
		t.Errorf("unexpected wire form %q", TriInsufficient.String())
	}
}

func TestNodeSetDefaults(t *testing.T) {
	n := &Node{ID: "n1", Type: TypeScenario}
	n.SetDefaults()
	if n.Status != StatusOpen {
		t.Errorf("default status = %s, want open", n.Status)
	}
	if n.Confidence != 1.0 {
		t.Errorf("default confidence = %g, want 1.0", n.Confidence)
	}
}
