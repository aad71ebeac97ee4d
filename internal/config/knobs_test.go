package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

func TestLoadKnobsDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	k := LoadKnobs()
	if k.ConfidenceThreshold != 0.80 {
		t.Errorf("ConfidenceThreshold = %v, want 0.80", k.ConfidenceThreshold)
	}
	if k.ProofThreshold != 0.95 {
		t.Errorf("ProofThreshold = %v, want 0.95", k.ProofThreshold)
	}
	if k.PassBudgetBytes != 8192 || k.NodeBudgetBytes != 3072 {
		t.Errorf("budgets = %d/%d, want 8192/3072", k.PassBudgetBytes, k.NodeBudgetBytes)
	}
	if !k.UIExpansion || !k.Salvage {
		t.Error("expansion toggles default off, want on")
	}
	if k.SemverPolicy != "minor-on-additive" {
		t.Errorf("SemverPolicy = %q", k.SemverPolicy)
	}
	if len(k.Lanes) == 0 {
		t.Error("no default lanes")
	}
}

func TestKnobsEngine(t *testing.T) {
	k := Knobs{
		Actor:               "planner",
		ConfidenceThreshold: 0.9,
		ProofThreshold:      0.99,
		QuestionLeadTime:    24 * time.Hour,
		PassBudgetBytes:     4096,
		NodeBudgetBytes:     1024,
		UIExpansion:         false,
		Salvage:             true,
		MaxGaps:             5,
	}

	e, err := k.Engine(graph.New())
	if err != nil {
		t.Fatalf("Engine() returned error: %v", err)
	}

	if e.Guardrail.Threshold != 0.9 {
		t.Errorf("guardrail threshold = %v, want 0.9", e.Guardrail.Threshold)
	}
	if e.Prover.Threshold != 0.99 {
		t.Errorf("proof threshold = %v, want 0.99", e.Prover.Threshold)
	}
	if e.Budget.PassBytes != 4096 || e.Budget.NodeBytes != 1024 {
		t.Errorf("budget = %+v", e.Budget)
	}
	if e.UIExpansion {
		t.Error("UIExpansion not disabled")
	}
	if !e.SalvageEnabled {
		t.Error("salvage not enabled")
	}
	if e.MaxGaps != 5 {
		t.Errorf("MaxGaps = %d, want 5", e.MaxGaps)
	}
	if e.Expander.DefaultOwner != "planner" || e.Guardrail.DefaultOwner != "planner" {
		t.Error("actor not propagated as default owner")
	}
	if e.Expander.QuestionLeadTime != 24*time.Hour {
		t.Errorf("question lead time = %v", e.Expander.QuestionLeadTime)
	}
}

func TestKnobsEngineLoadsOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.toml")
	override := `
[table.Capability]
children = [{child = "Scenario", min = 2, edge = "covered_by", prefix = "scen"}]

[factors]
token = ["fresh", "stale", "revoked"]

[salvage]
keep = ["inspector", "console"]
`
	if err := os.WriteFile(path, []byte(override), 0600); err != nil {
		t.Fatalf("writing overrides: %v", err)
	}

	k := Knobs{UIExpansion: true, OverridesFile: path}
	e, err := k.Engine(graph.New())
	if err != nil {
		t.Fatalf("Engine() returned error: %v", err)
	}

	row := e.Expander.Table[types.TypeCapability]
	if len(row) != 1 || row[0].Min != 2 {
		t.Fatalf("capability row not overridden: %+v", row)
	}
	var token []string
	for _, f := range e.Expander.Factors {
		if f.Name == "token" {
			token = f.Values
		}
	}
	if len(token) != 3 {
		t.Errorf("token factor = %v, want 3 values", token)
	}
	if len(e.Projector.Rules.Keep) != 2 || e.Projector.Rules.Keep[0] != "inspector" {
		t.Errorf("salvage keep rules = %v", e.Projector.Rules.Keep)
	}
}

func TestKnobsEngineBadOverridesFile(t *testing.T) {
	k := Knobs{OverridesFile: filepath.Join(t.TempDir(), "absent.toml")}
	if _, err := k.Engine(graph.New()); err == nil {
		t.Fatal("expected error for missing overrides file")
	}
}
