package config

import (
	"fmt"
	"time"

	"github.com/trellisplan/trellis/internal/expand"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/pass"
	"github.com/trellisplan/trellis/internal/uiproj"
)

// Knobs is the resolved set of engine tunables. LoadKnobs pulls them from
// the viper instance; embedders can also fill the struct directly and skip
// config files entirely.
type Knobs struct {
	Actor string

	ConfidenceThreshold float64
	ProofThreshold      float64
	QuestionLeadTime    time.Duration

	PassBudgetBytes int
	NodeBudgetBytes int

	UIExpansion bool
	Salvage     bool
	MaxGaps     int

	RefactorMaxOps int
	SemverPolicy   string
	Lanes          []string

	// OverridesFile points at a TOML file of expansion-table and salvage
	// keyword overrides. Empty means built-in defaults.
	OverridesFile string
}

// LoadKnobs reads the knobs out of the initialized config.
func LoadKnobs() Knobs {
	return Knobs{
		Actor:               GetString("actor"),
		ConfidenceThreshold: GetFloat64("confidence-threshold"),
		ProofThreshold:      GetFloat64("proof-threshold"),
		QuestionLeadTime:    GetDuration("question-lead-time"),
		PassBudgetBytes:     GetInt("pass-budget-bytes"),
		NodeBudgetBytes:     GetInt("node-budget-bytes"),
		UIExpansion:         GetBool("ui-expansion"),
		Salvage:             GetBool("salvage"),
		MaxGaps:             GetInt("max-gaps"),
		RefactorMaxOps:      GetInt("refactor.max-ops"),
		SemverPolicy:        GetString("semver.policy"),
		Lanes:               GetStringSlice("lanes"),
		OverridesFile:       GetString("overrides-file"),
	}
}

// Engine builds a pass engine over store with these knobs applied,
// including any TOML overrides for the expansion table and salvage rules.
func (k Knobs) Engine(store *graph.Store) (*pass.Engine, error) {
	e := pass.New(store)

	if k.ConfidenceThreshold > 0 {
		e.Guardrail.Threshold = k.ConfidenceThreshold
	}
	if k.ProofThreshold > 0 {
		e.Prover.Threshold = k.ProofThreshold
	}
	if k.QuestionLeadTime > 0 {
		e.Expander.QuestionLeadTime = k.QuestionLeadTime
		e.Projector.QuestionLeadTime = k.QuestionLeadTime
		e.Guardrail.QuestionLeadTime = k.QuestionLeadTime
	}
	if k.Actor != "" {
		e.Expander.DefaultOwner = k.Actor
		e.Projector.DefaultOwner = k.Actor
		e.Guardrail.DefaultOwner = k.Actor
	}
	if k.PassBudgetBytes > 0 {
		e.Budget.PassBytes = k.PassBudgetBytes
	}
	if k.NodeBudgetBytes > 0 {
		e.Budget.NodeBytes = k.NodeBudgetBytes
	}
	if k.MaxGaps > 0 {
		e.MaxGaps = k.MaxGaps
	}
	if k.RefactorMaxOps > 0 {
		e.RefactorMaxOps = k.RefactorMaxOps
	}
	if k.SemverPolicy != "" {
		e.SemverPolicy = k.SemverPolicy
	}
	if len(k.Lanes) > 0 {
		e.Scheduler.Lanes = k.Lanes
	}
	e.UIExpansion = k.UIExpansion
	e.SalvageEnabled = k.Salvage

	if k.OverridesFile != "" {
		table, factors, err := expand.LoadOverrides(k.OverridesFile, e.Expander.Table, e.Expander.Factors)
		if err != nil {
			return nil, fmt.Errorf("loading expansion overrides: %w", err)
		}
		e.Expander.Table = table
		e.Expander.Factors = factors

		rules, err := uiproj.LoadRules(k.OverridesFile)
		if err != nil {
			return nil, fmt.Errorf("loading salvage overrides: %w", err)
		}
		e.Projector.Rules = rules
	}

	return e, nil
}
