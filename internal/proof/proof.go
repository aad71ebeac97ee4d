// Package proof computes the thirteen completion proofs over a graph
// snapshot. Compute is pure: it never mutates the graph, and the same
// snapshot always yields the same report. A plan may be declared complete
// only when every proof passes; anything less is a list of concrete gaps
// for the next pass to close.
package proof

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trellisplan/trellis/internal/cycle"
	"github.com/trellisplan/trellis/internal/expand"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/schedule"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/uiproj"
)

// Result is the outcome of one proof: a boolean, a coverage score in
// [0,1], and diagnostic detail listing exactly what is missing.
type Result struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Passed  bool           `json:"passed"`
	Score   float64        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// Report is the full proof record for one pass.
type Report struct {
	Results   []Result `json:"proofs"`
	AllPassed bool     `json:"all_passed"`
}

// Get returns the result for a proof id, or nil.
func (r *Report) Get(id string) *Result {
	for i := range r.Results {
		if r.Results[i].ID == id {
			return &r.Results[i]
		}
	}
	return nil
}

// Failing lists the ids of proofs that did not pass.
func (r *Report) Failing() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res.ID)
		}
	}
	return out
}

// Clean reports whether the result's details payload lists no outstanding
// items. Threshold proofs can pass with gaps still listed; AllPassed
// requires both the boolean and an empty list.
func (res *Result) Clean() bool {
	return detailsClean(res.Details)
}

func detailsClean(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		for _, item := range x {
			if !detailsClean(item) {
				return false
			}
		}
		return true
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	default:
		return true
	}
}

// DefaultCategories are the top-level system categories the topology
// proof requires a Ready node for.
var DefaultCategories = []string{
	"client", "gateway", "services", "stores", "caches", "queues",
	"auth", "secrets", "observability", "analytics", "config",
	"migrations", "rollout",
}

// Engine evaluates the proofs. Threshold applies to the documentation
// proofs (P10-P13); structural proofs are exact.
type Engine struct {
	Expander   *expand.Engine
	Scheduler  *schedule.Scheduler
	Categories []string
	Threshold  float64
}

// New returns an engine with the default category list and a 0.95
// documentation threshold.
func New() *Engine {
	return &Engine{
		Expander:   expand.New(),
		Scheduler:  schedule.New(),
		Categories: DefaultCategories,
		Threshold:  0.95,
	}
}

// Compute runs all thirteen proofs against one snapshot.
func (e *Engine) Compute(snap *graph.Snapshot) *Report {
	r := &Report{
		Results: []Result{
			e.p1Topology(snap),
			e.p2Coverage(snap),
			e.p3DataLifecycle(snap),
			e.p4Security(snap),
			e.p5Tests(snap),
			e.p6Observability(snap),
			e.p7Rollout(snap),
			e.p8Ordering(snap),
			e.p9Expansion(snap),
			e.p10Blueprint(snap),
			e.p11Incident(snap),
			e.p12Compliance(snap),
			e.p13A11y(snap),
		},
	}
	// Completion needs every boolean true AND every details list empty;
	// a threshold proof passing at 0.95 with gaps still listed is not a
	// complete plan.
	r.AllPassed = true
	for i := range r.Results {
		if !r.Results[i].Passed || !r.Results[i].Clean() {
			r.AllPassed = false
			break
		}
	}
	return r
}

// p1Topology: every required category has at least one Ready node
// claiming it via the category field.
func (e *Engine) p1Topology(snap *graph.Snapshot) Result {
	ready := make(map[string]int)
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() || n.Status != types.StatusReady {
			continue
		}
		if cat := n.Fields["category"]; cat != "" {
			ready[cat]++
		}
	}
	var missing []string
	for _, cat := range e.Categories {
		if ready[cat] == 0 {
			missing = append(missing, cat)
		}
	}
	return Result{
		ID:     "P1",
		Name:   "topology",
		Passed: len(missing) == 0,
		Score:  ratio(len(e.Categories)-len(missing), len(e.Categories)),
		Details: map[string]any{
			"missing_categories": missing,
		},
	}
}

// p2Coverage: expected_ix == realized_ix for every scenario, and every
// user-facing scenario is paired with a UI artifact or a documented
// exclusion.
func (e *Engine) p2Coverage(snap *graph.Snapshot) Result {
	var expected, realized int
	var gaps []string
	var unpaired []string
	for _, sc := range snap.NodesByType(types.TypeScenario) {
		exp, real, scGaps := e.Expander.ScenarioCoverage(snap, sc.ID)
		expected += exp
		realized += real
		for _, g := range scGaps {
			gaps = append(gaps, fmt.Sprintf("%s: %s", g.NodeID, g.Detail))
		}
		if sc.UserFacing && !hasUIPairing(snap, sc.ID) {
			unpaired = append(unpaired, sc.ID)
		}
	}
	sort.Strings(gaps)
	sort.Strings(unpaired)
	return Result{
		ID:     "P2",
		Name:   "scenario_coverage",
		Passed: len(gaps) == 0 && len(unpaired) == 0,
		Score:  ratio(realized, expected),
		Details: map[string]any{
			"expected":             expected,
			"realized":             realized,
			"gaps":                 gaps,
			"unpaired_user_facing": unpaired,
		},
	}
}

// p3DataLifecycle: every data contract fills its full lifecycle
// checklist, migration tests included.
func (e *Engine) p3DataLifecycle(snap *graph.Snapshot) Result {
	contracts := snap.NodesByType(types.TypeDataContract)
	var incomplete []string
	for _, dc := range contracts {
		if missing := missingFields(dc, expand.RequiredFields(types.TypeDataContract)); len(missing) > 0 {
			incomplete = append(incomplete, fmt.Sprintf("%s: missing %s", dc.ID, strings.Join(missing, ", ")))
		}
	}
	return Result{
		ID:     "P3",
		Name:   "data_lifecycle",
		Passed: len(incomplete) == 0,
		Score:  ratio(len(contracts)-len(incomplete), len(contracts)),
		Details: map[string]any{
			"incomplete": incomplete,
		},
	}
}

// sensitiveFields is the security checklist for sensitive interactions.
var sensitiveFields = []string{"authz_scope", "least_privilege", "secret_handling", "rate_limit"}

// p4Security: every interaction touching sensitive data declares its
// authorization scope, least-privilege statement, secret handling, and
// rate limit.
func (e *Engine) p4Security(snap *graph.Snapshot) Result {
	var sensitive, clean int
	var violations []string
	for _, ix := range snap.NodesByType(types.TypeInteractionSpec) {
		s := ix.Fields["sensitivity"]
		if s == "" || s == "none" {
			continue
		}
		sensitive++
		if missing := missingFields(ix, sensitiveFields); len(missing) > 0 {
			violations = append(violations, fmt.Sprintf("%s: missing %s", ix.ID, strings.Join(missing, ", ")))
		} else {
			clean++
		}
	}
	return Result{
		ID:     "P4",
		Name:   "security",
		Passed: len(violations) == 0,
		Score:  ratio(clean, sensitive),
		Details: map[string]any{
			"violations": violations,
		},
	}
}

var testKinds = []string{"unit", "integration", "e2e"}

// p5Tests: every scenario carries unit, integration, and e2e tests;
// every interaction spec declares mocks and acceptance.
func (e *Engine) p5Tests(snap *graph.Snapshot) Result {
	var total, covered int
	var untested, unverified []string

	for _, sc := range snap.NodesByType(types.TypeScenario) {
		total++
		have := make(map[string]bool)
		for _, tn := range snap.Children(sc.ID, types.TypeTest) {
			have[tn.Fields["kind"]] = true
		}
		var missing []string
		for _, k := range testKinds {
			if !have[k] {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			untested = append(untested, fmt.Sprintf("%s: no %s tests", sc.ID, strings.Join(missing, "/")))
		} else {
			covered++
		}
	}

	for _, ix := range snap.NodesByType(types.TypeInteractionSpec) {
		total++
		if missing := missingFields(ix, []string{"mocks", "acceptance"}); len(missing) > 0 {
			unverified = append(unverified, fmt.Sprintf("%s: missing %s", ix.ID, strings.Join(missing, ", ")))
		} else {
			covered++
		}
	}

	return Result{
		ID:     "P5",
		Name:   "tests",
		Passed: len(untested) == 0 && len(unverified) == 0,
		Score:  ratio(covered, total),
		Details: map[string]any{
			"untested_scenarios":      untested,
			"unverified_interactions": unverified,
		},
	}
}

var observabilityFields = []string{"logs", "metrics", "trace_span", "alert"}
var flowStates = []string{"loading", "empty", "error", "ready"}

// p6Observability: logs, metrics, a trace span, and an alert per
// component; every UX flow covers all four state variants with state
// tests and a11y/i18n checks.
func (e *Engine) p6Observability(snap *graph.Snapshot) Result {
	var total, covered int
	var unobserved, incompleteFlows []string

	for _, c := range snap.NodesByType(types.TypeComponent) {
		total++
		if missing := missingFields(c, observabilityFields); len(missing) > 0 {
			unobserved = append(unobserved, fmt.Sprintf("%s: missing %s", c.ID, strings.Join(missing, ", ")))
		} else {
			covered++
		}
	}

	for _, f := range snap.NodesByType(types.TypeUXFlow) {
		total++
		states := make(map[string]bool)
		for _, s := range strings.Split(f.Fields["states"], ",") {
			states[strings.TrimSpace(s)] = true
		}
		var missing []string
		for _, s := range flowStates {
			if !states[s] {
				missing = append(missing, s+" state")
			}
		}
		missing = append(missing, missingFields(f, []string{"state_tests", "a11y_checks"})...)
		if len(missing) > 0 {
			incompleteFlows = append(incompleteFlows, fmt.Sprintf("%s: missing %s", f.ID, strings.Join(missing, ", ")))
		} else {
			covered++
		}
	}

	return Result{
		ID:     "P6",
		Name:   "observability",
		Passed: len(unobserved) == 0 && len(incompleteFlows) == 0,
		Score:  ratio(covered, total),
		Details: map[string]any{
			"unobserved_components": unobserved,
			"incomplete_flows":      incompleteFlows,
		},
	}
}

// p7Rollout: contracts declare versioning, breaking change specs carry a
// migration, and every change spec has a flag and a rollback path.
func (e *Engine) p7Rollout(snap *graph.Snapshot) Result {
	var total, clean int
	var violations []string

	for _, c := range snap.NodesByType(types.TypeContract) {
		total++
		if c.Fields["versioning"] == "" {
			violations = append(violations, c.ID+": no versioning policy")
		} else {
			clean++
		}
	}

	for _, cs := range snap.NodesByType(types.TypeChangeSpec) {
		total++
		var missing []string
		if cs.Fields["rollout_flag"] == "" {
			missing = append(missing, "rollout flag")
		}
		if cs.Fields["rollback"] == "" {
			missing = append(missing, "rollback plan")
		}
		if cs.Fields["breaking"] == "true" && len(snap.Children(cs.ID, types.TypeMigrationSpec)) == 0 {
			missing = append(missing, "migration for breaking change")
		}
		if len(missing) > 0 {
			violations = append(violations, fmt.Sprintf("%s: missing %s", cs.ID, strings.Join(missing, ", ")))
		} else {
			clean++
		}
	}

	return Result{
		ID:     "P7",
		Name:   "rollout",
		Passed: len(violations) == 0,
		Score:  ratio(clean, total),
		Details: map[string]any{
			"violations": violations,
		},
	}
}

// p8Ordering: the ordering subgraph is acyclic and every ready work item
// passes the work-start gate.
func (e *Engine) p8Ordering(snap *graph.Snapshot) Result {
	var cycles []string
	for _, cyc := range cycle.Check(snap) {
		cycles = append(cycles, strings.Join(cyc, " -> "))
	}

	// Every ready work item is held to the gate, not just the ones the
	// scheduler already let through: a ready change with no owner is an
	// ordering defect even though Order filters it out of the task list.
	var gateViolations []string
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() || n.Status != types.StatusReady || !schedule.IsWorkType(n.Type) {
			continue
		}
		if ok, reasons := e.Scheduler.Gate(snap, n.ID); !ok {
			gateViolations = append(gateViolations, fmt.Sprintf("%s: %s", n.ID, strings.Join(reasons, "; ")))
		}
	}
	sort.Strings(gateViolations)

	passed := len(cycles) == 0 && len(gateViolations) == 0
	score := 1.0
	if !passed {
		score = 0
	}
	return Result{
		ID:     "P8",
		Name:   "ordering",
		Passed: passed,
		Score:  score,
		Details: map[string]any{
			"cycles":          cycles,
			"gate_violations": gateViolations,
		},
	}
}

// p9Expansion: no nonterminal is missing a required child. This is the
// one proof held to 100%: a single unexpanded node fails the plan.
func (e *Engine) p9Expansion(snap *graph.Snapshot) Result {
	frontier := e.Expander.Frontier(snap)
	var expandable int
	for _, n := range snap.Nodes(types.NodeFilter{}) {
		if n.IsRetired() {
			continue
		}
		if len(e.Expander.Table[n.Type]) > 0 || n.Type == types.TypeChangeSpec {
			expandable++
		}
	}
	coverage := ratio(expandable-len(frontier), expandable)
	if frontier == nil {
		frontier = []string{}
	}
	return Result{
		ID:     "P9",
		Name:   "node_expansion",
		Passed: len(frontier) == 0,
		Score:  coverage,
		Details: map[string]any{
			"p9_expansion": map[string]any{
				"total":            expandable,
				"coverage":         coverage,
				"unexpanded_nodes": frontier,
			},
		},
	}
}

// p10Blueprint: components are documented by a Blueprint or Architecture
// node (or an inline blueprint reference).
func (e *Engine) p10Blueprint(snap *graph.Snapshot) Result {
	components := snap.NodesByType(types.TypeComponent)
	var undocumented []string
	for _, c := range components {
		if c.Fields["blueprint"] != "" {
			continue
		}
		if len(snap.Children(c.ID, types.TypeBlueprint)) > 0 || len(snap.Children(c.ID, types.TypeArchitecture)) > 0 {
			continue
		}
		undocumented = append(undocumented, c.ID)
	}
	score := ratio(len(components)-len(undocumented), len(components))
	return Result{
		ID:     "P10",
		Name:   "blueprint",
		Passed: score >= e.Threshold,
		Score:  score,
		Details: map[string]any{
			"undocumented": undocumented,
		},
	}
}

// p11Incident: components carry runbooks, and visual specs clear the
// design-token gate.
func (e *Engine) p11Incident(snap *graph.Snapshot) Result {
	components := snap.NodesByType(types.TypeComponent)
	var withoutRunbook []string
	for _, c := range components {
		if c.Fields["runbook"] == "" && len(snap.Children(c.ID, types.TypeRunbook)) == 0 {
			withoutRunbook = append(withoutRunbook, c.ID)
		}
	}
	runbookScore := ratio(len(components)-len(withoutRunbook), len(components))

	visuals := snap.NodesByType(types.TypeVisualSpec)
	var blockedVisuals []string
	for _, v := range visuals {
		if ok, _ := uiproj.DesignTokenGate(snap, v.ID); !ok {
			blockedVisuals = append(blockedVisuals, v.ID)
		}
	}
	designScore := ratio(len(visuals)-len(blockedVisuals), len(visuals))

	score := runbookScore
	if designScore < score {
		score = designScore
	}
	return Result{
		ID:     "P11",
		Name:   "incident_readiness",
		Passed: runbookScore >= e.Threshold && designScore >= e.Threshold,
		Score:  score,
		Details: map[string]any{
			"without_runbook":      withoutRunbook,
			"blocked_visual_specs": blockedVisuals,
		},
	}
}

// p12Compliance: every data contract holding PII declares its regulatory
// coverage.
func (e *Engine) p12Compliance(snap *graph.Snapshot) Result {
	var pii, covered int
	var uncovered []string
	for _, dc := range snap.NodesByType(types.TypeDataContract) {
		p := dc.Fields["pii"]
		if p == "" || p == "none" {
			continue
		}
		pii++
		if dc.Fields["compliance"] == "" {
			uncovered = append(uncovered, dc.ID)
		} else {
			covered++
		}
	}
	score := ratio(covered, pii)
	return Result{
		ID:     "P12",
		Name:   "compliance",
		Passed: score >= e.Threshold,
		Score:  score,
		Details: map[string]any{
			"uncovered": uncovered,
		},
	}
}

// p13A11y: screens declare accessibility and localization coverage.
func (e *Engine) p13A11y(snap *graph.Snapshot) Result {
	screens := snap.NodesByType(types.TypeScreen)
	var noncompliant []string
	for _, sc := range screens {
		if missing := missingFields(sc, []string{"a11y", "i18n"}); len(missing) > 0 {
			noncompliant = append(noncompliant, fmt.Sprintf("%s: missing %s", sc.ID, strings.Join(missing, ", ")))
		}
	}
	score := ratio(len(screens)-len(noncompliant), len(screens))
	return Result{
		ID:     "P13",
		Name:   "a11y_i18n",
		Passed: score >= e.Threshold,
		Score:  score,
		Details: map[string]any{
			"noncompliant_screens": noncompliant,
		},
	}
}

// hasUIPairing reports whether a node is paired with a live UI artifact
// or a documented exclusion.
func hasUIPairing(snap *graph.Snapshot, id string) bool {
	for _, e := range snap.EdgesTo(id, types.EdgeTracesTo) {
		n, err := snap.Node(e.From)
		if err != nil || n.IsRetired() {
			continue
		}
		if n.Type == types.TypeExclusion && n.Owner != "" && n.Statement != "" {
			return true
		}
		if n.Type.IsUIType() {
			return true
		}
	}
	return false
}

// missingFields returns checklist entries the node leaves blank.
func missingFields(n *types.Node, fields []string) []string {
	var out []string
	for _, f := range fields {
		switch f {
		case "owner":
			if n.Owner == "" {
				out = append(out, f)
			}
		case "estimate":
			if n.Estimate == "" {
				out = append(out, f)
			}
		default:
			if n.Fields[f] == "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// ratio is covered/total, defined as 1 for an empty population.
func ratio(covered, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(covered) / float64(total)
}
