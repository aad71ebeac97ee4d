// Package pass orchestrates one planning pass end to end: guardrail
// pre-check, concurrent structural and UI proposals over a single
// snapshot, cycle-guarded apply, proofs, scheduling, and guardrail
// post-check. The engines themselves are pure; this package owns the
// sequencing, logging, and telemetry around them.
package pass

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/trellisplan/trellis/internal/cycle"
	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/expand"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/guardrail"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/proof"
	"github.com/trellisplan/trellis/internal/schedule"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/uiproj"
)

var tracer = otel.Tracer("trellis/internal/pass")

// Input is the per-pass request.
type Input struct {
	// FeatureID names the feature the pass works toward. When Intent is
	// also set and no matching Intent node exists, one is seeded.
	FeatureID string

	// Intent is the one-sentence statement for a new feature.
	Intent string

	// PriorPlanVersion, when set, must match the store's current plan
	// version; a mismatch means the caller is working from a stale plan.
	PriorPlanVersion string
}

// Result is the per-pass output contract.
type Result struct {
	RunID        string              `json:"run_id"`
	PlanVersion  string              `json:"plan_version"`
	Deltas       []Shard             `json:"deltas"`
	TaskOrder    []string            `json:"task_order"`
	TopGaps      []types.Gap         `json:"top_gaps"`
	ChangedNodes []string            `json:"changed_nodes"`
	Manifest     types.Manifest      `json:"manifest"`
	Proofs       *proof.Report       `json:"proofs"`
	Remediations []cycle.Remediation `json:"remediations,omitempty"`
	Complete     bool                `json:"complete"`
	Elapsed      time.Duration       `json:"elapsed"`
}

// Engine wires the per-pass collaborators. Build one with New and adjust
// knobs before the first Run.
type Engine struct {
	Store     *graph.Store
	Expander  *expand.Engine
	Projector *uiproj.Engine
	Guardrail *guardrail.Engine
	Prover    *proof.Engine
	Scheduler *schedule.Scheduler
	Log       *slog.Logger

	// Budget bounds emitted delta shards; see EmitShards.
	Budget Budget

	// UIExpansion gates the UI projection proposer. With it off, plans
	// carry no derived UI artifacts and the pairing proofs pass vacuously.
	UIExpansion bool

	// SalvageEnabled runs the screen salvage classifier each pass.
	SalvageEnabled bool

	// MaxGaps caps the top_gaps list in the result.
	MaxGaps int

	// RefactorMaxOps caps the split, merge, and retire ops one pass may
	// apply; overflow is deferred to a later pass. Zero means no cap.
	RefactorMaxOps int

	// SemverPolicy picks the plan-version segment a committing pass bumps:
	// "major", "minor", "patch", or "minor-on-additive", which bumps minor
	// for a purely additive pass and major when the pass split, merged, or
	// retired nodes. Empty keeps whole-number vN labels.
	SemverPolicy string

	passes   metric.Int64Counter
	rejected metric.Int64Counter
}

// New builds an engine over a store with default knobs.
func New(store *graph.Store) *Engine {
	expander := expand.New()
	store.SetReadinessCheck(func(snap *graph.Snapshot, id string) (bool, []string) {
		if ok, missing := expander.Readiness(snap, id); !ok {
			return false, missing
		}
		return uiproj.DesignTokenGate(snap, id)
	})

	meter := otel.Meter("trellis/internal/pass")
	passes, _ := meter.Int64Counter("trellis.passes",
		metric.WithDescription("planning passes run"))
	rejected, _ := meter.Int64Counter("trellis.ops.rejected",
		metric.WithDescription("delta ops rejected during apply"))

	prover := proof.New()
	prover.Expander = expander
	return &Engine{
		Store:       store,
		Expander:    expander,
		Projector:   uiproj.New(),
		Guardrail:   guardrail.New(),
		Prover:      prover,
		Scheduler:   schedule.New(),
		Log:         slog.Default(),
		Budget:      DefaultBudget(),
		UIExpansion: true,
		MaxGaps:     10,
		passes:      passes,
		rejected:    rejected,
	}
}

// Run executes one pass. The pass is abandoned with no effect if the
// context is cancelled before its main delta batch is applied.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pass.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("feature", in.FeatureID))

	log := e.Log.With("run_id", runID, "feature", in.FeatureID)

	if in.PriorPlanVersion != "" && in.PriorPlanVersion != e.Store.PlanVersion() {
		return nil, fmt.Errorf("stale plan: caller has %s, store is at %s", in.PriorPlanVersion, e.Store.PlanVersion())
	}
	if err := e.seedIntent(in); err != nil {
		return nil, err
	}

	var changed []string
	var refactored bool
	applied := make([]*delta.Batch, 0, 4)
	apply := func(b *delta.Batch) error {
		if b.IsEmpty() {
			return nil
		}
		for _, op := range b.Ops {
			if refactorKinds[op.Kind] {
				refactored = true
				break
			}
		}
		res, err := e.Store.Apply(b)
		if err != nil {
			return err
		}
		changed = append(changed, res.Changed...)
		if len(res.Rejected) > 0 {
			if e.rejected != nil {
				e.rejected.Add(ctx, int64(len(res.Rejected)))
			}
			log.Warn("ops rejected during apply", "actor", b.Actor, "count", len(res.Rejected))
		}
		applied = append(applied, b)
		return nil
	}

	// Guardrail pre-check: block low-confidence branches before anything
	// proposes on top of them.
	snap := e.Store.Snapshot()
	preBatch, preGaps := e.Guardrail.PreCheck(snap)
	if err := apply(preBatch); err != nil {
		return nil, fmt.Errorf("guardrail pre-check: %w", err)
	}

	// Proposers are pure functions over one shared snapshot; their output
	// namespaces are disjoint, so they run concurrently and merge
	// deterministically.
	snap = e.Store.Snapshot()
	var expandBatch, uiBatch, salvageBatch *delta.Batch
	var g errgroup.Group
	g.Go(func() error {
		var err error
		expandBatch, err = e.Expander.Propose(snap)
		return err
	})
	if e.UIExpansion {
		g.Go(func() error {
			var err error
			uiBatch, err = e.Projector.Project(snap, userFacingIDs(snap))
			return err
		})
	}
	if e.SalvageEnabled {
		g.Go(func() error {
			salvageBatch, _ = e.Projector.Salvage(snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("proposing deltas: %w", err)
	}

	merged := delta.Merge("pass", expandBatch, uiBatch, salvageBatch)
	guard := cycle.NewGuard(snap)
	filtered, remediations := guard.Filter(merged)
	if e.RefactorMaxOps > 0 {
		var deferred int
		filtered, deferred = capRefactors(filtered, e.RefactorMaxOps)
		if deferred > 0 {
			log.Info("refactor ops deferred", "deferred", deferred, "cap", e.RefactorMaxOps)
		}
	}
	if len(remediations) > 0 {
		for _, r := range remediations {
			log.Info("cycle remediated", "pattern", r.Pattern, "edge", r.Edge.From+" -> "+r.Edge.To)
		}
	}

	// Abandon point: nothing below commits if the caller gave up.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pass abandoned: %w", err)
	}
	if err := apply(filtered); err != nil {
		return nil, fmt.Errorf("applying pass deltas: %w", err)
	}

	final := e.Store.Snapshot()
	report := e.Prover.Compute(final)
	order := e.Scheduler.Order(final)

	postBatch, postGaps := e.Guardrail.PostCheck(final, report)
	if err := apply(postBatch); err != nil {
		return nil, fmt.Errorf("guardrail post-check: %w", err)
	}

	if len(changed) > 0 {
		policy := e.SemverPolicy
		if policy == "minor-on-additive" {
			policy = "minor"
			if refactored {
				policy = "major"
			}
		}
		e.Store.SetPlanVersion(nextPlanVersion(e.Store.PlanVersion(), policy))
	}

	if e.passes != nil {
		e.passes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("complete", report.AllPassed)))
	}
	log.Info("pass finished",
		"plan_version", e.Store.PlanVersion(),
		"changed", len(changed),
		"task_order", len(order),
		"complete", report.AllPassed,
	)

	res := &Result{
		RunID:        runID,
		PlanVersion:  e.Store.PlanVersion(),
		Deltas:       EmitShards(delta.Merge("pass", applied...), e.Budget),
		TaskOrder:    order,
		TopGaps:      topGaps(append(preGaps, postGaps...), e.MaxGaps),
		ChangedNodes: dedupeSorted(changed),
		Manifest:     e.Store.Snapshot().Manifest(),
		Proofs:       report,
		Remediations: remediations,
		Complete:     report.AllPassed,
		Elapsed:      time.Since(start),
	}
	return res, nil
}

// seedIntent adds the Intent node for a new feature request.
func (e *Engine) seedIntent(in Input) error {
	if in.FeatureID == "" || in.Intent == "" {
		return nil
	}
	id := "intent:" + idgen.Slug(in.FeatureID, 4)
	if e.Store.Snapshot().Has(id) {
		return nil
	}
	_, err := e.Store.Apply(&delta.Batch{Actor: "pass", Ops: []delta.Op{{
		Kind: delta.KindAddNode,
		Node: &types.Node{
			ID:        id,
			Type:      types.TypeIntent,
			Status:    types.StatusOpen,
			Statement: in.Intent,
		},
	}}})
	if err != nil {
		return fmt.Errorf("seeding intent: %w", err)
	}
	return nil
}

// userFacingIDs lists the live non-UI nodes that owe the projection
// protocol an answer.
func userFacingIDs(snap *graph.Snapshot) []string {
	uf := true
	var out []string
	for _, n := range snap.Nodes(types.NodeFilter{UserFacing: &uf}) {
		if !n.IsRetired() && !n.Type.IsUIType() {
			out = append(out, n.ID)
		}
	}
	return out
}

// topGaps sorts gaps by node id and caps the list.
func topGaps(gaps []types.Gap, max int) []types.Gap {
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].NodeID != gaps[j].NodeID {
			return gaps[i].NodeID < gaps[j].NodeID
		}
		return gaps[i].Kind < gaps[j].Kind
	})
	if max > 0 && len(gaps) > max {
		gaps = gaps[:max]
	}
	return gaps
}

func dedupeSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	var prev string
	for _, id := range ids {
		if id != prev {
			out = append(out, id)
			prev = id
		}
	}
	return out
}

// refactorKinds are the structural rewrites capped per pass by
// RefactorMaxOps. Additive ops are never deferred.
var refactorKinds = map[delta.Kind]bool{
	delta.KindSplitNode:  true,
	delta.KindMergeNodes: true,
	delta.KindRetireNode: true,
}

// capRefactors keeps at most max refactor ops in the batch, in op order,
// and reports how many were deferred. Everything else passes through.
func capRefactors(b *delta.Batch, max int) (*delta.Batch, int) {
	if b == nil || b.IsEmpty() {
		return b, 0
	}
	kept := make([]delta.Op, 0, len(b.Ops))
	var refactors, deferred int
	for _, op := range b.Ops {
		if refactorKinds[op.Kind] {
			if refactors >= max {
				deferred++
				continue
			}
			refactors++
		}
		kept = append(kept, op)
	}
	if deferred == 0 {
		return b, 0
	}
	return &delta.Batch{Actor: b.Actor, Ops: kept}, deferred
}

// nextPlanVersion bumps a plan version label. Labels are vN or
// vMAJOR.MINOR.PATCH; policy names the dotted segment to bump and also
// promotes a vN label into dotted form. Unrecognized labels restart at v2.
func nextPlanVersion(v, policy string) string {
	var maj, min, pat int
	if _, err := fmt.Sscanf(v, "v%d.%d.%d", &maj, &min, &pat); err == nil {
		switch policy {
		case "major":
			return fmt.Sprintf("v%d.0.0", maj+1)
		case "patch":
			return fmt.Sprintf("v%d.%d.%d", maj, min, pat+1)
		default:
			return fmt.Sprintf("v%d.%d.0", maj, min+1)
		}
	}
	var n int
	if _, err := fmt.Sscanf(v, "v%d", &n); err != nil || n < 1 {
		return "v2"
	}
	switch policy {
	case "major":
		return fmt.Sprintf("v%d.0.0", n+1)
	case "minor":
		return fmt.Sprintf("v%d.1.0", n)
	case "patch":
		return fmt.Sprintf("v%d.0.1", n)
	default:
		return fmt.Sprintf("v%d", n+1)
	}
}
