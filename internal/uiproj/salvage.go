package uiproj

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/types"
)

// Bucket is a salvage destination for a mis-tagged Screen node. Automated
// classification produces Screens for things that are really backend
// operations, policies, or fragments of a larger surface; salvage sorts
// them before anything is discarded.
type Bucket string

const (
	BucketKeep            Bucket = "keep"
	BucketDashboardPanel  Bucket = "dashboard-panel"
	BucketSettingsSection Bucket = "settings-section"
	BucketComponent       Bucket = "component"
	BucketAdminTool       Bucket = "admin-tool"
	BucketUXFlow          Bucket = "ux-flow"
	BucketDeleteNoUI      Bucket = "delete-no-ui"
)

// Rules holds the keyword lists driving classification. The lists are
// configuration, not algorithm: projects tune them the way they tune any
// other knob.
type Rules struct {
	DashboardPanel  []string `toml:"dashboard_panel"`
	SettingsSection []string `toml:"settings_section"`
	Component       []string `toml:"component"`
	AdminTool       []string `toml:"admin_tool"`
	UXFlow          []string `toml:"ux_flow"`
	DeleteNoUI      []string `toml:"delete_no_ui"`
	Keep            []string `toml:"keep"`
}

// DefaultRules returns the built-in keyword lists.
func DefaultRules() Rules {
	return Rules{
		DashboardPanel: []string{
			"monitoring", "analytics", "metric", "dashboard", "slo",
			"alert", "observability", "trace", "sampled",
		},
		SettingsSection: []string{
			"preferences", "settings", "configuration", "feature-flag", "toggle",
		},
		Component: []string{
			"modal", "overlay", "dialog", "drawer", "toast", "popup",
		},
		AdminTool: []string{
			"admin", "moderation", "moderated", "quota", "rate-limit", "audit",
		},
		UXFlow: []string{
			"user-navigates", "user-opens", "user-logs", "user-switches",
			"user-edits", "user-uploads", "onboarding", "wizard",
		},
		DeleteNoUI: []string{
			"queue", "worker", "backpressure", "cdn", "caching", "backfill",
			"migration", "kms", "secret-is-rotated", "token-refresh",
			"endpoint", "http", "csrf", "cors", "retention", "taxonomy",
		},
		Keep: []string{
			"feed", "profile", "compose", "bookmarks", "thread",
			"editor", "view", "display",
		},
	}
}

// LoadRules reads keyword overrides from a TOML file; lists present in the
// file replace the defaults entirely.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("reading salvage rules: %w", err)
	}
	var f struct {
		Salvage Rules `toml:"salvage"`
	}
	if err := toml.Unmarshal(raw, &f); err != nil {
		return rules, fmt.Errorf("parsing salvage rules: %w", err)
	}
	merge := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	merge(&rules.DashboardPanel, f.Salvage.DashboardPanel)
	merge(&rules.SettingsSection, f.Salvage.SettingsSection)
	merge(&rules.Component, f.Salvage.Component)
	merge(&rules.AdminTool, f.Salvage.AdminTool)
	merge(&rules.UXFlow, f.Salvage.UXFlow)
	merge(&rules.DeleteNoUI, f.Salvage.DeleteNoUI)
	merge(&rules.Keep, f.Salvage.Keep)
	return rules, nil
}

// Classify sorts one Screen node into a bucket and reports the keyword
// that decided it. Keep wins over everything; delete-no-ui is last so a
// genuine screen mentioning a queue stays a screen.
func (r Rules) Classify(n *types.Node) (Bucket, string) {
	text := strings.ToLower(n.ID + " " + n.Statement + " " + n.Fields["purpose"])

	match := func(keywords []string) string {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return kw
			}
		}
		return ""
	}

	if kw := match(r.Keep); kw != "" {
		return BucketKeep, kw
	}
	if kw := match(r.DashboardPanel); kw != "" {
		return BucketDashboardPanel, kw
	}
	if kw := match(r.SettingsSection); kw != "" {
		return BucketSettingsSection, kw
	}
	if kw := match(r.Component); kw != "" {
		return BucketComponent, kw
	}
	if kw := match(r.AdminTool); kw != "" {
		return BucketAdminTool, kw
	}
	if kw := match(r.UXFlow); kw != "" {
		return BucketUXFlow, kw
	}
	if kw := match(r.DeleteNoUI); kw != "" {
		return BucketDeleteNoUI, kw
	}
	return BucketKeep, ""
}

// bucketTarget maps a salvage bucket to the consolidated node type it
// produces.
func bucketTarget(b Bucket) (types.NodeType, string) {
	switch b {
	case BucketDashboardPanel:
		return types.TypeDashboard, "dashboard"
	case BucketSettingsSection:
		return types.TypeSettingsSpec, "settings"
	case BucketComponent:
		return types.TypeUIComponentContract, "uicc"
	case BucketAdminTool:
		return types.TypeDashboard, "admintool"
	case BucketUXFlow:
		return types.TypeUXFlow, "flow"
	default:
		return "", ""
	}
}

// Salvage classifies every live Screen node and consolidates the
// mis-tagged ones: within a bucket, candidates sharing a deciding keyword
// merge into one shared artifact, with evolved_from edges keeping the
// history. The delete-no-ui bucket retires its members behind an owned
// Exclusion; nothing disappears without a record.
func (e *Engine) Salvage(snap *graph.Snapshot) (*delta.Batch, []SalvageDecision) {
	b := &delta.Batch{Actor: "salvage"}
	var decisions []SalvageDecision

	// theme key -> member ids
	groups := make(map[string][]string)
	byID := make(map[string]*types.Node)
	for _, n := range snap.NodesByType(types.TypeScreen) {
		bucket, keyword := e.Rules.Classify(n)
		decisions = append(decisions, SalvageDecision{NodeID: n.ID, Bucket: bucket, Keyword: keyword})
		if bucket == BucketKeep {
			continue
		}
		key := string(bucket) + "\x00" + keyword
		groups[key] = append(groups[key], n.ID)
		byID[n.ID] = n
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.SplitN(key, "\x00", 2)
		bucket, keyword := Bucket(parts[0]), parts[1]
		members := groups[key]
		sort.Strings(members)

		if bucket == BucketDeleteNoUI {
			for _, id := range members {
				e.retireNonUI(b, snap, byID[id], keyword)
			}
			continue
		}

		nt, prefix := bucketTarget(bucket)
		targetID := idgen.Child(prefix, "salvage:"+keyword, "")
		if !snap.Has(targetID) {
			target := &types.Node{
				ID:         targetID,
				Type:       nt,
				Status:     types.StatusOpen,
				Statement:  fmt.Sprintf("Consolidated %s surface for %s", bucket, keyword),
				Owner:      e.DefaultOwner,
				Fields:     map[string]string{"salvaged_from": strings.Join(members, ",")},
				UserFacing: true,
				Confidence: 1,
			}
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: target})
		}
		b.Ops = append(b.Ops, delta.Op{
			Kind:    delta.KindMergeNodes,
			Sources: members,
			Target:  targetID,
			Reason:  fmt.Sprintf("screen salvage: %s/%s", bucket, keyword),
		})
	}
	b.SortOps()
	return b, decisions
}

// retireNonUI retires a Screen that is really backend behavior, leaving an
// Exclusion with owner and rationale in its place.
func (e *Engine) retireNonUI(b *delta.Batch, snap *graph.Snapshot, n *types.Node, keyword string) {
	exID := idgen.Child("excl", n.ID, "")
	if !snap.Has(exID) {
		ex := &types.Node{
			ID:         exID,
			Type:       types.TypeExclusion,
			Status:     types.StatusOpen,
			Statement:  fmt.Sprintf("%s is backend behavior (%s), not a screen", n.ID, keyword),
			Owner:      e.owner(n),
			Confidence: 1,
		}
		b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: ex})
		b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
			Edge: &types.Edge{From: exID, To: n.ID, Type: types.EdgeTracesTo}})
	}
	b.Ops = append(b.Ops, delta.Op{Kind: delta.KindRetireNode, NodeID: n.ID,
		Reason: "salvage: no user interface (" + keyword + ")"})
}

// SalvageDecision records where one Screen candidate landed.
type SalvageDecision struct {
	NodeID  string `json:"node_id"`
	Bucket  Bucket `json:"bucket"`
	Keyword string `json:"keyword,omitempty"`
}
