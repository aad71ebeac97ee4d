package expand

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/trellisplan/trellis/internal/types"
)

// ChildRule is one required child in the expansion table: a node of Type
// must have at least Min live children of Child attached by Edge.
type ChildRule struct {
	Child  types.NodeType
	Min    int
	Edge   types.EdgeType
	Prefix string // id prefix for generated skeletons

	// When names a node field gating the rule: the rule applies only to
	// nodes whose field holds "true". Empty applies to every node of the
	// row's type.
	When string
}

// applies reports whether the rule binds the given node.
func (r ChildRule) applies(n *types.Node) bool {
	return r.When == "" || n.Fields[r.When] == "true"
}

// Table is the expansion table: node type -> required children. ChangeSpec
// interaction coverage is not a row here; it is computed per state cluster
// (see Clusters) because the required count varies by node.
type Table map[types.NodeType][]ChildRule

// DefaultTable returns the built-in expansion table.
func DefaultTable() Table {
	return Table{
		types.TypeIntent: {
			{Child: types.TypeCapability, Min: 1, Edge: types.EdgeTracesTo, Prefix: "cap"},
		},
		types.TypeCapability: {
			{Child: types.TypeScenario, Min: 1, Edge: types.EdgeTracesTo, Prefix: "scenario"},
			{Child: types.TypeArchitecture, Min: 1, Edge: types.EdgeTracesTo, Prefix: "arch", When: "non_trivial"},
		},
		types.TypeScenario: {
			{Child: types.TypeRequirement, Min: 1, Edge: types.EdgeTracesTo, Prefix: "req"},
		},
		types.TypeRequirement: {
			{Child: types.TypeContract, Min: 1, Edge: types.EdgeDependsOn, Prefix: "contract"},
			{Child: types.TypeChangeSpec, Min: 1, Edge: types.EdgeTracesTo, Prefix: "change"},
		},
	}
}

// requiredFields lists the type-specific checklist a node must fill before
// it can graduate to Ready. Values the engine cannot derive are never
// invented; a missing one becomes an OpenQuestion at expansion time.
var requiredFields = map[types.NodeType][]string{
	types.TypeChangeSpec:      {"owner", "estimate", "acceptance"},
	types.TypeContract:        {"versioning", "error_taxonomy", "idempotency", "timeouts"},
	types.TypeDataContract:    {"schema", "indices", "retention", "pii", "region", "backup_restore", "migration_plan", "migration_tests"},
	types.TypeInteractionSpec: {"method", "interface", "operation", "preconditions", "effects", "errors", "resilience", "observability", "security", "mocks", "acceptance"},
	types.TypeMigrationSpec:   {"forward", "backfill", "rollback"},
}

// RequiredFields returns the checklist for a node type, nil when the type
// has no checklist.
func RequiredFields(nt types.NodeType) []string {
	return requiredFields[nt]
}

// fileOverrides is the TOML shape for table and factor overrides.
//
//	[table.Capability]
//	children = [{child = "Architecture", min = 1, edge = "traces_to", prefix = "arch"}]
//
//	[factors]
//	token = ["fresh", "expired"]
type fileOverrides struct {
	Table map[string]struct {
		Children []struct {
			Child  string `toml:"child"`
			Min    int    `toml:"min"`
			Edge   string `toml:"edge"`
			Prefix string `toml:"prefix"`
			When   string `toml:"when"`
		} `toml:"children"`
	} `toml:"table"`
	Factors map[string][]string `toml:"factors"`
}

// LoadOverrides reads an expansion override file and applies it on top of
// the defaults. Table entries replace the whole row for their type; factor
// entries replace the value list for their factor name.
func LoadOverrides(path string, table Table, factors []Factor) (Table, []Factor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading expansion overrides: %w", err)
	}
	var f fileOverrides
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("parsing expansion overrides: %w", err)
	}

	for name, row := range f.Table {
		nt := types.NodeType(name)
		if !nt.IsValid() {
			return nil, nil, fmt.Errorf("expansion overrides: unknown node type %q", name)
		}
		var rules []ChildRule
		for _, c := range row.Children {
			ct := types.NodeType(c.Child)
			et := types.EdgeType(c.Edge)
			if !ct.IsValid() {
				return nil, nil, fmt.Errorf("expansion overrides: unknown child type %q", c.Child)
			}
			if !et.IsValid() {
				return nil, nil, fmt.Errorf("expansion overrides: unknown edge type %q", c.Edge)
			}
			min := c.Min
			if min < 1 {
				min = 1
			}
			rules = append(rules, ChildRule{Child: ct, Min: min, Edge: et, Prefix: c.Prefix, When: c.When})
		}
		table[nt] = rules
	}

	if len(f.Factors) > 0 {
		byName := make(map[string]int, len(factors))
		for i, fc := range factors {
			byName[fc.Name] = i
		}
		// Known factors keep their canonical position; new ones append in
		// name order so cluster enumeration stays deterministic.
		var added []string
		for name, values := range f.Factors {
			if len(values) == 0 {
				return nil, nil, fmt.Errorf("expansion overrides: factor %q has no values", name)
			}
			if i, ok := byName[name]; ok {
				factors[i].Values = values
			} else {
				added = append(added, name)
			}
		}
		sort.Strings(added)
		for _, name := range added {
			factors = append(factors, Factor{Name: name, Values: f.Factors[name]})
		}
	}
	return table, factors, nil
}
