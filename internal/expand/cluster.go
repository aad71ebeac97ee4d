package expand

import (
	"sort"
	"strings"

	"github.com/trellisplan/trellis/internal/types"
)

// Factor is one axis of externally observable state: a name and the
// mutually exclusive, exhaustive values it can take.
type Factor struct {
	Name   string
	Values []string
}

// DefaultFactors returns the built-in state factors. A factor enters a
// node's cluster enumeration only when the node names it, so single-value
// region stays out of the product unless behavior actually differs.
func DefaultFactors() []Factor {
	return []Factor{
		{Name: "token", Values: []string{"fresh", "expired"}},
		{Name: "quota", Values: []string{"under", "over"}},
		{Name: "cache", Values: []string{"hit", "miss"}},
		{Name: "network", Values: []string{"ok", "flaky"}},
		{Name: "region", Values: []string{"primary"}},
	}
}

// Cluster is one realized combination of factor values. Pairs keep the
// factor order of the enumeration, so the slug is stable.
type Cluster struct {
	Pairs []FactorValue
}

// FactorValue is one name=value assignment inside a cluster.
type FactorValue struct {
	Name  string
	Value string
}

// Slug renders the cluster as an id fragment: "token-fresh-cache-hit".
func (c Cluster) Slug() string {
	parts := make([]string, 0, len(c.Pairs)*2)
	for _, p := range c.Pairs {
		parts = append(parts, p.Name, p.Value)
	}
	return strings.Join(parts, "-")
}

// String renders the cluster for display: "token=fresh cache=hit".
func (c Cluster) String() string {
	parts := make([]string, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		parts = append(parts, p.Name+"="+p.Value)
	}
	return strings.Join(parts, " ")
}

// baseline is the cluster used when a node declares no state factors: the
// single happy-path combination.
func baseline() Cluster {
	return Cluster{Pairs: []FactorValue{
		{Name: "token", Value: "fresh"},
		{Name: "quota", Value: "under"},
		{Name: "network", Value: "ok"},
	}}
}

// Clusters enumerates the state clusters a node requires coverage for. The
// node opts factors in through the state_factors field (comma-separated
// names); only declared factors enter the cartesian product. Undeclared
// means one baseline cluster: enumerate what changes control flow, not
// every combination imaginable.
func Clusters(n *types.Node, factors []Factor) []Cluster {
	declared := splitList(n.Fields["state_factors"])
	if len(declared) == 0 {
		return []Cluster{baseline()}
	}

	byName := make(map[string]Factor, len(factors))
	for _, f := range factors {
		byName[f.Name] = f
	}

	// Unknown names are kept as single-value factors so a typo shows up as
	// a visible odd cluster instead of being silently dropped.
	active := make([]Factor, 0, len(declared))
	for _, name := range declared {
		if f, ok := byName[name]; ok {
			active = append(active, f)
		} else {
			active = append(active, Factor{Name: name, Values: []string{"unspecified"}})
		}
	}

	out := []Cluster{{}}
	for _, f := range active {
		next := make([]Cluster, 0, len(out)*len(f.Values))
		for _, c := range out {
			for _, v := range f.Values {
				pairs := make([]FactorValue, len(c.Pairs), len(c.Pairs)+1)
				copy(pairs, c.Pairs)
				next = append(next, Cluster{Pairs: append(pairs, FactorValue{Name: f.Name, Value: v})})
			}
		}
		out = next
	}
	return out
}

// splitList parses a comma-separated field value into trimmed, sorted,
// deduplicated entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !seen[part] {
			seen[part] = true
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}
