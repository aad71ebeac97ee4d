package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"charm.land/glamour/v2"
	"charm.land/glamour/v2/styles"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

var reportRaw bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a markdown status report for the plan",
	Long: `Builds a markdown report of the plan's current state: manifest,
proof results, open questions and the scheduled task order. Rendered for
the terminal unless --raw is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		snap := appStore.Snapshot()
		md := buildReport(snap, time.Now())
		if reportRaw {
			fmt.Print(md)
			return
		}
		fmt.Print(renderMarkdown(md))
	},
}

func buildReport(s *graph.Snapshot, now time.Time) string {
	m := s.Manifest()
	report := appEngine.Prover.Compute(s)

	var b strings.Builder
	title := m.PlanVersion
	if title == "" {
		title = "unversioned plan"
	}
	fmt.Fprintf(&b, "# Plan report: %s\n\n", title)
	fmt.Fprintf(&b, "Generated %s.\n\n", now.Format("2006-01-02 15:04"))

	fmt.Fprintf(&b, "## Manifest\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Nodes | %d (%d UI) |\n", m.Nodes, m.UINodes)
	fmt.Fprintf(&b, "| Edges | %d |\n", m.Edges)
	fmt.Fprintf(&b, "| Ready / Blocked / Retired | %d / %d / %d |\n", m.Ready, m.Blocked, m.Retired)
	fmt.Fprintf(&b, "| Open questions | %d |\n\n", m.Questions)

	fmt.Fprintf(&b, "## Proofs\n\n")
	fmt.Fprintf(&b, "| Proof | Score | Status |\n|---|---|---|\n")
	for _, res := range report.Results {
		status := "pass"
		if !res.Passed {
			status = "**FAIL**"
		}
		fmt.Fprintf(&b, "| %s %s | %.1f%% | %s |\n", res.ID, res.Name, res.Score*100, status)
	}
	if report.AllPassed {
		fmt.Fprintf(&b, "\nAll proofs hold.\n\n")
	} else {
		fmt.Fprintf(&b, "\nPlan is incomplete; run `tl pass` to generate follow-ups.\n\n")
	}

	var qs []*types.Node
	for _, q := range s.NodesByType(types.TypeOpenQuestion) {
		if !q.IsResolved() {
			qs = append(qs, q)
		}
	}
	if len(qs) > 0 {
		sort.Slice(qs, func(i, j int) bool { return qs[i].Question.Due.Before(qs[j].Question.Due) })
		fmt.Fprintf(&b, "## Open questions\n\n")
		for _, q := range qs {
			fmt.Fprintf(&b, "- `%s` (due %s, %s): %s\n",
				q.ID, q.Question.Due.Format("2006-01-02"), q.Question.Owner, q.Statement)
		}
		fmt.Fprintf(&b, "\n")
	}

	if order := appEngine.Scheduler.Order(s); len(order) > 0 {
		fmt.Fprintf(&b, "## Task order\n\n")
		limit := len(order)
		if limit > 20 {
			limit = 20
		}
		for i, id := range order[:limit] {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, id)
		}
		if limit < len(order) {
			fmt.Fprintf(&b, "\n...and %s more.\n", plural(len(order)-limit, "task"))
		}
		fmt.Fprintf(&b, "\n")
	}
	return b.String()
}

// renderMarkdown renders for the terminal, picking the style from the
// detected background. Falls back to the raw text if rendering fails.
func renderMarkdown(md string) string {
	style := styles.LightStyle
	if termenv.HasDarkBackground() {
		style = styles.DarkStyle
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(termWidth()),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print plain markdown without terminal rendering")
	rootCmd.AddCommand(reportCmd)
}
