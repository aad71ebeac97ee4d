package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/pass"
)

var (
	passFeature string
	passIntent  string
	passPrior   string
)

var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run one planning pass",
	Long: `Runs one full pass: seeds the intent if new, blocks low-confidence
branches, expands the frontier, projects UI obligations, filters cycles,
computes proofs, and schedules ready work. The plan directory is flushed
afterwards.`,
	Run: func(cmd *cobra.Command, args []string) {
		if passFeature == "" {
			fatal("--feature is required")
		}

		res, err := appEngine.Run(rootCtx, pass.Input{
			FeatureID:        passFeature,
			Intent:           passIntent,
			PriorPlanVersion: passPrior,
		})
		if err != nil {
			fatal("pass failed: %v", err)
		}
		planDirty = true

		if jsonOutput {
			printJSON(res)
			return
		}
		printPassSummary(res)
	},
}

func printPassSummary(res *pass.Result) {
	fmt.Println(titleStyle.Render("pass " + res.RunID[:8]))
	fmt.Printf("plan version  %s\n", res.PlanVersion)
	fmt.Printf("changed       %s\n", plural(len(res.ChangedNodes), "node"))
	fmt.Printf("task order    %s\n", plural(len(res.TaskOrder), "task"))
	fmt.Printf("delta shards  %d\n", len(res.Deltas))
	fmt.Printf("elapsed       %s\n", res.Elapsed)

	if res.Proofs != nil {
		failing := res.Proofs.Failing()
		if len(failing) == 0 {
			fmt.Printf("proofs        %s\n", passFail(true))
		} else {
			fmt.Printf("proofs        %s %v\n", passFail(false), failing)
		}
	}

	for _, r := range res.Remediations {
		fmt.Println(dimStyle.Render(fmt.Sprintf("cycle remediated: %s (%s -> %s)", r.Pattern, r.Edge.From, r.Edge.To)))
	}
	for _, g := range res.TopGaps {
		fmt.Println(dimStyle.Render(fmt.Sprintf("gap: %-28s %s", g.Kind, g.NodeID)))
	}
	if res.Complete {
		fmt.Println(passStyle.Render("plan complete: all proofs hold"))
	}
}

func init() {
	passCmd.Flags().StringVar(&passFeature, "feature", "", "Feature identifier (required)")
	passCmd.Flags().StringVar(&passIntent, "intent", "", "One-sentence intent for the feature")
	passCmd.Flags().StringVar(&passPrior, "prior-version", "", "Expected plan version; the pass aborts when stale")
	rootCmd.AddCommand(passCmd)
}
