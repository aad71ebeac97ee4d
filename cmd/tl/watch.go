package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/snapshot"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompute proofs whenever the plan directory changes",
	Long: `Watches the plan directory and reprints the proof summary after each
settled write. Useful in a second terminal while another session runs
passes. Ctrl+C stops watching.`,
	Run: func(cmd *cobra.Command, args []string) {
		printProofLine()
		fmt.Println(dimStyle.Render("watching " + appPlanDir + " (ctrl+c to stop)"))

		err := snapshot.Watch(rootCtx, appPlanDir, watchDebounce, func() {
			store, err := snapshot.Load(appPlanDir)
			if err != nil {
				fmt.Println(failStyle.Render(fmt.Sprintf("reload failed: %v", err)))
				return
			}
			appStore = store
			engine, err := appKnobs.Engine(store)
			if err != nil {
				fmt.Println(failStyle.Render(fmt.Sprintf("reload failed: %v", err)))
				return
			}
			appEngine = engine
			printProofLine()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal("%v", err)
		}
	},
}

func printProofLine() {
	snap := appStore.Snapshot()
	report := appEngine.Prover.Compute(snap)
	failing := 0
	for _, res := range report.Results {
		if !res.Passed {
			failing++
		}
	}
	m := snap.Manifest()
	stamp := time.Now().Format("15:04:05")
	if report.AllPassed {
		fmt.Printf("%s %s  %d nodes, %d edges\n", dimStyle.Render(stamp),
			passStyle.Render("all proofs hold"), m.Nodes, m.Edges)
		return
	}
	fmt.Printf("%s %s  %d nodes, %s open\n", dimStyle.Render(stamp),
		failStyle.Render(plural(failing, "proof")+" failing"), m.Nodes,
		plural(m.Questions, "question"))
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 250*time.Millisecond, "settle time before reloading")
	rootCmd.AddCommand(watchCmd)
}
