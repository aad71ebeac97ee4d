package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var proofsCmd = &cobra.Command{
	Use:   "proofs",
	Short: "Compute and display the proof report (P1-P13)",
	Run: func(cmd *cobra.Command, args []string) {
		report := appEngine.Prover.Compute(appStore.Snapshot())

		if jsonOutput {
			printJSON(report)
			return
		}

		fmt.Println(titleStyle.Render("proof report"))
		for _, r := range report.Results {
			fmt.Printf("%-4s %s %6.1f%%  %s\n", r.ID, passFail(r.Passed), r.Score*100, r.Name)
		}
		if report.AllPassed {
			fmt.Println(passStyle.Render("all proofs hold"))
		} else {
			fmt.Println(failStyle.Render(fmt.Sprintf("%s failing", plural(len(report.Failing()), "proof"))))
		}
	},
}

var frontierCmd = &cobra.Command{
	Use:   "frontier",
	Short: "List unexpanded nonterminal nodes",
	Run: func(cmd *cobra.Command, args []string) {
		frontier := appEngine.Expander.Frontier(appStore.Snapshot())

		if jsonOutput {
			printJSON(map[string]interface{}{"frontier": frontier})
			return
		}
		if len(frontier) == 0 {
			fmt.Println("frontier is empty: every node is fully expanded")
			return
		}
		for _, id := range frontier {
			fmt.Println(id)
		}
		fmt.Println(dimStyle.Render(plural(len(frontier), "unexpanded node")))
	},
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print the scheduled task order",
	Long: `Prints work items that clear the start gate, dependencies first,
ties broken by ascending id. Gated-out items are omitted.`,
	Run: func(cmd *cobra.Command, args []string) {
		order := appEngine.Scheduler.Order(appStore.Snapshot())

		if jsonOutput {
			printJSON(map[string]interface{}{"task_order": order})
			return
		}
		if len(order) == 0 {
			fmt.Println("nothing is ready to start")
			return
		}
		for i, id := range order {
			fmt.Printf("%3d. %s\n", i+1, id)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show plan manifest counts",
	Run: func(cmd *cobra.Command, args []string) {
		m := appStore.Snapshot().Manifest()

		if jsonOutput {
			printJSON(m)
			return
		}
		fmt.Println(titleStyle.Render("plan " + m.PlanVersion))
		fmt.Printf("nodes      %d\n", m.Nodes)
		fmt.Printf("edges      %d\n", m.Edges)
		fmt.Printf("ready      %d\n", m.Ready)
		fmt.Printf("blocked    %d\n", m.Blocked)
		fmt.Printf("retired    %d\n", m.Retired)
		fmt.Printf("ui nodes   %d\n", m.UINodes)
		fmt.Printf("questions  %d\n", m.Questions)
	},
}

func init() {
	rootCmd.AddCommand(proofsCmd, frontierCmd, orderCmd, statsCmd)
}
