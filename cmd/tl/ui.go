package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/types"
	"github.com/trellisplan/trellis/internal/uiproj"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Work through UI obligations on user-facing nodes",
}

var uiAnswerFlags []string

var uiAskCmd = &cobra.Command{
	Use:   "ask <id>",
	Short: "Answer the UI questionnaire for a node",
	Long: `Walks the fixed UI questionnaire for a user-facing node and records
the answers on the node. Answering "no" to the presence question requires
a rationale; the next pass turns it into an owned exclusion instead of
silence.

Pass --answer id=value to fill questions without the interactive form.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		snap := appStore.Snapshot()
		n, err := snap.Node(id)
		if err != nil {
			fatal("%v", err)
		}
		if !n.UserFacing {
			fatal("%s is not marked user-facing", id)
		}

		answers := make(map[string]string, len(n.UIAnswers))
		for k, v := range n.UIAnswers {
			answers[k] = v
		}

		if len(uiAnswerFlags) > 0 {
			for _, kv := range uiAnswerFlags {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					fatal("bad --answer %q, want id=value", kv)
				}
				if k != "rationale" && uiproj.QuestionByID(k) == nil {
					fatal("unknown question %q", k)
				}
				answers[k] = v
			}
		} else if err := runUIForm(n, answers); err != nil {
			fatal("%v", err)
		}

		res, err := appStore.Apply(&delta.Batch{Actor: appKnobs.Actor, Ops: []delta.Op{
			{Kind: delta.KindUpdateNode, NodeID: id, Patch: &delta.Patch{UIAnswers: answers}},
		}})
		if err != nil {
			fatal("%v", err)
		}
		planDirty = true
		for _, rej := range res.Rejected {
			fatal("rejected: %s (%s)", rej.Reason, rej.Detail)
		}

		if uiproj.Answered(answers) {
			fmt.Printf("%s: questionnaire complete, next pass will project UI nodes\n", id)
		} else {
			var missing []string
			for _, q := range uiproj.Protocol {
				if answers[q.ID] == "" {
					missing = append(missing, q.ID)
				}
			}
			fmt.Printf("%s: %s still unanswered\n", id, strings.Join(missing, ", "))
		}
	},
}

// runUIForm asks the presence question first; a "no" collapses the rest of
// the protocol into a single rationale prompt.
func runUIForm(n *types.Node, answers map[string]string) error {
	presence := answers["presence"]
	pq := uiproj.QuestionByID("presence")
	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(pq.Prompt).
			Description(n.Statement).
			Options(huh.NewOptions(pq.Options...)...).
			Value(&presence),
	)).Run(); err != nil {
		return err
	}
	answers["presence"] = presence

	if presence == "no" {
		rationale := answers["rationale"]
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Why does this need no UI?").
				Description("Recorded on the exclusion node").
				Value(&rationale).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("rationale is required for a no-UI answer")
					}
					return nil
				}),
		)).Run(); err != nil {
			return err
		}
		answers["rationale"] = rationale
		return nil
	}

	var fields []huh.Field
	// vals is sized up front so the form's value pointers stay valid.
	vals := make([]string, len(uiproj.Protocol))
	var ids []string
	for _, q := range uiproj.Protocol {
		if q.ID == "presence" {
			continue
		}
		vals[len(ids)] = answers[q.ID]
		v := &vals[len(ids)]
		ids = append(ids, q.ID)
		if len(q.Options) > 0 {
			fields = append(fields, huh.NewSelect[string]().
				Title(q.Prompt).
				Options(huh.NewOptions(q.Options...)...).
				Value(v))
		} else {
			fields = append(fields, huh.NewInput().
				Title(q.Prompt).
				Value(v))
		}
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	for i, id := range ids {
		if vals[i] != "" {
			answers[id] = vals[i]
		}
	}
	return nil
}

var uiSalvageCmd = &cobra.Command{
	Use:   "salvage",
	Short: "Reclassify orphaned UI nodes after their parents changed",
	Long: `Sweeps UI nodes whose parent was retired or rewritten and either
reattaches them under a matching bucket or retires them with the keyword
that decided it.`,
	Run: func(cmd *cobra.Command, args []string) {
		snap := appStore.Snapshot()
		batch, decisions := appEngine.Projector.Salvage(snap)
		if len(decisions) == 0 {
			fmt.Println("nothing to salvage")
			return
		}
		if !batch.IsEmpty() {
			res, err := appStore.Apply(batch)
			if err != nil {
				fatal("%v", err)
			}
			planDirty = true
			for _, rej := range res.Rejected {
				fmt.Println(failStyle.Render(fmt.Sprintf("rejected: %s (%s)", rej.Reason, rej.Detail)))
			}
		}
		if jsonOutput {
			printJSON(decisions)
			return
		}
		for _, d := range decisions {
			line := fmt.Sprintf("%-40s -> %s", d.NodeID, d.Bucket)
			if d.Keyword != "" {
				line += dimStyle.Render(" (" + d.Keyword + ")")
			}
			fmt.Println(line)
		}
	},
}

func init() {
	uiAskCmd.Flags().StringArrayVar(&uiAnswerFlags, "answer", nil, "answer a question directly (id=value, repeatable)")
	uiCmd.AddCommand(uiAskCmd, uiSalvageCmd)
	rootCmd.AddCommand(uiCmd)
}
