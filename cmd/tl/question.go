package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/delta"
	"github.com/trellisplan/trellis/internal/idgen"
	"github.com/trellisplan/trellis/internal/timeparsing"
	"github.com/trellisplan/trellis/internal/types"
)

var questionCmd = &cobra.Command{
	Use:     "question",
	Aliases: []string{"q"},
	Short:   "List, raise and resolve open questions",
}

var (
	questionAll    bool
	questionBlocks []string
	questionOwner  string
	questionDue    string
	questionHard   bool
)

var questionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open questions, soonest due first",
	Run: func(cmd *cobra.Command, args []string) {
		snap := appStore.Snapshot()
		var qs []*types.Node
		for _, q := range snap.AllNodesByType(types.TypeOpenQuestion) {
			if questionAll || (!q.IsResolved() && !q.IsRetired()) {
				qs = append(qs, q)
			}
		}
		sort.Slice(qs, func(i, j int) bool {
			return qs[i].Question.Due.Before(qs[j].Question.Due)
		})

		if jsonOutput {
			printJSON(qs)
			return
		}
		if len(qs) == 0 {
			fmt.Println("no open questions")
			return
		}
		now := time.Now()
		for _, q := range qs {
			due := q.Question.Due.Format("2006-01-02")
			if q.Question.Due.Before(now) && !q.IsResolved() {
				due = failStyle.Render(due + " overdue")
			}
			mark := " "
			if q.Question.HardBlocker {
				mark = "!"
			}
			if q.IsResolved() {
				mark = "✓"
			}
			fmt.Printf("%s %-40s %s  %s\n", mark, q.ID, due, q.Question.Owner)
			fmt.Println(dimStyle.Render("    " + q.Statement))
			if q.IsResolved() {
				fmt.Println(dimStyle.Render("    resolved: " + q.Question.Resolution))
			}
		}
	},
}

var questionAddCmd = &cobra.Command{
	Use:   "add <statement>",
	Short: "Raise an open question, optionally gating nodes behind it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stmt := strings.TrimSpace(args[0])
		if stmt == "" {
			fatal("question statement is empty")
		}

		due := time.Now().Add(appKnobs.QuestionLeadTime)
		if questionDue != "" {
			var err error
			due, err = timeparsing.ParseRelativeTime(questionDue, time.Now())
			if err != nil {
				fatal("%v", err)
			}
		}
		owner := questionOwner
		if owner == "" {
			owner = appKnobs.Actor
		}

		snap := appStore.Snapshot()
		for _, id := range questionBlocks {
			if !snap.Has(id) {
				fatal("unknown node %q", id)
			}
		}

		qid := "q:" + idgen.Slug(stmt, 5) + "-" + idgen.HashSuffix(stmt, 4)
		b := &delta.Batch{Actor: appKnobs.Actor}
		b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddNode, Node: &types.Node{
			ID:        qid,
			Type:      types.TypeOpenQuestion,
			Status:    types.StatusOpen,
			Statement: stmt,
			Question: &types.QuestionDetail{
				Owner:       owner,
				Due:         due,
				Blocks:      questionBlocks,
				HardBlocker: questionHard,
			},
			Confidence: 1,
		}})
		for _, id := range questionBlocks {
			b.Ops = append(b.Ops, delta.Op{Kind: delta.KindAddEdge,
				Edge: &types.Edge{From: id, To: qid, Type: types.EdgeGatedBy}})
			if questionHard {
				b.Ops = append(b.Ops, delta.Op{Kind: delta.KindPromoteStatus, NodeID: id, Status: types.StatusBlocked})
			}
		}

		res, err := appStore.Apply(b)
		if err != nil {
			fatal("%v", err)
		}
		planDirty = true
		for _, rej := range res.Rejected {
			fatal("rejected: %s (%s)", rej.Reason, rej.Detail)
		}
		fmt.Printf("raised %s, due %s\n", qid, due.Format("2006-01-02"))
	},
}

var questionResolveCmd = &cobra.Command{
	Use:   "resolve <id> <resolution>",
	Short: "Record the answer to an open question",
	Long: `Records the resolution on the question node. Nodes the question was
blocking stay blocked until the next pass re-evaluates them with the
answer in hand.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, resolution := args[0], strings.TrimSpace(args[1])
		if resolution == "" {
			fatal("resolution is empty")
		}
		snap := appStore.Snapshot()
		q, err := snap.Node(id)
		if err != nil {
			fatal("%v", err)
		}
		if q.Type != types.TypeOpenQuestion {
			fatal("%s is a %s, not an open question", id, q.Type)
		}
		if q.IsResolved() {
			fatal("%s is already resolved: %s", id, q.Question.Resolution)
		}

		res, err := appStore.Apply(&delta.Batch{Actor: appKnobs.Actor, Ops: []delta.Op{
			{Kind: delta.KindUpdateNode, NodeID: id, Patch: &delta.Patch{Resolution: &resolution}},
		}})
		if err != nil {
			fatal("%v", err)
		}
		planDirty = true
		for _, rej := range res.Rejected {
			fatal("rejected: %s (%s)", rej.Reason, rej.Detail)
		}
		fmt.Printf("resolved %s\n", id)
	},
}

func init() {
	questionListCmd.Flags().BoolVar(&questionAll, "all", false, "include resolved questions")
	questionAddCmd.Flags().StringSliceVar(&questionBlocks, "blocks", nil, "node ids this question gates")
	questionAddCmd.Flags().StringVar(&questionOwner, "owner", "", "who owes the answer (default: configured actor)")
	questionAddCmd.Flags().StringVar(&questionDue, "due", "", `due date: +2d, "next friday", or 2025-02-01`)
	questionAddCmd.Flags().BoolVar(&questionHard, "hard", false, "block gated nodes until resolved")
	questionCmd.AddCommand(questionListCmd, questionAddCmd, questionResolveCmd)
	rootCmd.AddCommand(questionCmd)
}
