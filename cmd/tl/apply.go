package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/cycle"
	"github.com/trellisplan/trellis/internal/delta"
)

var applyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Apply an external delta batch (NDJSON, one op per line)",
	Long: `Reads newline-delimited JSON ops and applies them as one batch under
the configured actor. Use "-" to read from stdin. A malformed op aborts
the whole batch; per-op rejections (duplicate node, dangling edge) are
reported and the rest of the batch still lands.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var r io.Reader
		if args[0] == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(args[0]) // #nosec G304 - user-supplied batch file
			if err != nil {
				fatal("%v", err)
			}
			defer f.Close()
			r = f
		}

		ops, err := readOps(r)
		if err != nil {
			fatal("%v", err)
		}
		if len(ops) == 0 {
			fatal("no ops in %s", args[0])
		}

		// Back-edges in external batches go through the same remediation
		// patterns a pass would use instead of landing raw.
		batch := &delta.Batch{Actor: appKnobs.Actor, Ops: ops}
		batch, remediations := cycle.NewGuard(appStore.Snapshot()).Filter(batch)

		res, err := appStore.Apply(batch)
		if err != nil {
			fatal("apply failed: %v", err)
		}
		planDirty = true

		if jsonOutput {
			printJSON(struct {
				*delta.Result
				Remediations []cycle.Remediation `json:"remediations,omitempty"`
			}{res, remediations})
			return
		}
		for _, r := range remediations {
			fmt.Println(dimStyle.Render(fmt.Sprintf("cycle remediated: %s (%s -> %s)", r.Pattern, r.Edge.From, r.Edge.To)))
		}
		fmt.Printf("applied %s, store at version %d\n", plural(len(batch.Ops), "op"), res.Version)
		if len(res.Changed) > 0 {
			fmt.Printf("changed: %s\n", strings.Join(res.Changed, ", "))
		}
		for _, rej := range res.Rejected {
			fmt.Println(failStyle.Render(fmt.Sprintf("rejected op %d: %s (%s)", rej.Index, rej.Reason, rej.Detail)))
		}
		if res.Replayed {
			fmt.Println(dimStyle.Render("batch was a replay; nothing changed"))
		}
	},
}

func readOps(r io.Reader) ([]delta.Op, error) {
	var ops []delta.Op
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var op delta.Op
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return ops, nil
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
