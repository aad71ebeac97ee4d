package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/config"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/snapshot"
)

var initPlanVersion string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a plan directory in the current repository",
	Long: `Creates a ` + config.PlanDirName + ` directory with a config template and an
empty plan snapshot. Safe to run twice; existing files are left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := planDirFlag
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fatal("%v", err)
			}
			dir = filepath.Join(cwd, config.PlanDirName)
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			fatal("%v", err)
		}
		created, err := writeConfigTemplate(dir)
		if err != nil {
			fatal("%v", err)
		}

		manifestPath := filepath.Join(dir, "manifest.json")
		if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
			store := graph.New(graph.WithPlanVersion(initPlanVersion))
			if err := snapshot.Save(dir, store.Snapshot()); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("initialized empty plan %s in %s\n", initPlanVersion, dir)
		} else {
			fmt.Printf("plan already exists in %s\n", dir)
		}
		if created {
			fmt.Println(dimStyle.Render("edit " + filepath.Join(dir, "config.yaml") + " to configure"))
		}
	},
}

// writeConfigTemplate drops a commented config.yaml next to the plan.
// Returns whether a new file was written.
func writeConfigTemplate(dir string) (bool, error) {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	const tmpl = `# Trellis configuration
# Every key can also be set via environment variables (TRELLIS_* prefix)
# or, where a flag exists, overridden on the command line.

# Default actor recorded on batches (overridden by TRELLIS_ACTOR or --actor)
# actor: ""

# Enable JSON output by default
# json: false

# Nodes below this confidence are blocked behind an open question
# confidence-threshold: 0.8

# Minimum score for a proof to hold
# proof-threshold: 0.95

# How far out follow-up question due dates land
# question-lead-time: "72h"

# Delta budgets, in bytes of serialized ops
# pass-budget-bytes: 8192
# node-budget-bytes: 3072

# Project UI obligations for user-facing nodes
# ui-expansion: true

# Reclassify orphaned UI nodes instead of retiring them outright
# salvage: true

# Stop a pass after this many gaps
# max-gaps: 10

# TOML file of expansion-table and salvage keyword overrides
# overrides-file: ""

# Version bump policy for additive plan changes
# semver:
#   policy: "minor-on-additive"

# refactor:
#   max-ops: 25
`
	if err := os.WriteFile(path, []byte(tmpl), 0644); err != nil {
		return false, fmt.Errorf("failed to create config.yaml: %w", err)
	}
	return true, nil
}

func init() {
	initCmd.Flags().StringVar(&initPlanVersion, "plan-version", "v1", "initial plan version label")
	rootCmd.AddCommand(initCmd)
}
