// Command tl is the trellis CLI: recursive planning passes over a typed
// plan graph, with proof-gated completion and scheduled work order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/config"
	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/pass"
	"github.com/trellisplan/trellis/internal/snapshot"
	"github.com/trellisplan/trellis/internal/telemetry"
)

// Version and Build are set at link time.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	planDirFlag string
	actorFlag   string
	jsonOutput  bool

	appPlanDir string
	appStore   *graph.Store
	appEngine  *pass.Engine
	appKnobs   config.Knobs

	// planDirty marks that a command mutated the store; PersistentPostRun
	// flushes the plan directory when set.
	planDirty bool

	rootCtx    context.Context
	cancelRoot context.CancelFunc
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&planDirFlag, "plan-dir", "", "Plan directory (default: auto-discover .trellis)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor name for authored deltas (default: $TRELLIS_ACTOR, then $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.Flags().Bool("version", false, "Print version and exit")

	// Assigned here rather than in the rootCmd literal: the closure refers
	// to isNoPlanCommand, which refers back to rootCmd, and that would be
	// an initialization cycle in a package-level initializer.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		rootCtx, cancelRoot = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		// Engine slog output stays out of the way unless debugging.
		level := slog.LevelWarn
		if os.Getenv("TRELLIS_DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		// Flags win over env and config.yaml; push them into the viper
		// instance so everything downstream reads one source.
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		jsonOutput = config.GetBool("json")
		if planDirFlag != "" {
			config.Set("plan-dir", planDirFlag)
		}
		if actorFlag != "" {
			config.Set("actor", actorFlag)
		}

		if err := telemetry.Init(rootCtx, "tl", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}

		if isNoPlanCommand(cmd) {
			return
		}

		openPlan(cmd)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "tl - recursive planning graph engine",
	Long: `Trellis grows one-sentence intents into complete, verifiable plan graphs.
Each pass expands the frontier, projects UI obligations, checks proofs
P1-P13, and schedules the work that is actually ready.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("tl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if planDirty && appStore != nil {
			if err := snapshot.Flush(appPlanDir, appStore.Snapshot()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: flushing plan directory: %v\n", err)
				os.Exit(1)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
		if cancelRoot != nil {
			cancelRoot()
		}
	},
}

// isNoPlanCommand reports whether cmd runs without an existing plan
// directory.
func isNoPlanCommand(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "init", "help", "completion", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd == rootCmd
}

// openPlan discovers the plan directory, loads the graph, and builds the
// pass engine with the configured knobs.
func openPlan(cmd *cobra.Command) {
	dir, err := config.FindPlanDir()
	if err != nil {
		fatal("%v", err)
	}
	appPlanDir = dir

	appKnobs = config.LoadKnobs()
	if appKnobs.Actor == "" {
		appKnobs.Actor = resolveActor()
		config.Set("actor", appKnobs.Actor)
	}

	store, err := snapshot.Load(dir)
	if err != nil {
		fatal("loading plan from %s: %v", dir, err)
	}
	appStore = store

	engine, err := appKnobs.Engine(store)
	if err != nil {
		fatal("%v", err)
	}
	appEngine = engine
}

// resolveActor picks the delta author: config/env actor first, then the
// OS user, then a fixed fallback.
func resolveActor() string {
	if a := config.GetLocalActor(appPlanDir); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unassigned"
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
