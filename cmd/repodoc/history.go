package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/repodoc/internal/config"
	"github.com/steveyegge/repodoc/internal/history"
	"github.com/steveyegge/repodoc/internal/pipeline"
)

var (
	historyLimit int
	historyPrune int
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent pipeline runs",
	Long: `Show recent runs recorded in the history database, newest first.
With a run id, show the outcome of every pass in that run.

Examples:
  repodoc history                 # Last 10 runs
  repodoc history -n 50           # Last 50 runs
  repodoc history <run-id>        # Pass outcomes of one run
  repodoc history --prune 100     # Keep only the newest 100 runs`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		projectRoot, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}
		cfg, err := config.Load(projectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.HistoryDB == "" {
			fmt.Fprintf(os.Stderr, "Error: history is disabled (history_db is empty)\n")
			os.Exit(1)
		}

		g := &generator{cfg: cfg, projectRoot: projectRoot}
		store, err := history.Open(g.resolve(cfg.HistoryDB))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()

		if cmd.Flags().Changed("prune") {
			removed, err := store.Prune(ctx, historyPrune)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Pruned %d runs\n", green("✓"), removed)
			return
		}

		if len(args) == 1 {
			outcomes, err := store.Outcomes(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printOutcomes(os.Stdout, args[0], outcomes)
			return
		}

		runs, err := store.Recent(ctx, historyLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printRuns(os.Stdout, runs)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "Delete all but the newest N runs")
}

func printRuns(out io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Fprintf(out, "%s No runs recorded yet\n", gray("→"))
		return
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "\n%s\n\n", cyan(fmt.Sprintf("Recent runs (%d)", len(runs))))
	changed := fingerprintChanges(runs)
	for i, r := range runs {
		printRun(out, r, changed[i])
	}
	fmt.Fprintln(out)
}

// fingerprintChanges marks runs (newest first) whose fingerprint differs
// from the next older run that recorded one.
func fingerprintChanges(runs []history.Run) []bool {
	changed := make([]bool, len(runs))
	var prev string
	for i := len(runs) - 1; i >= 0; i-- {
		fp := runs[i].Fingerprint
		if fp == "" {
			continue
		}
		changed[i] = prev != "" && fp != prev
		prev = fp
	}
	return changed
}

func printRun(out io.Writer, r history.Run, changed bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	status := green("✓")
	switch {
	case r.Incomplete:
		status = yellow("…")
	case r.Failed > 0:
		status = red("✗")
	}

	fmt.Fprintf(out, "%s %s  %s  %s\n", status, cyan(r.ID), r.StartedAt.Local().Format(time.DateTime), gray(r.Runner))
	fmt.Fprintf(out, "    %d ok, %d failed, %d skipped", r.Succeeded, r.Failed, r.Skipped)
	if r.NotRun > 0 {
		fmt.Fprintf(out, ", %d not run", r.NotRun)
	}
	fmt.Fprintf(out, " in %v\n", r.Duration)
	if r.Fingerprint != "" {
		note := ""
		if changed {
			note = " " + yellow("(changed)")
		}
		fmt.Fprintf(out, "    Fingerprint: %s%s\n", gray(short(r.Fingerprint)), note)
	}
}

func printOutcomes(out io.Writer, runID string, outcomes []history.PassOutcome) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(out, "\n%s %s\n\n", cyan("Run"), runID)
	for _, o := range outcomes {
		switch o.Status {
		case pipeline.StatusSuccess:
			fmt.Fprintf(out, "  %s %-14s %s\n", green("✓"), o.Pass,
				gray(fmt.Sprintf("wave %d, %v, +%d", o.Wave, o.Duration, o.Additions)))
		case pipeline.StatusFailed:
			fmt.Fprintf(out, "  %s %-14s %s\n", red("✗"), o.Pass, red(o.Error))
		case pipeline.StatusSkipped:
			fmt.Fprintf(out, "  %s %-14s %s\n", yellow("-"), o.Pass, gray(fmt.Sprintf("%s: %s", o.Reason, o.Detail)))
		default:
			fmt.Fprintf(out, "  %s %-14s %s\n", yellow("…"), o.Pass, gray(string(o.Status)))
		}
	}
	fmt.Fprintln(out)
}
