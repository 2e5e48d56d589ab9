package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/repodoc/internal/config"
	"github.com/steveyegge/repodoc/internal/passes"
	"github.com/steveyegge/repodoc/internal/pipeline"
)

var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "List analysis passes and the waves they run in",
	Long: `List every built-in pass with its dependencies and feature keys,
grouped by wave. Passes in the same wave have no dependency on each other
and may run concurrently.

Feature keys disabled in .repodoc/config.yaml are marked.`,
	Run: func(cmd *cobra.Command, args []string) {
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

		reg := pipeline.NewRegistry()
		if err := passes.Register(reg, passes.Options{ExcludePaths: cfg.ExcludePaths}); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := listPasses(os.Stdout, reg, cfg.Flags()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(passesCmd)
}

// listPasses prints the passes of reg wave by wave.
func listPasses(out io.Writer, reg *pipeline.Registry, flags pipeline.Flags) error {
	waves, err := pipeline.ComputeWaves(reg)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "\n%s %d passes in %d waves\n", cyan("Passes:"), reg.Len(), len(waves))
	for i, wave := range waves {
		fmt.Fprintf(out, "\n%s\n", cyan(fmt.Sprintf("Wave %d", i)))
		for _, name := range wave {
			p, _ := reg.Get(name)
			fmt.Fprintf(out, "  %s\n", cyan(name))
			fmt.Fprintf(out, "    %s\n", p.Description())
			if deps := p.Dependencies(); len(deps) > 0 {
				fmt.Fprintf(out, "    Depends on: %s\n", gray(strings.Join(deps, ", ")))
			}
			for _, key := range p.ConfigKeys() {
				if flags.Enabled(key) {
					fmt.Fprintf(out, "    Feature: %s\n", gray(key))
				} else {
					fmt.Fprintf(out, "    Feature: %s %s\n", gray(key), yellow("(disabled)"))
				}
			}
		}
	}
	fmt.Fprintln(out)
	return nil
}
