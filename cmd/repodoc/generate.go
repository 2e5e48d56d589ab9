package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/steveyegge/repodoc/internal/ai"
	"github.com/steveyegge/repodoc/internal/config"
	"github.com/steveyegge/repodoc/internal/history"
	"github.com/steveyegge/repodoc/internal/passes"
	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/steveyegge/repodoc/internal/render"
	"github.com/steveyegge/repodoc/internal/scan"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// Exit codes for generate.
const (
	exitOK         = 0
	exitFailed     = 1 // a pass failed or the command errored
	exitIncomplete = 2 // the run was cancelled before every wave ran
)

// ErrNotReproducible is returned by --check when two runs over the same
// input produce different workspaces.
var ErrNotReproducible = errors.New("runs produced different workspaces")

var (
	genRunner         string
	genMaxConcurrency int
	genTimeout        string
	genOutput         string
	genDisable        []string
	genEnable         []string
	genDryRun         bool
	genJSON           bool
	genCheck          bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [roots...]",
	Short: "Scan repositories and write documentation shards",
	Long: `Scan one or more repositories, run the analysis passes and write
the resulting shards to the output directory.

With no roots the current directory is scanned. Several roots are
documented together as one multi-repository system.

A pass that fails does not stop the run; passes that depend on it are
skipped. Exit status is 1 when any pass failed and 2 when the run was
cancelled (Ctrl-C or --timeout) before every wave ran.

Examples:
  repodoc generate                              # Current directory
  repodoc generate ../api ../web                # Several repositories
  repodoc generate --runner=sequential          # One pass at a time
  repodoc generate --disable=feature.endpoints  # Skip endpoint extraction
  repodoc generate --enable=ai.answers          # Answer questions with Claude
  repodoc generate --dry-run                    # Show the plan only
  repodoc generate --check                      # Run twice, compare results`,
	Run: func(cmd *cobra.Command, args []string) {
		log := mustLogger()

		projectRoot, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(exitFailed)
		}

		cfg, err := config.Load(projectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitFailed)
		}
		if err := applyGenerateFlags(cmd, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitFailed)
		}

		roots := args
		if len(roots) == 0 {
			roots = []string{projectRoot}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		gen := &generator{
			cfg:         cfg,
			projectRoot: projectRoot,
			log:         log,
			answerer:    newAnswerer(cfg, log),
		}

		if genDryRun {
			if err := gen.plan(ctx, roots, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitFailed)
			}
			return
		}

		res, err := gen.generate(ctx, roots, genCheck)
		if res != nil {
			if genJSON {
				if err := printGenerationJSON(os.Stdout, res); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(exitFailed)
				}
			} else {
				printGeneration(os.Stdout, res)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitFailed)
		}
		os.Exit(exitCode(res.Report))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&genRunner, "runner", "", "Runner: sequential or parallel (overrides config)")
	generateCmd.Flags().IntVar(&genMaxConcurrency, "max-concurrency", 0, "Parallel runner slots, 0 for one per CPU (overrides config)")
	generateCmd.Flags().StringVar(&genTimeout, "timeout", "", "Cancel the run after this long, e.g. 90s or 5m (overrides config)")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Shard output directory (overrides config)")
	generateCmd.Flags().StringSliceVar(&genDisable, "disable", nil, "Feature keys to disable, e.g. feature.types")
	generateCmd.Flags().StringSliceVar(&genEnable, "enable", nil, "Feature keys to enable, e.g. ai.answers")
	generateCmd.Flags().BoolVar(&genDryRun, "dry-run", false, "Show passes, waves and skips without running")
	generateCmd.Flags().BoolVar(&genJSON, "json", false, "Print the run report as JSON")
	generateCmd.Flags().BoolVar(&genCheck, "check", false, "Run the pipeline twice and fail if the results differ")
}

// applyGenerateFlags layers explicitly set flags over the loaded config.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("runner") {
		cfg.Runner = genRunner
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = genMaxConcurrency
	}
	if flags.Changed("timeout") {
		d, err := time.ParseDuration(genTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", genTimeout, err)
		}
		cfg.Timeout = d
	}
	if flags.Changed("output") {
		cfg.OutputDir = genOutput
	}
	if err := setFeatures(cfg, genEnable, true); err != nil {
		return err
	}
	if err := setFeatures(cfg, genDisable, false); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setFeatures(cfg *config.Config, keys []string, enabled bool) error {
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("empty feature key")
		}
		cfg.SetFeature(key, enabled)
	}
	return nil
}

// newAnswerer returns the AI client when answers are enabled. Without an
// API key the feature is switched off with a warning so the rest of the
// run is unaffected.
func newAnswerer(cfg *config.Config, log logrus.FieldLogger) passes.Answerer {
	if !cfg.Features[config.AIAnswers] {
		return nil
	}
	client, err := ai.NewClient(ai.Config{Model: cfg.AIModel, Log: log})
	if err != nil {
		log.WithError(err).Warnf("Disabling %s", config.AIAnswers)
		cfg.SetFeature(config.AIAnswers, false)
		return nil
	}
	return client
}

// generator runs the scan, the pipeline, rendering and history for one
// invocation.
type generator struct {
	cfg         *config.Config
	projectRoot string
	log         logrus.FieldLogger
	answerer    passes.Answerer
}

// generation is the outcome of one generate call.
type generation struct {
	Scan        *scan.Result
	Report      *pipeline.Report
	Workspace   *workspace.Context
	Fingerprint string
	Shards      []string
	Checked     bool
}

func (g *generator) registry() (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	if err := passes.Register(reg, passes.Options{
		ExcludePaths: g.cfg.ExcludePaths,
		Answerer:     g.answerer,
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func (g *generator) scan(ctx context.Context, roots []string) (*scan.Result, error) {
	res, err := scan.NewScanner(g.cfg.ExcludePaths, g.log).Scan(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	return res, nil
}

// generate scans roots, runs the pipeline and writes shards. With check
// the pipeline runs a second time over the same scan and the two
// fingerprints must match. Shards are not written for an incomplete run.
func (g *generator) generate(ctx context.Context, roots []string, check bool) (*generation, error) {
	res, err := g.scan(ctx, roots)
	if err != nil {
		return nil, err
	}
	reg, err := g.registry()
	if err != nil {
		return nil, err
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	ws, report, err := g.runPipeline(ctx, res, reg)
	if err != nil {
		return nil, err
	}
	fingerprint, err := ws.Fingerprint()
	if err != nil {
		return nil, err
	}

	gen := &generation{
		Scan:        res,
		Report:      report,
		Workspace:   ws,
		Fingerprint: fingerprint,
	}

	if check && !report.Incomplete {
		again, againReport, err := g.runPipeline(ctx, res, reg)
		if err != nil {
			return gen, err
		}
		if !againReport.Incomplete {
			second, err := again.Fingerprint()
			if err != nil {
				return gen, err
			}
			gen.Checked = true
			if second != fingerprint {
				return gen, fmt.Errorf("%w: %s vs %s", ErrNotReproducible, short(fingerprint), short(second))
			}
		}
	}

	g.record(ctx, report, fingerprint)

	if report.Incomplete {
		g.log.WithField("run_id", report.RunID).Warn("Run incomplete, shards not written")
		return gen, nil
	}

	shards, err := render.Write(g.resolve(g.cfg.OutputDir), ws)
	if err != nil {
		return gen, fmt.Errorf("writing shards: %w", err)
	}
	gen.Shards = shards
	return gen, nil
}

func (g *generator) runPipeline(ctx context.Context, res *scan.Result, reg *pipeline.Registry) (*workspace.Context, *pipeline.Report, error) {
	runner, err := pipeline.NewRunner(g.cfg.Runner, pipeline.Options{
		Flags:  g.cfg.Flags(),
		Logger: g.log,
	}, g.cfg.MaxConcurrency)
	if err != nil {
		return nil, nil, err
	}

	ws := workspace.New(workspace.Metadata{
		GeneratedAt: time.Now(),
		Mode:        res.Mode,
		Roots:       res.Roots,
	}, res.Repositories)

	report, err := runner.Run(ctx, ws, reg)
	if err != nil {
		return nil, nil, err
	}
	ws.Finalize()
	return ws, report, nil
}

// record stores the run in the history database. History is best effort:
// a failure is logged and does not fail the run.
func (g *generator) record(ctx context.Context, report *pipeline.Report, fingerprint string) {
	if g.cfg.HistoryDB == "" {
		return
	}
	store, err := history.Open(g.resolve(g.cfg.HistoryDB))
	if err != nil {
		g.log.WithError(err).Warn("Could not open run history")
		return
	}
	defer func() { _ = store.Close() }()

	if err := store.Record(context.WithoutCancel(ctx), report, fingerprint); err != nil {
		g.log.WithError(err).Warn("Could not record run")
	}
}

// plan prints the waves and which passes would be skipped by config.
func (g *generator) plan(ctx context.Context, roots []string, out io.Writer) error {
	res, err := g.scan(ctx, roots)
	if err != nil {
		return err
	}
	reg, err := g.registry()
	if err != nil {
		return err
	}
	waves, err := pipeline.ComputeWaves(reg)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "\n%s Dry run: %d repositories (%s mode)\n", yellow("⚠"), len(res.Repositories), cyan(res.Mode))
	for _, r := range res.Repositories {
		fmt.Fprintf(out, "  %s %s\n", cyan(r.Name), gray(r.Path))
	}
	fmt.Fprintln(out)

	flags := g.cfg.Flags()
	disabled := make(map[string]string)
	for _, p := range reg.Passes() {
		for _, key := range p.ConfigKeys() {
			if !flags.Enabled(key) {
				disabled[p.Name()] = key
				break
			}
		}
	}

	for i, wave := range waves {
		fmt.Fprintf(out, "Wave %d:\n", i)
		for _, name := range wave {
			if key, ok := disabled[name]; ok {
				fmt.Fprintf(out, "  %s %s\n", gray(name), gray("(disabled by "+key+")"))
				continue
			}
			fmt.Fprintf(out, "  %s\n", cyan(name))
		}
	}
	fmt.Fprintf(out, "\n%s Shards would be written to %s\n\n", gray("→"), cyan(g.resolve(g.cfg.OutputDir)))
	return nil
}

// resolve makes path absolute relative to the project root.
func (g *generator) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(g.projectRoot, path)
}

// exitCode maps a report to the process exit status.
func exitCode(report *pipeline.Report) int {
	switch {
	case report.Incomplete:
		return exitIncomplete
	case report.Failed():
		return exitFailed
	default:
		return exitOK
	}
}

func printGeneration(out io.Writer, gen *generation) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	report := gen.Report
	fmt.Fprintln(out)
	for _, o := range report.Outcomes {
		switch o.Status {
		case pipeline.StatusSuccess:
			fmt.Fprintf(out, "  %s %-14s %s\n", green("✓"), o.Pass,
				gray(fmt.Sprintf("wave %d, %v, +%d", o.Wave, o.Duration.Round(time.Millisecond), o.Additions)))
		case pipeline.StatusFailed:
			fmt.Fprintf(out, "  %s %-14s %s\n", red("✗"), o.Pass, red(o.Err.Err.Error()))
		case pipeline.StatusSkipped:
			fmt.Fprintf(out, "  %s %-14s %s\n", yellow("-"), o.Pass, gray(fmt.Sprintf("%s: %s", o.Reason, o.Detail)))
		case pipeline.StatusNotRun:
			fmt.Fprintf(out, "  %s %-14s %s\n", yellow("…"), o.Pass, gray("not run"))
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, report.Summary())
	fmt.Fprintf(out, "  Mode: %s, repositories: %s\n", cyan(gen.Scan.Mode), cyan(len(gen.Scan.Repositories)))
	fmt.Fprintf(out, "  Fingerprint: %s\n", cyan(short(gen.Fingerprint)))
	if gen.Checked {
		fmt.Fprintf(out, "  %s Second run matched\n", green("✓"))
	}

	switch {
	case report.Incomplete:
		fmt.Fprintf(out, "\n%s Run incomplete: shards were not written\n\n", yellow("⚠"))
	case len(gen.Shards) > 0:
		fmt.Fprintf(out, "\n%s Wrote %d shards to %s\n\n", green("✓"), len(gen.Shards), cyan(filepath.Dir(gen.Shards[0])))
	default:
		fmt.Fprintln(out)
	}
}

type jsonOutcome struct {
	Pass       string `json:"pass"`
	Wave       int    `json:"wave"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Additions  int    `json:"additions"`
}

type jsonGeneration struct {
	RunID       string        `json:"run_id"`
	Runner      string        `json:"runner"`
	Mode        string        `json:"mode"`
	Fingerprint string        `json:"fingerprint"`
	Incomplete  bool          `json:"incomplete"`
	Failed      bool          `json:"failed"`
	Checked     bool          `json:"checked,omitempty"`
	DurationMS  int64         `json:"duration_ms"`
	Shards      []string      `json:"shards"`
	Passes      []jsonOutcome `json:"passes"`
}

func printGenerationJSON(out io.Writer, gen *generation) error {
	report := gen.Report
	doc := jsonGeneration{
		RunID:       report.RunID,
		Runner:      report.Runner,
		Mode:        string(gen.Scan.Mode),
		Fingerprint: gen.Fingerprint,
		Incomplete:  report.Incomplete,
		Failed:      report.Failed(),
		Checked:     gen.Checked,
		DurationMS:  report.Duration().Milliseconds(),
		Shards:      gen.Shards,
	}
	for _, o := range report.Outcomes {
		jo := jsonOutcome{
			Pass:       o.Pass,
			Wave:       o.Wave,
			Status:     string(o.Status),
			Reason:     string(o.Reason),
			Detail:     o.Detail,
			DurationMS: o.Duration.Milliseconds(),
			Additions:  o.Additions,
		}
		if o.Err != nil {
			jo.Error = o.Err.Err.Error()
		}
		doc.Passes = append(doc.Passes, jo)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
