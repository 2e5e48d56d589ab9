package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/steveyegge/repodoc/internal/config"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [roots...]",
	Short: "Regenerate shards whenever source files change",
	Long: `Run generate once, then watch the roots and run it again after
files change. Changes are batched: a run starts once no change has been
seen for the debounce interval.

Changes under .repodoc/, .git/, node_modules/ and vendor/ are ignored.

Example:
  repodoc watch ../api ../web --debounce=2s`,
	Run: func(cmd *cobra.Command, args []string) {
		log := mustLogger()

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
		if err := watch(ctx, gen, roots, watchDebounce); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before regenerating")
}

// watch regenerates after every quiet period following a change, until
// ctx is cancelled.
func watch(ctx context.Context, gen *generator, roots []string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, root := range roots {
		if err := watchTree(watcher, root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	regenerate := func() {
		res, err := gen.generate(ctx, roots, false)
		if err != nil {
			gen.log.WithError(err).Error("Generate failed")
			return
		}
		printGeneration(os.Stdout, res)
		fmt.Printf("%s Watching %d roots, Ctrl-C to stop\n", gray("→"), len(roots))
	}
	regenerate()

	outputDir, _ := filepath.Abs(gen.resolve(gen.cfg.OutputDir))
	relevant := func(path string) bool {
		// Shards written by the previous run must not trigger the next one
		if abs, err := filepath.Abs(path); err == nil && within(abs, outputDir) {
			return false
		}
		return isRelevantPath(relToRoot(roots, path))
	}
	return watchLoop(ctx, watcher, relevant, debounce, gen.log, regenerate)
}

// watchLoop calls fire once per burst of relevant events.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, relevant func(string) bool, debounce time.Duration, log logrus.FieldLogger, fire func()) error {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if !relevant(event.Name) {
				continue
			}
			// New directories must be watched explicitly
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						log.WithError(err).WithField("dir", event.Name).Warn("Could not watch new directory")
					}
				}
			}
			log.WithFields(logrus.Fields{"path": event.Name, "op": event.Op.String()}).Debug("Change detected")
			timer.Reset(debounce)

		case <-timer.C:
			fire()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}

// watchTree adds dir and every relevant directory below it to watcher.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || ignoredDir(entry.Name()) {
			continue
		}
		// Ignore errors for individual subdirectories
		_ = watchTree(watcher, filepath.Join(dir, entry.Name()))
	}
	return nil
}

// ignoredDir reports whether a directory never holds relevant sources.
func ignoredDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "dist", "build", "target", "__pycache__":
		return true
	}
	return false
}

// within reports whether path is dir or below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relToRoot returns path relative to the first root containing it, so
// hidden directories above a root do not hide its changes.
func relToRoot(roots []string, path string) string {
	for _, root := range roots {
		if within(path, root) {
			rel, _ := filepath.Rel(root, path)
			return rel
		}
	}
	return path
}

// isRelevantPath reports whether a change to path can affect the shards.
func isRelevantPath(path string) bool {
	path = filepath.Clean(path)
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if ignoredDir(part) {
			return false
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".swp", ".swo", ".tmp", ".log", ".o", ".a", ".so", ".dylib", ".exe", ".pyc":
		return false
	}
	return !strings.HasSuffix(path, "~")
}
