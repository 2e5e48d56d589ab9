// Command repodoc scans code repositories and writes documentation shards
// describing their topology, shared types, endpoints, environment and
// open questions.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "repodoc",
	Short: "Generate structured documentation for one or more repositories",
	Long: `repodoc scans code repositories and writes documentation shards
(YAML and Markdown) describing topology, shared types, HTTP endpoints,
environment variables and open questions.

Analysis runs as a pipeline of passes. Passes declare what they depend on
and are grouped into waves; passes in the same wave can run concurrently.

Examples:
  repodoc init                     # Write .repodoc/config.yaml
  repodoc generate                 # Document the current directory
  repodoc generate ../api ../web   # Document several repositories together
  repodoc passes                   # Show passes and their waves
  repodoc history                  # Show recent runs`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (same as --log-level=info)")
}

// newLogger builds the process logger from the persistent flags.
func newLogger(out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	level := logLevel
	if verbose && level == "warn" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	logger.SetLevel(lvl)

	switch logFormat {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", logFormat)
	}
	return logger, nil
}

// mustLogger is newLogger for command bodies.
func mustLogger() *logrus.Logger {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
