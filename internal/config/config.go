package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/repodoc/internal/pipeline"
)

// Feature keys understood by the built-in passes.
const (
	FeatureManifests = "feature.manifests"
	FeatureTypes     = "feature.types"
	FeatureEndpoints = "feature.endpoints"
	FeatureEnv       = "feature.env"
	FeatureQuestions = "feature.questions"
	AIAnswers        = "ai.answers"
)

// Runner names accepted by Config.Runner.
const (
	RunnerSequential = "sequential"
	RunnerParallel   = "parallel"
)

// MaxConcurrencyLimit caps Config.MaxConcurrency.
const MaxConcurrencyLimit = 256

// Config holds the settings for one repodoc invocation
type Config struct {
	// Runner selects the pipeline runner: "sequential" or "parallel"
	// Default: parallel
	Runner string

	// MaxConcurrency bounds in-flight passes for the parallel runner
	// 0 means one slot per CPU
	// Default: 0, Range: 0-256
	MaxConcurrency int

	// Timeout cancels the run at the next wave boundary once it elapses
	// 0 disables the timeout
	// Default: 0
	Timeout time.Duration

	// OutputDir is where shards are written, relative to the project root
	// Default: .repodoc/shards
	OutputDir string

	// HistoryDB is the SQLite database recording past runs
	// Empty disables history
	// Default: .repodoc/history.db
	HistoryDB string

	// ExcludePaths are glob patterns skipped while scanning
	ExcludePaths []string

	// Features gates passes by their config keys
	// A key missing from the map is treated as disabled by the runners
	Features map[string]bool

	// AIModel is the Anthropic model used to answer open questions
	// Default: claude-sonnet-4-5-20250929
	AIModel string
}

// DefaultConfig returns the default configuration
//
// Every analysis feature is on. AI answers are off because they need an
// API key and cost money.
func DefaultConfig() *Config {
	return &Config{
		Runner:         RunnerParallel,
		MaxConcurrency: 0,
		Timeout:        0,
		OutputDir:      ".repodoc/shards",
		HistoryDB:      ".repodoc/history.db",
		ExcludePaths: []string{
			".git/",
			"node_modules/",
			"vendor/",
			"dist/",
			"build/",
			"target/",
			"__pycache__/",
			"*.min.js",
			"*.pb.go",
		},
		Features: map[string]bool{
			FeatureManifests: true,
			FeatureTypes:     true,
			FeatureEndpoints: true,
			FeatureEnv:       true,
			FeatureQuestions: true,
			AIAnswers:        false,
		},
		AIModel: "claude-sonnet-4-5-20250929",
	}
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.Runner != RunnerSequential && c.Runner != RunnerParallel {
		return fmt.Errorf("runner must be '%s' or '%s' (got %q)", RunnerSequential, RunnerParallel, c.Runner)
	}

	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative (got %d)", c.MaxConcurrency)
	}
	if c.MaxConcurrency > MaxConcurrencyLimit {
		return fmt.Errorf("max_concurrency too large (got %d, max %d)", c.MaxConcurrency, MaxConcurrencyLimit)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative (got %s)", c.Timeout)
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}

	for key := range c.Features {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("features contains an empty key")
		}
	}

	if c.Features[AIAnswers] && c.AIModel == "" {
		return fmt.Errorf("ai.model is required when %s is enabled", AIAnswers)
	}

	return nil
}

// Flags returns the feature map in the form the pipeline consumes.
func (c *Config) Flags() pipeline.Flags {
	return pipeline.Flags(maps.Clone(c.Features))
}

// SetFeature enables or disables one feature key.
func (c *Config) SetFeature(key string, enabled bool) {
	if c.Features == nil {
		c.Features = make(map[string]bool)
	}
	c.Features[key] = enabled
}

// String returns a human-readable representation of the config
func (c *Config) String() string {
	var enabled []string
	for _, key := range slices.Sorted(maps.Keys(c.Features)) {
		if c.Features[key] {
			enabled = append(enabled, key)
		}
	}
	return fmt.Sprintf(
		"Config{Runner: %s, MaxConcurrency: %d, Timeout: %s, OutputDir: %s, "+
			"HistoryDB: %s, Features: [%s], AIModel: %s}",
		c.Runner, c.MaxConcurrency, c.Timeout, c.OutputDir,
		c.HistoryDB, strings.Join(enabled, ","), c.AIModel,
	)
}

// ApplyEnv overrides fields from environment variables
//
// Environment variables:
//   - REPODOC_RUNNER: sequential or parallel
//   - REPODOC_MAX_CONCURRENCY: parallel runner slots, 0 for one per CPU
//   - REPODOC_TIMEOUT: run timeout such as "90s" or "5m"
//   - REPODOC_OUTPUT_DIR: shard output directory
//   - REPODOC_HISTORY_DB: history database path
//   - REPODOC_AI_MODEL: model used for answering questions
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	if err := parseEnvString("REPODOC_RUNNER", &c.Runner); err != nil {
		return err
	}
	if err := parseEnvInt("REPODOC_MAX_CONCURRENCY", &c.MaxConcurrency); err != nil {
		return err
	}
	if err := parseEnvDuration("REPODOC_TIMEOUT", &c.Timeout); err != nil {
		return err
	}
	if err := parseEnvString("REPODOC_OUTPUT_DIR", &c.OutputDir); err != nil {
		return err
	}
	if err := parseEnvString("REPODOC_HISTORY_DB", &c.HistoryDB); err != nil {
		return err
	}
	if err := parseEnvString("REPODOC_AI_MODEL", &c.AIModel); err != nil {
		return err
	}
	return nil
}

// Load reads .repodoc/config.yaml under projectRoot (if present), applies
// environment overrides and validates the result.
func Load(projectRoot string) (*Config, error) {
	cfg, err := LoadConfigFile(projectRoot)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
