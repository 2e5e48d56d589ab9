package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Dir is the per-project directory holding config, shards and history.
const Dir = ".repodoc"

// ConfigFile represents the structure of .repodoc/config.yaml
type ConfigFile struct {
	// Runner to use (sequential/parallel)
	Runner string `yaml:"runner"`

	// Parallel runner slots, 0 for one per CPU
	MaxConcurrency int `yaml:"max_concurrency"`

	// Run timeout as a duration string like "90s", "5m"
	Timeout string `yaml:"timeout"`

	// Output locations
	OutputDir string `yaml:"output_dir"`
	HistoryDB string `yaml:"history_db"`

	// Path filters applied while scanning
	ExcludePaths []string `yaml:"exclude_paths"`

	// Feature flags gating passes; merged over the defaults
	Features map[string]bool `yaml:"features"`

	// AI settings
	AI AIConfig `yaml:"ai"`
}

// AIConfig defines question answering settings in the config file.
type AIConfig struct {
	Model string `yaml:"model"`
}

// Path returns the config file location for projectRoot.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, "config.yaml")
}

// LoadConfigFile loads configuration from .repodoc/config.yaml
func LoadConfigFile(projectRoot string) (*Config, error) {
	configPath := Path(projectRoot)

	// If file doesn't exist, return default config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return configFile.ToConfig()
}

// ToConfig converts a ConfigFile to a Config.
func (cf *ConfigFile) ToConfig() (*Config, error) {
	config := DefaultConfig()

	if cf.Runner != "" {
		config.Runner = cf.Runner
	}
	if cf.MaxConcurrency != 0 {
		config.MaxConcurrency = cf.MaxConcurrency
	}
	if cf.Timeout != "" {
		duration, err := parseDuration(cf.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		config.Timeout = duration
	}
	if cf.OutputDir != "" {
		config.OutputDir = cf.OutputDir
	}
	if cf.HistoryDB != "" {
		config.HistoryDB = cf.HistoryDB
	}
	if len(cf.ExcludePaths) > 0 {
		config.ExcludePaths = cf.ExcludePaths
	}
	for key, enabled := range cf.Features {
		config.SetFeature(key, enabled)
	}
	if cf.AI.Model != "" {
		config.AIModel = cf.AI.Model
	}

	return config, nil
}

// SaveConfigFile saves a Config to .repodoc/config.yaml
func SaveConfigFile(projectRoot string, config *Config) error {
	configPath := Path(projectRoot)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", Dir, err)
	}

	configFile := ConfigFile{
		Runner:         config.Runner,
		MaxConcurrency: config.MaxConcurrency,
		OutputDir:      config.OutputDir,
		HistoryDB:      config.HistoryDB,
		ExcludePaths:   config.ExcludePaths,
		Features:       config.Features,
		AI:             AIConfig{Model: config.AIModel},
	}
	if config.Timeout > 0 {
		configFile.Timeout = config.Timeout.String()
	}

	data, err := yaml.Marshal(&configFile)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ExampleConfigFile returns an example configuration file content.
func ExampleConfigFile() string {
	return `# repodoc configuration

# Runner to use (sequential/parallel)
runner: parallel

# Parallel runner slots, 0 for one per CPU
max_concurrency: 0

# Cancel the run at the next wave boundary after this long (empty = no limit)
timeout: 5m

# Where shards and run history are written
output_dir: .repodoc/shards
history_db: .repodoc/history.db

# Path filters applied while scanning
exclude_paths:
  - .git/
  - node_modules/
  - vendor/
  - dist/
  - "*.min.js"
  - "*.pb.go"

# Feature flags; a disabled flag skips every pass that needs it
features:
  feature.manifests: true
  feature.types: true
  feature.endpoints: true
  feature.env: true
  feature.questions: true
  ai.answers: false       # needs ANTHROPIC_API_KEY

# AI settings
ai:
  model: claude-sonnet-4-5-20250929
`
}

// parseDuration parses duration strings like "5m", "1h", "7d"
func parseDuration(s string) (time.Duration, error) {
	// Handle day suffix
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}
