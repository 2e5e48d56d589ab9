package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// Pass is one unit of analysis work.
//
// Passes are opaque to the scheduler: it only looks at the name, the
// declared dependencies and the config keys, and calls Execute once the
// dependencies have succeeded.
type Pass interface {
	// Name returns the unique identifier for this pass.
	// Example: "manifests", "types", "envvars"
	Name() string

	// Description is a one-line human summary, shown by `repodoc passes`.
	Description() string

	// Dependencies returns the passes whose results this pass reads.
	Dependencies() []string

	// ConfigKeys returns the feature flags gating this pass. If any of
	// them is disabled the pass is skipped without error.
	ConfigKeys() []string

	// Execute reads the workspace and records its additions through ws.
	// The logger is already tagged with the pass name.
	Execute(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error
}

// ExecuteFunc is the body of a Definition.
type ExecuteFunc func(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error

// Definition implements Pass from plain fields, so a pass can be declared
// inline without its own type.
//
// Example:
//
//	reg.Register(&pipeline.Definition{
//		ID:        "relationships",
//		Summary:   "Infer cross-repository dependencies",
//		DependsOn: []string{"manifests"},
//		Run:       inferRelationships,
//	})
type Definition struct {
	ID        string
	Summary   string
	DependsOn []string
	Flags     []string
	Run       ExecuteFunc
}

// Name implements Pass.
func (d *Definition) Name() string { return d.ID }

// Description implements Pass.
func (d *Definition) Description() string { return d.Summary }

// Dependencies implements Pass.
func (d *Definition) Dependencies() []string { return d.DependsOn }

// ConfigKeys implements Pass.
func (d *Definition) ConfigKeys() []string { return d.Flags }

// Execute implements Pass.
func (d *Definition) Execute(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
	if d.Run == nil {
		return nil
	}
	return d.Run(ctx, ws, log)
}

// Flags maps configuration keys to enabled/disabled.
type Flags map[string]bool

// Enabled reports whether key is switched on. Keys missing from the map
// are treated as disabled.
func (f Flags) Enabled(key string) bool {
	return f[key]
}

// firstDisabled returns the first of keys that is disabled, if any.
func (f Flags) firstDisabled(keys []string) (string, bool) {
	for _, k := range keys {
		if !f.Enabled(k) {
			return k, true
		}
	}
	return "", false
}
