package pipeline

import (
	"context"

	"github.com/steveyegge/repodoc/internal/workspace"
)

// SequentialRunner executes passes one at a time in wave order, then
// registration order within a wave. Use it for deterministic,
// low-resource runs.
type SequentialRunner struct {
	Options
}

// NewSequentialRunner creates a sequential runner.
func NewSequentialRunner(opts Options) *SequentialRunner {
	return &SequentialRunner{Options: opts}
}

// Name implements Runner.
func (s *SequentialRunner) Name() string {
	return "sequential"
}

// Run implements Runner.
func (s *SequentialRunner) Run(ctx context.Context, ws *workspace.Context, reg *Registry) (*Report, error) {
	r, err := newRun(s.Name(), s.Options, reg)
	if err != nil {
		return nil, err
	}

	return r.execute(ctx, ws, func(passes []Pass) []result {
		results := make([]result, 0, len(passes))
		for _, p := range passes {
			results = append(results, r.runPass(ctx, ws, p))
		}
		return results
	}), nil
}
