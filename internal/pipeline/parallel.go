package pipeline

import (
	"context"
	"runtime"

	"github.com/steveyegge/repodoc/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// ParallelRunner executes the passes of each wave concurrently, with a
// full barrier between waves. Given the same registry and deterministic
// passes it produces the same workspace and the same statuses as
// SequentialRunner.
type ParallelRunner struct {
	Options

	// MaxConcurrency bounds the passes in flight at once.
	// Zero or less means GOMAXPROCS.
	MaxConcurrency int
}

// NewParallelRunner creates a parallel runner.
func NewParallelRunner(opts Options, maxConcurrency int) *ParallelRunner {
	return &ParallelRunner{Options: opts, MaxConcurrency: maxConcurrency}
}

// Name implements Runner.
func (p *ParallelRunner) Name() string {
	return "parallel"
}

func (p *ParallelRunner) limit() int {
	if p.MaxConcurrency > 0 {
		return p.MaxConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Run implements Runner.
func (p *ParallelRunner) Run(ctx context.Context, ws *workspace.Context, reg *Registry) (*Report, error) {
	r, err := newRun(p.Name(), p.Options, reg)
	if err != nil {
		return nil, err
	}

	limit := p.limit()
	return r.execute(ctx, ws, func(passes []Pass) []result {
		results := make([]result, len(passes))

		// Pass failures are results, not group errors, so one failing pass
		// never stops its siblings. Go blocks once limit tasks are in flight.
		var g errgroup.Group
		g.SetLimit(limit)
		for i, pass := range passes {
			g.Go(func() error {
				results[i] = r.runPass(ctx, ws, pass)
				return nil
			})
		}
		_ = g.Wait() // barrier: the wave settles before the next is considered

		return results
	}), nil
}
