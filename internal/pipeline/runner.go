package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// Runner executes a registry's passes against a workspace context.
//
// Run returns an error only for registration problems (unknown
// dependency, cycle), in which case no pass has run. Pass failures are
// recorded in the report and never abort the run.
type Runner interface {
	Name() string
	Run(ctx context.Context, ws *workspace.Context, reg *Registry) (*Report, error)
}

// Options are shared by both runners.
type Options struct {
	// Flags gates passes through their ConfigKeys.
	Flags Flags

	// Logger receives runner events; each pass gets a child tagged with
	// its name. Defaults to a logger that discards everything.
	Logger logrus.FieldLogger

	// Hooks observe progress. The parallel runner may call them from
	// several goroutines at once.
	Hooks Hooks
}

// Hooks are optional progress callbacks.
type Hooks struct {
	OnStart  func(pass string, wave int)
	OnFinish func(outcome Outcome)
}

// result is what executing one pass produces before it is merged.
type result struct {
	outcome Outcome
	delta   *workspace.Delta
}

// run is the state of one pipeline invocation. Nothing outlives it.
type run struct {
	opts     Options
	log      logrus.FieldLogger
	reg      *Registry
	waves    []Wave
	index    map[string]int
	outcomes map[string]Outcome
	report   *Report
}

func newRun(runner string, opts Options, reg *Registry) (*run, error) {
	waves, err := ComputeWaves(reg)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	id := uuid.New().String()
	r := &run{
		opts:     opts,
		reg:      reg,
		waves:    waves,
		index:    waveIndex(reg),
		outcomes: make(map[string]Outcome, reg.Len()),
		report: &Report{
			RunID:     id,
			Runner:    runner,
			StartedAt: time.Now(),
		},
	}
	r.log = log.WithFields(logrus.Fields{"run_id": id, "runner": runner})
	return r, nil
}

// execute runs every wave, handing the eligible passes of each wave to
// runWave and merging their deltas once the whole wave has settled.
func (r *run) execute(ctx context.Context, ws *workspace.Context, runWave func([]Pass) []result) *Report {
	ws.SetRunID(r.report.RunID)
	r.log.WithFields(logrus.Fields{
		"passes": r.reg.Len(),
		"waves":  len(r.waves),
	}).Info("Starting pipeline")

	for i, wave := range r.waves {
		// Cancellation is only observed between waves
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			break
		}

		var eligible []Pass
		for _, name := range wave {
			p, _ := r.reg.Get(name)
			if skip, blocked := r.checkEligible(p); blocked {
				r.record(skip)
				continue
			}
			eligible = append(eligible, p)
		}

		r.log.WithFields(logrus.Fields{
			"wave":     i,
			"eligible": len(eligible),
			"skipped":  len(wave) - len(eligible),
		}).Debug("Running wave")

		results := runWave(eligible)

		// Merge in registration order so the context does not depend on
		// which pass finished first.
		for _, res := range results {
			if res.outcome.Status == StatusSuccess {
				res.outcome.Additions = res.delta.Len()
				if err := ws.Apply(res.delta); err != nil {
					res.outcome.Status = StatusFailed
					res.outcome.Err = &PassError{Pass: res.outcome.Pass, Err: fmt.Errorf("merging results: %w", err)}
					res.outcome.Additions = 0
				}
			}
			r.record(res.outcome)
		}
	}

	return r.finish()
}

// checkEligible decides, from earlier waves only, whether p may run.
func (r *run) checkEligible(p Pass) (Outcome, bool) {
	name := p.Name()
	if key, disabled := r.opts.Flags.firstDisabled(p.ConfigKeys()); disabled {
		return Outcome{
			Pass:   name,
			Wave:   r.index[name],
			Status: StatusSkipped,
			Reason: SkipDisabledByConfig,
			Detail: key,
		}, true
	}
	for _, dep := range p.Dependencies() {
		if o := r.outcomes[dep]; o.Status != StatusSuccess {
			return Outcome{
				Pass:   name,
				Wave:   r.index[name],
				Status: StatusSkipped,
				Reason: SkipDependencyNotMet,
				Detail: dep,
			}, true
		}
	}
	return Outcome{}, false
}

// runPass executes one pass against a staged view of the workspace.
// Panics are recovered and reported as failures.
func (r *run) runPass(ctx context.Context, ws *workspace.Context, p Pass) (res result) {
	name := p.Name()
	wave := r.index[name]
	staged := ws.Stage()
	log := r.log.WithField("pass", name)

	if r.opts.Hooks.OnStart != nil {
		r.opts.Hooks.OnStart(name, wave)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("stack", string(debug.Stack())).Error("Pass panicked")
			res.outcome.Status = StatusFailed
			res.outcome.Err = &PassError{Pass: name, Err: fmt.Errorf("panic: %v", rec)}
		}
		res.outcome.Pass = name
		res.outcome.Wave = wave
		res.outcome.Duration = time.Since(start)
		res.delta = staged.Delta()

		if res.outcome.Err != nil {
			log.WithError(res.outcome.Err.Err).WithField("duration", res.outcome.Duration).Warn("Pass failed")
		} else {
			log.WithField("duration", res.outcome.Duration).Info("Pass succeeded")
		}
		if r.opts.Hooks.OnFinish != nil {
			r.opts.Hooks.OnFinish(res.outcome)
		}
	}()

	log.Debug("Pass started")

	// In-flight passes are allowed to finish when the run is cancelled
	if err := p.Execute(context.WithoutCancel(ctx), staged, log); err != nil {
		res.outcome.Status = StatusFailed
		res.outcome.Err = &PassError{Pass: name, Err: err}
		return res
	}
	res.outcome.Status = StatusSuccess
	return res
}

func (r *run) record(o Outcome) {
	r.outcomes[o.Pass] = o
	if o.Status == StatusSkipped {
		r.log.WithFields(logrus.Fields{
			"pass":   o.Pass,
			"reason": o.Reason,
			"detail": o.Detail,
		}).Info("Pass skipped")
		if r.opts.Hooks.OnFinish != nil {
			r.opts.Hooks.OnFinish(o)
		}
	}
}

// cancel marks every pass not yet recorded as not run.
func (r *run) cancel(err error) {
	r.report.Incomplete = true
	r.report.CancelErr = err
	for _, name := range r.reg.Names() {
		if _, done := r.outcomes[name]; !done {
			r.outcomes[name] = Outcome{Pass: name, Wave: r.index[name], Status: StatusNotRun}
		}
	}
	r.log.WithError(err).Warn("Pipeline cancelled; remaining waves not scheduled")
}

func (r *run) finish() *Report {
	for _, name := range r.reg.Names() {
		r.report.Outcomes = append(r.report.Outcomes, r.outcomes[name])
	}
	r.report.CompletedAt = time.Now()

	c := r.report.Counts()
	r.log.WithFields(logrus.Fields{
		"success":    c[StatusSuccess],
		"failed":     c[StatusFailed],
		"skipped":    c[StatusSkipped],
		"incomplete": r.report.Incomplete,
		"duration":   r.report.Duration(),
	}).Info("Pipeline finished")
	return r.report
}

// NewRunner returns the runner named by kind ("sequential" or "parallel").
func NewRunner(kind string, opts Options, maxConcurrency int) (Runner, error) {
	switch kind {
	case "", "sequential":
		return NewSequentialRunner(opts), nil
	case "parallel":
		return NewParallelRunner(opts, maxConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown runner %q (want sequential or parallel)", kind)
	}
}
