package pipeline

import (
	"fmt"
	"time"
)

// Status is the outcome of one pass in a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"

	// StatusNotRun marks passes never reached because the run was cancelled.
	StatusNotRun Status = "not-run"
)

// SkipReason explains why a pass was skipped.
type SkipReason string

const (
	SkipDisabledByConfig SkipReason = "disabled-by-config"
	SkipDependencyNotMet SkipReason = "dependency-failed-or-skipped"
)

// Outcome is the record for one pass.
type Outcome struct {
	Pass      string
	Wave      int
	Status    Status
	Reason    SkipReason
	Detail    string // disabled key or blocking dependency, for skips
	Err       *PassError
	Duration  time.Duration
	Additions int // entries merged into the workspace
}

// Report is the per-pass ledger returned by a runner. It always covers
// every registered pass, in registration order.
type Report struct {
	RunID       string
	Runner      string
	StartedAt   time.Time
	CompletedAt time.Time

	Outcomes []Outcome

	// Incomplete is set when the run was cancelled before every wave ran.
	Incomplete bool
	// CancelErr is the context error that stopped the run, if any.
	CancelErr error
}

// Outcome returns the record for a pass.
func (r *Report) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Pass == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Statuses returns pass name -> status.
func (r *Report) Statuses() map[string]Status {
	out := make(map[string]Status, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out[o.Pass] = o.Status
	}
	return out
}

// Failed reports whether any pass failed.
func (r *Report) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Errors returns the failures in registration order.
func (r *Report) Errors() []*PassError {
	var errs []*PassError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Counts tallies outcomes by status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Duration is the wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Summary returns a human-readable summary of the run.
func (r *Report) Summary() string {
	c := r.Counts()
	s := fmt.Sprintf(
		"Pipeline (%s) completed in %v\n"+
			"Passes: %d (success: %d, failed: %d, skipped: %d)",
		r.Runner,
		r.Duration().Round(time.Millisecond),
		len(r.Outcomes),
		c[StatusSuccess],
		c[StatusFailed],
		c[StatusSkipped],
	)
	if r.Incomplete {
		s += fmt.Sprintf("\nRun incomplete: %d passes not run (%v)", c[StatusNotRun], r.CancelErr)
	}
	return s
}
