package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateName is returned by Register when a pass name is taken.
var ErrDuplicateName = errors.New("duplicate pass name")

// UnknownDependencyError reports a dependency that names no registered pass.
type UnknownDependencyError struct {
	Pass       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("pass %q depends on unregistered pass %q", e.Pass, e.Dependency)
}

// CycleError reports a dependency cycle. Cycle lists the passes on the
// cycle in dependency order, starting from the first one reached in
// registration order; the closing edge back to Cycle[0] is implied.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "circular pass dependency"
	}
	return fmt.Sprintf("circular pass dependency: %s → %s",
		strings.Join(e.Cycle, " → "), e.Cycle[0])
}

// PassError wraps a failure returned (or panicked) by a pass's Execute.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %s failed: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}
