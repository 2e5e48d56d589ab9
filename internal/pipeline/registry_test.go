package pipeline_test

import (
	"errors"
	"testing"

	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(name string, deps ...string) *pipeline.Definition {
	return &pipeline.Definition{ID: name, Summary: "test pass " + name, DependsOn: deps}
}

func TestRegistry_Register(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register(pass("a")))
	require.NoError(t, reg.Register(pass("b", "a")))

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	p, ok := reg.Get("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, p.Dependencies())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register(pass("types")))

	err := reg.Register(pass("types"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrDuplicateName))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := pipeline.NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(pass("")))
}

func TestRegistry_ValidateUnknownDependency(t *testing.T) {
	reg := pipeline.NewRegistry().MustRegister(
		pass("a"),
		pass("b", "a", "ghost"),
	)

	err := reg.Validate()
	require.Error(t, err)

	var unknown *pipeline.UnknownDependencyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "b", unknown.Pass)
	assert.Equal(t, "ghost", unknown.Dependency)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestRegistry_ValidateCycle(t *testing.T) {
	// A -> B -> C -> A
	reg := pipeline.NewRegistry().MustRegister(
		pass("A", "B"),
		pass("B", "C"),
		pass("C", "A"),
	)

	err := reg.Validate()
	require.Error(t, err)

	var cycle *pipeline.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "C"}, cycle.Cycle)
	assert.Equal(t, "circular pass dependency: A → B → C → A", err.Error())
}

func TestRegistry_ValidateCycleReportsOnlyCycleMembers(t *testing.T) {
	// root and leaf are not on the cycle
	reg := pipeline.NewRegistry().MustRegister(
		pass("leaf"),
		pass("root", "x"),
		pass("x", "y", "leaf"),
		pass("y", "z"),
		pass("z", "x"),
	)

	var cycle *pipeline.CycleError
	require.True(t, errors.As(reg.Validate(), &cycle))
	assert.ElementsMatch(t, []string{"x", "y", "z"}, cycle.Cycle)
}

func TestRegistry_ValidateSelfDependency(t *testing.T) {
	reg := pipeline.NewRegistry().MustRegister(pass("loop", "loop"))

	var cycle *pipeline.CycleError
	require.True(t, errors.As(reg.Validate(), &cycle))
	assert.Equal(t, []string{"loop"}, cycle.Cycle)
}

func TestRegistry_ValidateValidGraph(t *testing.T) {
	reg := pipeline.NewRegistry().MustRegister(
		pass("A"),
		pass("B", "A"),
		pass("C", "A"),
		pass("D", "B", "C"),
	)
	assert.NoError(t, reg.Validate())
}

func TestFlags_Enabled(t *testing.T) {
	flags := pipeline.Flags{"feature.types": true, "feature.endpoints": false}

	assert.True(t, flags.Enabled("feature.types"))
	assert.False(t, flags.Enabled("feature.endpoints"))
	assert.False(t, flags.Enabled("feature.unknown"), "missing keys are disabled")
}
