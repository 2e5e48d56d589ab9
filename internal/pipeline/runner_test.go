package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/steveyegge/repodoc/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calls counts Execute invocations per pass.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func newCalls() *calls { return &calls{n: make(map[string]int)} }

func (c *calls) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[name]++
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// recording returns a pass that counts its calls, records an env var named
// after itself and returns err.
func recording(c *calls, name string, err error, deps ...string) *pipeline.Definition {
	return &pipeline.Definition{
		ID:        name,
		DependsOn: deps,
		Run: func(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
			c.inc(name)
			ws.AddEnvVar("VAR_"+name, workspace.Location{Repo: "repo", File: name + ".go", Line: 1})
			return err
		},
	}
}

func newWorkspace() *workspace.Context {
	return workspace.New(workspace.Metadata{GeneratedAt: time.Now(), Mode: workspace.ModeSingle},
		[]workspace.Repository{{Name: "repo", Path: "/tmp/repo"}})
}

func runners(opts pipeline.Options) []pipeline.Runner {
	return []pipeline.Runner{
		pipeline.NewSequentialRunner(opts),
		pipeline.NewParallelRunner(opts, 4),
		pipeline.NewParallelRunner(opts, 1),
	}
}

func TestRun_DiamondWithFailure(t *testing.T) {
	for _, runner := range runners(pipeline.Options{}) {
		t.Run(runner.Name(), func(t *testing.T) {
			c := newCalls()
			reg := pipeline.NewRegistry().MustRegister(
				recording(c, "A", nil),
				recording(c, "B", errors.New("boom"), "A"),
				recording(c, "C", nil, "A"),
				recording(c, "D", nil, "B", "C"),
			)

			report, err := runner.Run(context.Background(), newWorkspace(), reg)
			require.NoError(t, err)

			assert.Equal(t, map[string]pipeline.Status{
				"A": pipeline.StatusSuccess,
				"B": pipeline.StatusFailed,
				"C": pipeline.StatusSuccess,
				"D": pipeline.StatusSkipped,
			}, report.Statuses())
			assert.Equal(t, 0, c.get("D"), "skipped pass must not execute")
			assert.True(t, report.Failed())
			assert.False(t, report.Incomplete)

			b, _ := report.Outcome("B")
			require.NotNil(t, b.Err)
			assert.Equal(t, "B", b.Err.Pass)
			assert.EqualError(t, b.Err.Err, "boom")
			assert.Equal(t, "pass B failed: boom", b.Err.Error())

			d, _ := report.Outcome("D")
			assert.Equal(t, pipeline.SkipDependencyNotMet, d.Reason)
			assert.Equal(t, "B", d.Detail)
			assert.Equal(t, 2, d.Wave)
		})
	}
}

func TestRun_OutcomesInRegistrationOrder(t *testing.T) {
	c := newCalls()
	reg := pipeline.NewRegistry().MustRegister(
		recording(c, "late", nil, "early"),
		recording(c, "early", nil),
	)

	report, err := pipeline.NewSequentialRunner(pipeline.Options{}).Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "late", report.Outcomes[0].Pass)
	assert.Equal(t, "early", report.Outcomes[1].Pass)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "sequential", report.Runner)
}

func TestRun_SkipCascadesTransitively(t *testing.T) {
	for _, runner := range runners(pipeline.Options{}) {
		t.Run(runner.Name(), func(t *testing.T) {
			c := newCalls()
			reg := pipeline.NewRegistry().MustRegister(
				recording(c, "X", errors.New("x failed")),
				recording(c, "Y", nil, "X"),
				recording(c, "Z", nil, "Y"),
				recording(c, "independent", nil),
				recording(c, "after", nil, "independent"),
			)

			report, err := runner.Run(context.Background(), newWorkspace(), reg)
			require.NoError(t, err)

			statuses := report.Statuses()
			assert.Equal(t, pipeline.StatusFailed, statuses["X"])
			assert.Equal(t, pipeline.StatusSkipped, statuses["Y"])
			assert.Equal(t, pipeline.StatusSkipped, statuses["Z"])
			assert.Equal(t, pipeline.StatusSuccess, statuses["independent"])
			assert.Equal(t, pipeline.StatusSuccess, statuses["after"])
			assert.Equal(t, 0, c.get("Y"))
			assert.Equal(t, 0, c.get("Z"))

			z, _ := report.Outcome("Z")
			assert.Equal(t, "Y", z.Detail)
		})
	}
}

func TestRun_DisabledByConfig(t *testing.T) {
	for _, runner := range runners(pipeline.Options{Flags: pipeline.Flags{"feature.other": true}}) {
		t.Run(runner.Name(), func(t *testing.T) {
			c := newCalls()
			endpoints := recording(c, "E", nil)
			endpoints.Flags = []string{"feature.endpoints"}
			failingDep := recording(c, "F", nil, "broken")
			failingDep.Flags = []string{"feature.endpoints"}

			reg := pipeline.NewRegistry().MustRegister(
				recording(c, "broken", errors.New("nope")),
				endpoints,
				failingDep,
			)

			report, err := runner.Run(context.Background(), newWorkspace(), reg)
			require.NoError(t, err)

			e, _ := report.Outcome("E")
			assert.Equal(t, pipeline.StatusSkipped, e.Status)
			assert.Equal(t, pipeline.SkipDisabledByConfig, e.Reason)
			assert.Equal(t, "feature.endpoints", e.Detail)
			assert.Equal(t, 0, c.get("E"))

			// Config is checked before dependency status
			f, _ := report.Outcome("F")
			assert.Equal(t, pipeline.SkipDisabledByConfig, f.Reason)
			assert.Equal(t, 0, c.get("F"))
		})
	}
}

func TestRun_EnabledConfigKeyRuns(t *testing.T) {
	c := newCalls()
	gated := recording(c, "E", nil)
	gated.Flags = []string{"feature.endpoints"}

	reg := pipeline.NewRegistry().MustRegister(gated)
	runner := pipeline.NewSequentialRunner(pipeline.Options{Flags: pipeline.Flags{"feature.endpoints": true}})

	report, err := runner.Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, report.Statuses()["E"])
	assert.Equal(t, 1, c.get("E"))
}

func TestRun_ValidationErrorRunsNothing(t *testing.T) {
	c := newCalls()
	reg := pipeline.NewRegistry().MustRegister(
		recording(c, "ok", nil),
		recording(c, "bad", nil, "missing"),
	)

	for _, runner := range runners(pipeline.Options{}) {
		report, err := runner.Run(context.Background(), newWorkspace(), reg)
		assert.Nil(t, report)

		var unknown *pipeline.UnknownDependencyError
		assert.True(t, errors.As(err, &unknown))
	}
	assert.Equal(t, 0, c.get("ok"))
}

func TestRun_PanicIsRecordedAsFailure(t *testing.T) {
	reg := pipeline.NewRegistry().MustRegister(
		&pipeline.Definition{ID: "panics", Run: func(context.Context, workspace.Writer, logrus.FieldLogger) error {
			panic("unexpected nil")
		}},
		pass("child", "panics"),
	)

	for _, runner := range runners(pipeline.Options{}) {
		report, err := runner.Run(context.Background(), newWorkspace(), reg)
		require.NoError(t, err)

		o, _ := report.Outcome("panics")
		assert.Equal(t, pipeline.StatusFailed, o.Status)
		require.NotNil(t, o.Err)
		assert.Contains(t, o.Err.Error(), "unexpected nil")
		assert.Equal(t, pipeline.StatusSkipped, report.Statuses()["child"])
	}
}

func TestRun_FailedPassLeavesNoWrites(t *testing.T) {
	c := newCalls()
	reg := pipeline.NewRegistry().MustRegister(
		recording(c, "good", nil),
		recording(c, "bad", errors.New("half done")),
	)
	ws := newWorkspace()

	report, err := pipeline.NewParallelRunner(pipeline.Options{}, 2).Run(context.Background(), ws, reg)
	require.NoError(t, err)

	var names []string
	for _, v := range ws.EnvVars() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"VAR_good"}, names)

	good, _ := report.Outcome("good")
	assert.Equal(t, 1, good.Additions)
}

func TestRun_PassesSeeOnlyEarlierWaves(t *testing.T) {
	var seenByReader atomic.Int32
	reg := pipeline.NewRegistry().MustRegister(
		&pipeline.Definition{ID: "writer", Run: func(_ context.Context, ws workspace.Writer, _ logrus.FieldLogger) error {
			ws.AddQuestion(workspace.Question{ID: "q1", Text: "why?"})
			return nil
		}},
		&pipeline.Definition{ID: "sibling", Run: func(_ context.Context, ws workspace.Writer, _ logrus.FieldLogger) error {
			// Same wave as writer: its additions are not visible yet
			if len(ws.Questions()) != 0 {
				return errors.New("saw a same-wave write")
			}
			return nil
		}},
		&pipeline.Definition{ID: "reader", DependsOn: []string{"writer"}, Run: func(_ context.Context, ws workspace.Writer, _ logrus.FieldLogger) error {
			seenByReader.Store(int32(len(ws.Questions())))
			return nil
		}},
	)

	for _, runner := range runners(pipeline.Options{}) {
		seenByReader.Store(-1)
		report, err := runner.Run(context.Background(), newWorkspace(), reg)
		require.NoError(t, err)
		assert.False(t, report.Failed(), runner.Name())
		assert.Equal(t, int32(1), seenByReader.Load(), runner.Name())
	}
}

func TestParallelRunner_RespectsMaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(name string) *pipeline.Definition {
		return &pipeline.Definition{ID: name, Run: func(context.Context, workspace.Writer, logrus.FieldLogger) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}}
	}

	reg := pipeline.NewRegistry()
	for i := 0; i < 8; i++ {
		require.NoError(t, reg.Register(slow(fmt.Sprintf("p%d", i))))
	}

	report, err := pipeline.NewParallelRunner(pipeline.Options{}, 3).Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Counts()[pipeline.StatusSuccess])
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestParallelRunner_BarrierBetweenWaves(t *testing.T) {
	var finished atomic.Int32
	sleeper := func(name string, d time.Duration) *pipeline.Definition {
		return &pipeline.Definition{ID: name, Run: func(context.Context, workspace.Writer, logrus.FieldLogger) error {
			time.Sleep(d)
			finished.Add(1)
			return nil
		}}
	}

	var sawFinished int32
	reg := pipeline.NewRegistry().MustRegister(
		sleeper("fast", time.Millisecond),
		sleeper("slow", 40*time.Millisecond),
		&pipeline.Definition{ID: "next", DependsOn: []string{"fast"}, Run: func(context.Context, workspace.Writer, logrus.FieldLogger) error {
			sawFinished = finished.Load()
			return nil
		}},
	)

	_, err := pipeline.NewParallelRunner(pipeline.Options{}, 4).Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)

	// next only depends on fast, but still waits for slow to settle
	assert.Equal(t, int32(2), sawFinished)
}

func TestParallelRunner_SingleSlotMatchesSequential(t *testing.T) {
	build := func(c *calls) *pipeline.Registry {
		return pipeline.NewRegistry().MustRegister(
			recording(c, "F", nil),
			recording(c, "G", nil),
		)
	}

	seqCalls, parCalls := newCalls(), newCalls()
	seqWS, parWS := newWorkspace(), newWorkspace()

	seq, err := pipeline.NewSequentialRunner(pipeline.Options{}).Run(context.Background(), seqWS, build(seqCalls))
	require.NoError(t, err)
	par, err := pipeline.NewParallelRunner(pipeline.Options{}, 1).Run(context.Background(), parWS, build(parCalls))
	require.NoError(t, err)

	assert.Equal(t, seq.Statuses(), par.Statuses())
	assert.Equal(t, 1, parCalls.get("F"))
	assert.Equal(t, 1, parCalls.get("G"))

	seqFP, err := seqWS.Fingerprint()
	require.NoError(t, err)
	parFP, err := parWS.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, seqFP, parFP)
}

// analysisRegistry builds deterministic passes that write to several
// collections, including ones shared between passes.
func analysisRegistry() *pipeline.Registry {
	write := func(name string, deps []string, fn func(ws workspace.Writer)) *pipeline.Definition {
		return &pipeline.Definition{ID: name, DependsOn: deps, Run: func(_ context.Context, ws workspace.Writer, _ logrus.FieldLogger) error {
			fn(ws)
			return nil
		}}
	}

	return pipeline.NewRegistry().MustRegister(
		write("repos", nil, func(ws workspace.Writer) {
			ws.AddRepository(workspace.Repository{Name: "api", Module: "example.com/api"})
			ws.AddRepository(workspace.Repository{Name: "web", Module: "web"})
		}),
		write("types", []string{"repos"}, func(ws workspace.Writer) {
			ws.AddSharedType(workspace.SharedType{Name: "User", Kind: "struct", Language: "Go",
				Location: workspace.Location{Repo: "api", File: "user.go", Line: 3}})
		}),
		write("env-api", []string{"repos"}, func(ws workspace.Writer) {
			ws.AddEnvVar("DATABASE_URL", workspace.Location{Repo: "api", File: "main.go", Line: 10})
			ws.AddQuestion(workspace.Question{ID: "q-env", Topic: "env", Text: "Where is DATABASE_URL set?"})
		}),
		write("env-web", []string{"repos"}, func(ws workspace.Writer) {
			ws.AddEnvVar("DATABASE_URL", workspace.Location{Repo: "web", File: "db.ts", Line: 4})
			ws.AddQuestion(workspace.Question{ID: "q-web", Topic: "env", Text: "Does web need the DB?"})
		}),
		write("answers", []string{"env-api", "env-web"}, func(ws workspace.Writer) {
			for _, q := range ws.Questions() {
				ws.SetAnswer(q.ID, "answered "+q.ID)
			}
		}),
	)
}

func TestRunners_ProduceIdenticalContexts(t *testing.T) {
	var fingerprints []string
	var statuses []map[string]pipeline.Status

	for _, runner := range runners(pipeline.Options{}) {
		for i := 0; i < 3; i++ {
			ws := newWorkspace()
			report, err := runner.Run(context.Background(), ws, analysisRegistry())
			require.NoError(t, err)
			ws.Finalize()

			fp, err := ws.Fingerprint()
			require.NoError(t, err)
			fingerprints = append(fingerprints, fp)
			statuses = append(statuses, report.Statuses())

			env := ws.EnvVars()
			require.Len(t, env, 1)
			assert.Equal(t, []string{"api", "web"}, env[0].Repos)
			assert.Len(t, ws.Answers(), 2)
		}
	}

	for i := 1; i < len(fingerprints); i++ {
		assert.Equal(t, fingerprints[0], fingerprints[i])
		assert.Equal(t, statuses[0], statuses[i])
	}
}

func TestRun_CancellationStopsAtWaveBoundary(t *testing.T) {
	for _, kind := range []string{"sequential", "parallel"} {
		t.Run(kind, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var innerErr error
			c := newCalls()
			reg := pipeline.NewRegistry().MustRegister(
				&pipeline.Definition{ID: "first", Run: func(passCtx context.Context, _ workspace.Writer, _ logrus.FieldLogger) error {
					cancel()
					innerErr = passCtx.Err()
					return nil
				}},
				recording(c, "sibling", nil),
				recording(c, "second", nil, "first"),
				recording(c, "third", nil, "second"),
			)

			runner, err := pipeline.NewRunner(kind, pipeline.Options{}, 2)
			require.NoError(t, err)

			report, err := runner.Run(ctx, newWorkspace(), reg)
			require.NoError(t, err)

			assert.NoError(t, innerErr, "in-flight passes are not interrupted")
			assert.True(t, report.Incomplete)
			assert.ErrorIs(t, report.CancelErr, context.Canceled)
			assert.Equal(t, map[string]pipeline.Status{
				"first":   pipeline.StatusSuccess,
				"sibling": pipeline.StatusSuccess,
				"second":  pipeline.StatusNotRun,
				"third":   pipeline.StatusNotRun,
			}, report.Statuses())
			assert.Equal(t, 0, c.get("second"))
			assert.Contains(t, report.Summary(), "Run incomplete")
		})
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCalls()
	reg := pipeline.NewRegistry().MustRegister(recording(c, "a", nil))

	report, err := pipeline.NewSequentialRunner(pipeline.Options{}).Run(ctx, newWorkspace(), reg)
	require.NoError(t, err)
	assert.True(t, report.Incomplete)
	assert.Equal(t, pipeline.StatusNotRun, report.Statuses()["a"])
	assert.Equal(t, 0, c.get("a"))
}

func TestRun_LogsAreTaggedWithPassName(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	reg := pipeline.NewRegistry().MustRegister(
		&pipeline.Definition{ID: "chatty", Run: func(_ context.Context, _ workspace.Writer, log logrus.FieldLogger) error {
			log.Info("hello from pass")
			return errors.New("bad input")
		}},
	)

	_, err := pipeline.NewSequentialRunner(pipeline.Options{Logger: logger}).Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)

	var sawHello, sawFailure bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "hello from pass" {
			sawHello = true
			assert.Equal(t, "chatty", entry.Data["pass"])
		}
		if entry.Message == "Pass failed" {
			sawFailure = true
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, "chatty", entry.Data["pass"])
		}
	}
	assert.True(t, sawHello)
	assert.True(t, sawFailure)
}

func TestRun_Hooks(t *testing.T) {
	var mu sync.Mutex
	var started []string
	finished := make(map[string]pipeline.Status)

	opts := pipeline.Options{
		Flags: pipeline.Flags{},
		Hooks: pipeline.Hooks{
			OnStart: func(name string, _ int) {
				mu.Lock()
				defer mu.Unlock()
				started = append(started, name)
			},
			OnFinish: func(o pipeline.Outcome) {
				mu.Lock()
				defer mu.Unlock()
				finished[o.Pass] = o.Status
			},
		},
	}

	gated := pass("gated")
	gated.Flags = []string{"feature.off"}
	reg := pipeline.NewRegistry().MustRegister(pass("a"), gated)

	_, err := pipeline.NewParallelRunner(opts, 2).Run(context.Background(), newWorkspace(), reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, started)
	assert.Equal(t, map[string]pipeline.Status{"a": pipeline.StatusSuccess, "gated": pipeline.StatusSkipped}, finished)
}

func TestNewRunner(t *testing.T) {
	r, err := pipeline.NewRunner("parallel", pipeline.Options{}, 3)
	require.NoError(t, err)
	assert.Equal(t, "parallel", r.Name())

	r, err = pipeline.NewRunner("", pipeline.Options{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "sequential", r.Name())

	_, err = pipeline.NewRunner("async", pipeline.Options{}, 0)
	assert.Error(t, err)
}
