// Package passes holds the built-in analysis passes run by repodoc.
//
// Each pass is a pipeline.Definition. Passes only read the workspace and
// record additions through the writer they are handed; they never talk
// to each other except through the dependencies they declare.
package passes

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/config"
	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/steveyegge/repodoc/internal/scan"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// Built-in pass names.
const (
	Manifests     = "manifests"
	Relationships = "relationships"
	Types         = "types"
	Endpoints     = "endpoints"
	EnvVars       = "envvars"
	Questions     = "questions"
	Answers       = "answers"
)

// maxSourceSize skips files too large to be hand-written source.
const maxSourceSize = 1 << 20

// Options configure the built-in passes.
type Options struct {
	// ExcludePaths are glob patterns skipped when reading sources.
	// Nil uses scan.DefaultExcludePaths.
	ExcludePaths []string

	// Answerer answers open questions. The answers pass fails without one.
	Answerer Answerer

	// AnswerConcurrency bounds in-flight Answerer calls. Default: 4
	AnswerConcurrency int
}

// Register adds every built-in pass to reg in a fixed order.
func Register(reg *pipeline.Registry, opts Options) error {
	if opts.ExcludePaths == nil {
		opts.ExcludePaths = scan.DefaultExcludePaths
	}
	if opts.AnswerConcurrency <= 0 {
		opts.AnswerConcurrency = 4
	}

	defs := []pipeline.Pass{
		&pipeline.Definition{
			ID:      Manifests,
			Summary: "Read build manifests for module names and declared dependencies",
			Flags:   []string{config.FeatureManifests},
			Run:     readManifests,
		},
		&pipeline.Definition{
			ID:        Relationships,
			Summary:   "Infer dependencies between repositories from their manifests",
			DependsOn: []string{Manifests},
			Run:       inferRelationships,
		},
		&pipeline.Definition{
			ID:      Types,
			Summary: "Extract exported types and find the ones shared across repositories",
			Flags:   []string{config.FeatureTypes},
			Run:     sourceRunner(opts, extractTypes),
		},
		&pipeline.Definition{
			ID:      Endpoints,
			Summary: "Find HTTP route registrations",
			Flags:   []string{config.FeatureEndpoints},
			Run:     sourceRunner(opts, findEndpoints),
		},
		&pipeline.Definition{
			ID:      EnvVars,
			Summary: "Find environment variables read by each repository",
			Flags:   []string{config.FeatureEnv},
			Run:     sourceRunner(opts, findEnvVars),
		},
		&pipeline.Definition{
			ID:        Questions,
			Summary:   "Raise open questions about ownership and undocumented coupling",
			DependsOn: []string{Relationships, Types, Endpoints, EnvVars},
			Flags:     []string{config.FeatureQuestions},
			Run:       raiseQuestions,
		},
		&pipeline.Definition{
			ID:        Answers,
			Summary:   "Ask the AI model to answer open questions",
			DependsOn: []string{Questions},
			Flags:     []string{config.AIAnswers},
			Run:       answerRunner(opts),
		},
	}

	for _, p := range defs {
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("registering built-in passes: %w", err)
		}
	}
	return nil
}

// sourceFile is one readable source file of a repository.
type sourceFile struct {
	repo     string
	rel      string
	path     string
	language string
}

// loc returns the Location of line in f.
func (f sourceFile) loc(line int) workspace.Location {
	return workspace.Location{Repo: f.repo, File: f.rel, Line: line}
}

// sourceFunc analyzes the source files of every repository.
type sourceFunc func(ctx context.Context, ws workspace.Writer, files []sourceFile, log logrus.FieldLogger) error

// sourceRunner collects the source files of each repository and hands
// them to fn.
func sourceRunner(opts Options, fn sourceFunc) pipeline.ExecuteFunc {
	return func(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
		files, err := collectSources(ctx, ws.Repositories(), opts.ExcludePaths)
		if err != nil {
			return err
		}
		log.Debugf("Analyzing %d source files", len(files))
		return fn(ctx, ws, files, log)
	}
}

// collectSources lists source files in a stable order: repositories by
// name, files by path.
func collectSources(ctx context.Context, repos []workspace.Repository, exclude []string) ([]sourceFile, error) {
	var files []sourceFile
	for _, repo := range repos {
		err := scan.Walk(ctx, repo.Path, exclude, func(rel, path string) error {
			lang := scan.DetectLanguage(path)
			if lang == "" {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil || info.Size() > maxSourceSize {
				return nil
			}
			files = append(files, sourceFile{repo: repo.Name, rel: rel, path: path, language: lang})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reading sources of %s: %w", repo.Name, err)
		}
	}
	return files, nil
}
