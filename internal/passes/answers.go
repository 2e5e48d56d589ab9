package passes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/steveyegge/repodoc/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// ErrNoAnswerer is returned by the answers pass when it is enabled but no
// Answerer was configured.
var ErrNoAnswerer = errors.New("no answerer configured")

// Answerer answers one open question given a text summary of the workspace.
type Answerer interface {
	Answer(ctx context.Context, q workspace.Question, summary string) (string, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, q workspace.Question, summary string) (string, error)

// Answer implements Answerer.
func (f AnswererFunc) Answer(ctx context.Context, q workspace.Question, summary string) (string, error) {
	return f(ctx, q, summary)
}

// answerRunner asks opts.Answerer about every unanswered question. A
// question that cannot be answered is logged and left open; the pass
// fails only when every attempt failed.
func answerRunner(opts Options) pipeline.ExecuteFunc {
	return func(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
		if opts.Answerer == nil {
			return ErrNoAnswerer
		}

		var open []workspace.Question
		for _, q := range ws.Questions() {
			if _, answered := ws.Answer(q.ID); !answered {
				open = append(open, q)
			}
		}
		if len(open) == 0 {
			log.Debug("No open questions")
			return nil
		}

		summary := Summarize(ws)

		var answered, failed atomic.Int32
		var g errgroup.Group
		g.SetLimit(opts.AnswerConcurrency)
		for _, q := range open {
			g.Go(func() error {
				answer, err := opts.Answerer.Answer(ctx, q, summary)
				if err != nil {
					failed.Add(1)
					log.WithError(err).WithField("question", q.ID).Warn("Could not answer question")
					return nil
				}
				answer = strings.TrimSpace(answer)
				if answer == "" {
					failed.Add(1)
					return nil
				}
				ws.SetAnswer(q.ID, answer)
				answered.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		log.WithFields(logrus.Fields{
			"answered": answered.Load(),
			"failed":   failed.Load(),
		}).Info("Answered questions")

		if answered.Load() == 0 {
			return fmt.Errorf("all %d questions failed to answer", len(open))
		}
		return nil
	}
}

// Summarize renders the parts of the workspace an answerer needs as
// plain text: repositories, relationships, shared types, endpoints and
// environment variables.
func Summarize(ws workspace.Reader) string {
	var b strings.Builder

	meta := ws.Metadata()
	fmt.Fprintf(&b, "Mode: %s\n\nRepositories:\n", meta.Mode)
	for _, r := range ws.Repositories() {
		fmt.Fprintf(&b, "- %s", r.Name)
		if r.Module != "" {
			fmt.Fprintf(&b, " (module %s)", r.Module)
		}
		if langs := topLanguages(r.Languages, 3); len(langs) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(langs, ", "))
		}
		b.WriteString("\n")
	}

	if rels := ws.Relationships(); len(rels) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, r := range rels {
			fmt.Fprintf(&b, "- %s %s %s\n", r.From, r.Kind, r.To)
		}
	}

	if types := ws.SharedTypes(); len(types) > 0 {
		b.WriteString("\nShared types:\n")
		for _, t := range types {
			fmt.Fprintf(&b, "- %s %s in %s/%s", t.Kind, t.Name, t.Location.Repo, t.Location.File)
			if len(t.UsedBy) > 0 {
				fmt.Fprintf(&b, ", used by %s", strings.Join(t.UsedBy, ", "))
			}
			b.WriteString("\n")
		}
	}

	if eps := ws.Endpoints(); len(eps) > 0 {
		b.WriteString("\nEndpoints:\n")
		for _, e := range eps {
			fmt.Fprintf(&b, "- %s %s in %s\n", e.Method, e.Path, e.Location.Repo)
		}
	}

	if env := ws.EnvVars(); len(env) > 0 {
		b.WriteString("\nEnvironment variables:\n")
		for _, v := range env {
			fmt.Fprintf(&b, "- %s read by %s\n", v.Name, strings.Join(v.Repos, ", "))
		}
	}

	return b.String()
}

// topLanguages returns up to n languages by file count, most used first.
func topLanguages(langs map[string]int, n int) []string {
	names := make([]string, 0, len(langs))
	for l := range langs {
		names = append(names, l)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
