package passes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// Question topics.
const (
	TopicEnv       = "env"
	TopicTypes     = "types"
	TopicEndpoints = "endpoints"
	TopicTopology  = "topology"
	TopicCoupling  = "coupling"
	TopicBuild     = "build"
)

// questionNamespace scopes the name-based question ids.
var questionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/steveyegge/repodoc/questions"))

// QuestionID returns the stable id of the question raised for key.
// The same finding yields the same id on every run, so answers can be
// carried between runs.
func QuestionID(key string) string {
	return uuid.NewSHA1(questionNamespace, []byte(key)).String()
}

// raiseQuestions turns ambiguous findings into open questions.
func raiseQuestions(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
	raised := 0
	ask := func(topic, key, text string, repos []string) {
		ws.AddQuestion(workspace.Question{
			ID:      QuestionID(topic + "|" + key),
			Topic:   topic,
			Text:    text,
			Repos:   repos,
			AskedBy: Questions,
		})
		raised++
	}

	repos := ws.Repositories()
	multi := len(repos) > 1

	for _, v := range ws.EnvVars() {
		if len(v.Repos) > 1 {
			ask(TopicEnv, v.Name,
				fmt.Sprintf("%s is read by %s. Which repository owns its value, and must they agree on it?",
					v.Name, strings.Join(v.Repos, ", ")),
				v.Repos)
		}
	}

	types := ws.SharedTypes()
	typeRepos := make(map[string][]string)
	for _, t := range types {
		typeRepos[t.Name] = appendUnique(typeRepos[t.Name], t.Location.Repo)
	}
	for _, name := range sortedKeys(typeRepos) {
		if rs := typeRepos[name]; len(rs) > 1 {
			sort.Strings(rs)
			ask(TopicTypes, name,
				fmt.Sprintf("%s is declared in %s. Are these definitions meant to stay in sync, and which one is the source of truth?",
					name, strings.Join(rs, ", ")),
				rs)
		}
	}

	routeRepos := make(map[string][]string)
	for _, e := range ws.Endpoints() {
		key := e.Method + " " + e.Path
		routeRepos[key] = appendUnique(routeRepos[key], e.Location.Repo)
	}
	for _, route := range sortedKeys(routeRepos) {
		if rs := routeRepos[route]; len(rs) > 1 {
			sort.Strings(rs)
			ask(TopicEndpoints, route,
				fmt.Sprintf("%s is registered in %s. Which service is authoritative for this route?",
					route, strings.Join(rs, ", ")),
				rs)
		}
	}

	rels := ws.Relationships()
	linked := make(map[string]bool)
	declared := make(map[string]bool)
	for _, r := range rels {
		linked[r.From] = true
		linked[r.To] = true
		declared[r.From+"|"+r.To] = true
	}

	// References to another repository's types without a declared dependency
	coupled := make(map[string][]string)
	for _, t := range types {
		for _, user := range t.UsedBy {
			if user == t.Location.Repo || declared[user+"|"+t.Location.Repo] {
				continue
			}
			pair := user + "|" + t.Location.Repo
			coupled[pair] = appendUnique(coupled[pair], t.Name)
		}
	}
	for _, pair := range sortedKeys(coupled) {
		from, to, _ := strings.Cut(pair, "|")
		names := coupled[pair]
		sort.Strings(names)
		ask(TopicCoupling, pair,
			fmt.Sprintf("%s references %s from %s but declares no dependency on it. Are the types copied, generated, or exchanged over the wire?",
				from, strings.Join(names, ", "), to),
			sortedPair(from, to))
		linked[from] = true
		linked[to] = true
	}

	for _, r := range repos {
		if multi && !linked[r.Name] {
			ask(TopicTopology, r.Name,
				fmt.Sprintf("No relationship was found between %s and the other repositories. How does it interact with the rest of the system?", r.Name),
				[]string{r.Name})
		}
		if len(r.Manifests) == 0 {
			ask(TopicBuild, r.Name,
				fmt.Sprintf("%s has no recognized build manifest. How is it built and deployed?", r.Name),
				[]string{r.Name})
		}
	}

	log.WithField("questions", raised).Debug("Raised questions")
	return nil
}

func sortedPair(a, b string) []string {
	if b < a {
		a, b = b, a
	}
	return []string{a, b}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
