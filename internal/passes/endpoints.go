package passes

import (
	"context"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// MethodAny is recorded for routes that accept every HTTP method.
const MethodAny = "ANY"

// routePattern recognizes one style of route registration. Group indexes
// of 0 mean the value is not captured.
type routePattern struct {
	languages []string
	re        *regexp.Regexp
	method    int
	path      int
	handler   int
}

var routePatterns = []routePattern{
	// net/http: mux.HandleFunc("GET /users/{id}", getUser)
	{
		languages: []string{"Go"},
		re:        regexp.MustCompile(`\.(?:HandleFunc|Handle)\(\s*"([^"]+)"\s*,\s*(?:([\w.]+)\s*[,)])?`),
		path:      1,
		handler:   2,
	},
	// chi, gin, echo: r.Get("/users", listUsers)
	{
		languages: []string{"Go"},
		re:        regexp.MustCompile(`\.(Get|Post|Put|Patch|Delete|Head|Options|GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\(\s*"(/[^"]*)"\s*,\s*(?:([\w.]+)\s*[,)])?`),
		method:    1,
		path:      2,
		handler:   3,
	},
	// express: router.get('/users', listUsers)
	{
		languages: []string{"JavaScript", "TypeScript"},
		re:        regexp.MustCompile("\\b(?:app|router|server|api)\\.(get|post|put|patch|delete|head|options|all)\\(\\s*['\"`](/[^'\"`]*)['\"`]\\s*(?:,\\s*([\\w.]+)\\s*[,)])?"),
		method:    1,
		path:      2,
		handler:   3,
	},
	// flask, fastapi: @app.get("/users")
	{
		languages: []string{"Python"},
		re:        regexp.MustCompile(`@\w+\.(get|post|put|patch|delete|route|api_route)\(\s*['"](/[^'"]*)['"]`),
		method:    1,
		path:      2,
	},
}

// findEndpoints records HTTP route registrations.
func findEndpoints(ctx context.Context, ws workspace.Writer, files []sourceFile, log logrus.FieldLogger) error {
	found := 0
	for _, f := range files {
		var patterns []routePattern
		for _, p := range routePatterns {
			if slices.Contains(p.languages, f.language) {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 || strings.HasSuffix(f.rel, "_test.go") {
			continue
		}

		data, err := os.ReadFile(f.path)
		if err != nil {
			log.WithError(err).WithField("file", f.rel).Warn("Skipping unreadable file")
			continue
		}

		for _, p := range patterns {
			for _, m := range p.re.FindAllSubmatchIndex(data, -1) {
				ep := workspace.Endpoint{
					Method:   MethodAny,
					Path:     group(data, m, p.path),
					Handler:  group(data, m, p.handler),
					Location: f.loc(lineAt(data, m[0])),
				}
				if p.method > 0 {
					ep.Method = normalizeMethod(group(data, m, p.method))
				} else if method, path, ok := strings.Cut(ep.Path, " "); ok {
					// Go 1.22 mux patterns carry the method: "GET /users"
					ep.Method = normalizeMethod(method)
					ep.Path = strings.TrimSpace(path)
				}
				if !strings.HasPrefix(ep.Path, "/") {
					continue
				}
				ws.AddEndpoint(ep)
				found++
			}
		}
	}

	log.WithField("endpoints", found).Debug("Found endpoints")
	return nil
}

func normalizeMethod(m string) string {
	switch m = strings.ToUpper(m); m {
	case "ALL", "ROUTE", "API_ROUTE":
		return MethodAny
	}
	return m
}

// group returns submatch i of m, or "" when i is 0 or did not participate.
func group(data []byte, m []int, i int) string {
	if i <= 0 || 2*i+1 >= len(m) || m[2*i] < 0 {
		return ""
	}
	return string(data[m[2*i]:m[2*i+1]])
}
