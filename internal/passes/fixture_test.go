package passes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/steveyegge/repodoc/internal/pipeline"
	"github.com/steveyegge/repodoc/internal/scan"
	"github.com/steveyegge/repodoc/internal/workspace"
	"github.com/stretchr/testify/require"
)

// fixture is a small system of three repositories: a Go API depending on
// a Go shared library, and a TypeScript web client.
var fixture = map[string]string{
	"api/go.mod": `module example.com/api

go 1.22

require (
	example.com/shared v0.1.0
	github.com/google/uuid v1.6.0 // indirect
)
`,
	"api/main.go": `package main

import (
	"net/http"
	"os"

	"example.com/shared"
)

func main() {
	port := os.Getenv("PORT")
	dsn, _ := os.LookupEnv("DATABASE_URL")
	_ = dsn

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}", getUser)
	mux.HandleFunc("/health", health)
	http.ListenAndServe(":"+port, mux)
}

func getUser(w http.ResponseWriter, r *http.Request) {
	var u shared.User
	_ = u
}

func health(w http.ResponseWriter, r *http.Request) {}
`,
	"shared/go.mod": "module example.com/shared\n\ngo 1.22\n",
	"shared/user.go": `package shared

// User is a registered account.
type User struct {
	ID    string
	Name  string
	email string
}

type Store interface {
	Get(id string) (*User, error)
}

type internalOnly struct{}
`,
	"web/package.json": `{
  "name": "web",
  "dependencies": {"react": "^18.0.0"},
  "devDependencies": {"typescript": "^5.0.0"}
}
`,
	"web/src/api.ts": `export interface User {
  id: string
}

const baseURL = process.env.API_URL
const dsn = process.env["DATABASE_URL"]

router.get('/users/:id', show)
`,
}

func writeFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

// scanFixture builds a fresh workspace context from files.
func scanFixture(t *testing.T, files map[string]string) *workspace.Context {
	t.Helper()
	return newContext(scanRoot(t, writeFixture(t, files)))
}

func scanRoot(t *testing.T, root string) *scan.Result {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	res, err := scan.NewScanner(nil, log).Scan(context.Background(), []string{root})
	require.NoError(t, err)
	return res
}

// newContext creates a context from a scan result; each call is independent.
func newContext(res *scan.Result) *workspace.Context {
	return workspace.New(workspace.Metadata{
		GeneratedAt: time.Now(),
		Mode:        res.Mode,
		Roots:       res.Roots,
	}, res.Repositories)
}

// builtins returns the registry of built-in passes.
func builtins(t *testing.T, opts Options) *pipeline.Registry {
	t.Helper()
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg, opts))
	return reg
}

// runPass executes one built-in pass against ws and merges its additions.
func runPass(t *testing.T, reg *pipeline.Registry, name string, ws *workspace.Context) error {
	t.Helper()
	p, ok := reg.Get(name)
	require.True(t, ok, "pass %s not registered", name)

	log, _ := logtest.NewNullLogger()
	staged := ws.Stage()
	if err := p.Execute(context.Background(), staged, log); err != nil {
		return err
	}
	require.NoError(t, ws.Apply(staged.Delta()))
	return nil
}
