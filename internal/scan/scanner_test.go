package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/steveyegge/repodoc/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (path -> content) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func newTestScanner() *Scanner {
	log, _ := logtest.NewNullLogger()
	return NewScanner(nil, log)
}

func TestScan_SingleRepository(t *testing.T) {
	root := filepath.Join(t.TempDir(), "api")
	writeTree(t, root, map[string]string{
		"go.mod":                    "module example.com/api\n",
		"main.go":                   "package main\n\nfunc main() {}\n",
		"internal/db/db.go":         "package db",
		"README.md":                 "# api\n",
		"vendor/x/x.go":             "package x\n",
		".hidden/secret.go":         "package secret\n",
		"internal/gen/api.pb.go":    "package gen\n",
		"node_modules/left/pad.js":  "module.exports = 1\n",
		"web/static/app.ts":         "export const x = 1\n",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))

	res, err := newTestScanner().Scan(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, workspace.ModeSingle, res.Mode)
	require.Len(t, res.Repositories, 1)

	repo := res.Repositories[0]
	assert.Equal(t, "api", repo.Name)
	assert.Equal(t, root, repo.Path)
	assert.True(t, repo.IsGit)
	assert.Equal(t, []string{"go.mod"}, repo.Manifests)
	assert.Equal(t, map[string]int{"Go": 2, "TypeScript": 1}, repo.Languages)
	assert.Equal(t, 5, repo.TotalFiles)
	// go.mod is not a text extension; main.go 3 + db.go 1 + README 1 + app.ts 1
	assert.Equal(t, 6, repo.TotalLines)
}

func TestScan_DirectoryOfRepositories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"api/go.mod":        "module example.com/api\n",
		"web/package.json":  `{"name": "web"}`,
		"notes/todo.txt":    "nothing here\n",
		"engine/Cargo.toml": "[package]\nname = \"engine\"\n",
	})

	res, err := newTestScanner().Scan(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, workspace.ModeMulti, res.Mode)
	var names []string
	for _, r := range res.Repositories {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"api", "engine", "web"}, names)
}

func TestScan_Monorepo(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mono")
	writeTree(t, root, map[string]string{
		"package.json":                `{"name": "mono", "workspaces": ["packages/*"]}`,
		"packages/ui/package.json":    `{"name": "@mono/ui"}`,
		"packages/ui/index.ts":        "export interface Props {}\n",
		"services/billing/go.mod":     "module example.com/billing\n",
		"services/billing/billing.go": "package billing\n",
	})

	res, err := newTestScanner().Scan(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, workspace.ModeMonorepo, res.Mode)
	require.Len(t, res.Repositories, 2)
	assert.Equal(t, "packages/ui", res.Repositories[0].Name)
	assert.Equal(t, "services/billing", res.Repositories[1].Name)
}

func TestScan_MultipleRootsAndDuplicateNames(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "one", "svc")
	b := filepath.Join(base, "two", "svc")
	writeTree(t, a, map[string]string{"go.mod": "module a\n"})
	writeTree(t, b, map[string]string{"go.mod": "module b\n"})

	res, err := newTestScanner().Scan(context.Background(), []string{a, b})
	require.NoError(t, err)

	assert.Equal(t, workspace.ModeMulti, res.Mode)
	require.Len(t, res.Repositories, 2)
	assert.Equal(t, "svc", res.Repositories[0].Name)
	assert.Equal(t, "svc-2", res.Repositories[1].Name)
	assert.Equal(t, []string{a, b}, res.Roots)
}

func TestScan_Errors(t *testing.T) {
	s := newTestScanner()

	_, err := s.Scan(context.Background(), nil)
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = s.Scan(context.Background(), []string{file})
	assert.ErrorContains(t, err, "not a directory")
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"go.mod": "module x\n", "x.go": "package x\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScanner().Scan(ctx, []string{root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_LogsSummary(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"go.mod": "module x\n"})

	log, hook := logtest.NewNullLogger()
	_, err := NewScanner(nil, log).Scan(context.Background(), []string{root})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Scan complete", entry.Message)
	assert.Equal(t, 1, entry.Data["repositories"])
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		isDir   bool
		want    bool
	}{
		{"vendor", "vendor/", true, true},
		{"vendor/a.go", "vendor/", false, true},
		{"web/node_modules", "node_modules/", true, true},
		{"web/node_modules/x.js", "node_modules/", false, true},
		{"vendors/a.go", "vendor/", false, false},
		{"api/types.pb.go", "*.pb.go", false, true},
		{"api/types.go", "*.pb.go", false, false},
		{"docs", "docs", true, true},
		{"docs/readme.md", "docs", false, true},
		{"documents", "docs", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.path, tt.pattern, tt.isDir))
		})
	}
}

func TestWalk_VisitsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":          "package a",
		"sub/b.ts":      "export {}",
		"vendor/c.go":   "package c",
		".cache/d.json": "{}",
	})

	var seen []string
	err := Walk(context.Background(), root, DefaultExcludePaths, func(rel, path string) error {
		seen = append(seen, rel)
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(rel)), path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "sub/b.ts"}, seen)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "Go", DetectLanguage("main.go"))
	assert.Equal(t, "TypeScript", DetectLanguage("App.TSX"))
	assert.Equal(t, "Python", DetectLanguage("svc/app.py"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}
