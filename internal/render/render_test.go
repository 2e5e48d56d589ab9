package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/repodoc/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func finishedContext(t *testing.T) *workspace.Context {
	t.Helper()
	ws := workspace.New(workspace.Metadata{
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Mode:        workspace.ModeMulti,
		Roots:       []string{"/src"},
	}, []workspace.Repository{
		{Name: "api", Path: "/src/api", Module: "example.com/api"},
		{Name: "web", Path: "/src/web"},
	})
	ws.SetRunID("run-1")

	s := ws.Stage()
	s.AddRelationship(workspace.Relationship{From: "web", To: "api", Kind: "depends-on"})
	s.AddSharedType(workspace.SharedType{Name: "User", Kind: "struct", Language: "Go",
		Location: workspace.Location{Repo: "api", File: "user.go", Line: 3}})
	s.AddEndpoint(workspace.Endpoint{Method: "GET", Path: "/users/{id}",
		Location: workspace.Location{Repo: "api", File: "main.go", Line: 10}})
	s.AddEnvVar("PORT", workspace.Location{Repo: "api", File: "main.go", Line: 4})
	s.AddQuestion(workspace.Question{ID: "q-env", Topic: "env", Text: "Who owns PORT?", Repos: []string{"api", "web"}})
	s.AddQuestion(workspace.Question{ID: "q-build", Topic: "build", Text: "How is web built?", Repos: []string{"web"}})
	s.SetAnswer("q-env", "The api repository.")
	require.NoError(t, ws.Apply(s.Delta()))

	ws.Finalize()
	return ws
}

func TestWriteRequiresFinalizedContext(t *testing.T) {
	ws := workspace.New(workspace.Metadata{Mode: workspace.ModeSingle}, nil)
	_, err := Write(t.TempDir(), ws)
	assert.ErrorIs(t, err, ErrNotFinalized)
}

func TestWriteAllShards(t *testing.T) {
	ws := finishedContext(t)
	dir := filepath.Join(t.TempDir(), "shards")

	paths, err := Write(dir, ws)
	require.NoError(t, err)
	require.Len(t, paths, 6)
	assert.Equal(t, filepath.Join(dir, MetaFile), paths[len(paths)-1])

	for _, name := range []string{TopologyFile, TypesFile, EndpointsFile, EnvFile, QuestionsFile, MetaFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestTopologyShard(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(dir, finishedContext(t))
	require.NoError(t, err)

	var topo topologyShard
	readYAML(t, filepath.Join(dir, TopologyFile), &topo)
	assert.Equal(t, workspace.ModeMulti, topo.Mode)
	require.Len(t, topo.Repositories, 2)
	assert.Equal(t, "api", topo.Repositories[0].Name)
	assert.Equal(t, "example.com/api", topo.Repositories[0].Module)
	require.Len(t, topo.Relationships, 1)
	assert.Equal(t, "web", topo.Relationships[0].From)
}

func TestMetaShard(t *testing.T) {
	ws := finishedContext(t)
	dir := t.TempDir()
	_, err := Write(dir, ws)
	require.NoError(t, err)

	var meta metaShard
	readYAML(t, filepath.Join(dir, MetaFile), &meta)

	fp, err := ws.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp, meta.Fingerprint)
	assert.Equal(t, "run-1", meta.RunID)
	assert.Equal(t, 2, meta.Counts["questions"])
	assert.Equal(t, 1, meta.Counts["answers"])
	assert.Equal(t, 1, meta.OpenQuestions)
	assert.Equal(t, []string{TopologyFile, TypesFile, EndpointsFile, EnvFile, QuestionsFile}, meta.Shards)
}

func TestWriteIsReproducible(t *testing.T) {
	ws := finishedContext(t)
	a, b := t.TempDir(), t.TempDir()
	_, err := Write(a, ws)
	require.NoError(t, err)
	_, err = Write(b, ws)
	require.NoError(t, err)

	for _, name := range []string{TopologyFile, TypesFile, EndpointsFile, EnvFile, QuestionsFile, MetaFile} {
		first, err := os.ReadFile(filepath.Join(a, name))
		require.NoError(t, err)
		second, err := os.ReadFile(filepath.Join(b, name))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second), name)
	}
}

func TestQuestionsMarkdown(t *testing.T) {
	md := string(Questions(finishedContext(t).Snapshot()))

	assert.Contains(t, md, "2 questions, 1 answered.")
	assert.Contains(t, md, "## build")
	assert.Contains(t, md, "### Who owns PORT?")
	assert.Contains(t, md, "**Answer:** The api repository.")
	assert.Contains(t, md, "**Answer:** _open_")
	assert.Contains(t, md, "- Repositories: api, web")
	assert.Less(t, strings.Index(md, "## build"), strings.Index(md, "## env"), "topics are sorted")
}

func TestQuestionsMarkdownEmpty(t *testing.T) {
	md := string(Questions(workspace.Snapshot{}))
	assert.Contains(t, md, "No open questions.")
}

func readYAML(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, v))
}
