// Package render writes the documentation shards derived from a finished
// workspace context.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/repodoc/internal/workspace"
	"gopkg.in/yaml.v3"
)

// Shard file names.
const (
	TopologyFile  = "topology.yaml"
	TypesFile     = "types.yaml"
	EndpointsFile = "endpoints.yaml"
	EnvFile       = "env.yaml"
	QuestionsFile = "questions.md"
	MetaFile      = "meta.yaml"
)

// ErrNotFinalized is returned when rendering a context whose run has not
// completed.
var ErrNotFinalized = errors.New("workspace context is not finalized")

type topologyShard struct {
	Mode          workspace.Mode           `yaml:"mode"`
	Roots         []string                 `yaml:"roots"`
	Repositories  []workspace.Repository   `yaml:"repositories"`
	Relationships []workspace.Relationship `yaml:"relationships"`
}

type typesShard struct {
	Types []workspace.SharedType `yaml:"types"`
}

type endpointsShard struct {
	Endpoints []workspace.Endpoint `yaml:"endpoints"`
}

type envShard struct {
	Variables []workspace.EnvVar `yaml:"variables"`
}

type metaShard struct {
	GeneratedAt   time.Time      `yaml:"generated_at"`
	RunID         string         `yaml:"run_id,omitempty"`
	Mode          workspace.Mode `yaml:"mode"`
	Fingerprint   string         `yaml:"fingerprint"`
	Shards        []string       `yaml:"shards"`
	Counts        map[string]int `yaml:"counts"`
	OpenQuestions int            `yaml:"open_questions"`
}

// Write renders every shard of ws into dir and returns the written paths.
// dir is created if missing; existing shards are overwritten.
func Write(dir string, ws *workspace.Context) ([]string, error) {
	if !ws.Finalized() {
		return nil, ErrNotFinalized
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	snap := ws.Snapshot()
	fingerprint, err := ws.Fingerprint()
	if err != nil {
		return nil, err
	}

	shards := []struct {
		name   string
		render func() ([]byte, error)
	}{
		{TopologyFile, func() ([]byte, error) {
			return marshal(topologyShard{
				Mode:          snap.Metadata.Mode,
				Roots:         snap.Metadata.Roots,
				Repositories:  snap.Repositories,
				Relationships: snap.Relationships,
			})
		}},
		{TypesFile, func() ([]byte, error) { return marshal(typesShard{Types: snap.SharedTypes}) }},
		{EndpointsFile, func() ([]byte, error) { return marshal(endpointsShard{Endpoints: snap.Endpoints}) }},
		{EnvFile, func() ([]byte, error) { return marshal(envShard{Variables: snap.EnvVars}) }},
		{QuestionsFile, func() ([]byte, error) { return Questions(snap), nil }},
	}

	var written []string
	names := make([]string, 0, len(shards)+1)
	for _, s := range shards {
		data, err := s.render()
		if err != nil {
			return written, fmt.Errorf("failed to render %s: %w", s.name, err)
		}
		path := filepath.Join(dir, s.name)
		if err := writeFile(path, data); err != nil {
			return written, err
		}
		written = append(written, path)
		names = append(names, s.name)
	}

	// meta.yaml goes last so its presence marks a complete set
	meta := metaShard{
		GeneratedAt:   snap.Metadata.GeneratedAt.UTC(),
		RunID:         snap.Metadata.RunID,
		Mode:          snap.Metadata.Mode,
		Fingerprint:   fingerprint,
		Shards:        names,
		Counts: map[string]int{
			"repositories":  len(snap.Repositories),
			"relationships": len(snap.Relationships),
			"types":         len(snap.SharedTypes),
			"endpoints":     len(snap.Endpoints),
			"env_vars":      len(snap.EnvVars),
			"questions":     len(snap.Questions),
			"answers":       len(snap.Answers),
		},
		OpenQuestions: openQuestions(snap),
	}
	data, err := marshal(meta)
	if err != nil {
		return written, fmt.Errorf("failed to render %s: %w", MetaFile, err)
	}
	path := filepath.Join(dir, MetaFile)
	if err := writeFile(path, data); err != nil {
		return written, err
	}
	return append(written, path), nil
}

// Questions renders questions and their answers as Markdown, grouped by topic.
func Questions(snap workspace.Snapshot) []byte {
	var b strings.Builder
	b.WriteString("# Open Questions\n\n")

	if len(snap.Questions) == 0 {
		b.WriteString("No open questions.\n")
		return []byte(b.String())
	}

	byTopic := make(map[string][]workspace.Question)
	for _, q := range snap.Questions {
		byTopic[q.Topic] = append(byTopic[q.Topic], q)
	}
	topics := make([]string, 0, len(byTopic))
	for t := range byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	fmt.Fprintf(&b, "%d questions, %d answered.\n", len(snap.Questions), len(snap.Questions)-openQuestions(snap))
	for _, topic := range topics {
		fmt.Fprintf(&b, "\n## %s\n", topic)
		for _, q := range byTopic[topic] {
			fmt.Fprintf(&b, "\n### %s\n\n", q.Text)
			if len(q.Repos) > 0 {
				fmt.Fprintf(&b, "- Repositories: %s\n", strings.Join(q.Repos, ", "))
			}
			fmt.Fprintf(&b, "- ID: `%s`\n", q.ID)
			if answer, ok := snap.Answers[q.ID]; ok {
				fmt.Fprintf(&b, "\n**Answer:** %s\n", answer)
			} else {
				b.WriteString("\n**Answer:** _open_\n")
			}
		}
	}
	return []byte(b.String())
}

func openQuestions(snap workspace.Snapshot) int {
	open := 0
	for _, q := range snap.Questions {
		if _, ok := snap.Answers[q.ID]; !ok {
			open++
		}
	}
	return open
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFile replaces path atomically so readers never see a partial shard.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
