package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrFinalized is returned when merging into a context after the run completed.
var ErrFinalized = errors.New("workspace context is finalized")

// Reader is read access to the accumulated analysis results.
// Every accessor returns copies in a stable order.
type Reader interface {
	Metadata() Metadata
	Repositories() []Repository
	Repository(name string) (Repository, bool)
	Relationships() []Relationship
	SharedTypes() []SharedType
	Endpoints() []Endpoint
	EnvVars() []EnvVar
	Questions() []Question
	Answer(questionID string) (string, bool)
	Answers() map[string]string
}

// Context is the single aggregate every pass reads and extends.
//
// Passes never write to it directly. Their additions are collected in a
// Delta and merged with Apply, which is additive: entries contributed by
// one pass are never removed by another. Collections are keyed by their
// natural identity, so the merge order does not affect the final content.
type Context struct {
	mu        sync.RWMutex
	meta      Metadata
	repos     map[string]Repository
	rels      map[string]Relationship
	types     map[string]SharedType
	endpoints map[string]Endpoint
	env       map[string]EnvVar
	questions map[string]Question
	answers   map[string]string
	finalized bool
}

// New creates a context from the initial scan results.
func New(meta Metadata, repos []Repository) *Context {
	c := &Context{
		meta:      meta,
		repos:     make(map[string]Repository),
		rels:      make(map[string]Relationship),
		types:     make(map[string]SharedType),
		endpoints: make(map[string]Endpoint),
		env:       make(map[string]EnvVar),
		questions: make(map[string]Question),
		answers:   make(map[string]string),
	}
	c.meta.Roots = slices.Clone(meta.Roots)
	for _, r := range repos {
		c.mergeRepository(r)
	}
	return c
}

// SetRunID records the id of the pipeline run filling this context.
func (c *Context) SetRunID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.RunID = id
}

// Apply merges a pass's additions into the context.
func (c *Context) Apply(d *Delta) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return ErrFinalized
	}

	for _, r := range d.repos {
		c.mergeRepository(r)
	}
	for _, rel := range d.rels {
		key := rel.From + "\x00" + rel.To + "\x00" + rel.Kind
		if _, exists := c.rels[key]; !exists {
			c.rels[key] = rel
		}
	}
	for _, t := range d.types {
		c.mergeSharedType(t)
	}
	for _, e := range d.endpoints {
		key := e.Method + "\x00" + e.Path + "\x00" + locationKey(e.Location)
		if _, exists := c.endpoints[key]; !exists {
			c.endpoints[key] = e
		}
	}
	for _, u := range d.env {
		c.mergeEnvVar(u.name, u.loc)
	}
	for _, q := range d.questions {
		if _, exists := c.questions[q.ID]; !exists {
			c.questions[q.ID] = cloneQuestion(q)
		}
	}
	for _, id := range d.answerOrder {
		if _, exists := c.answers[id]; !exists {
			c.answers[id] = d.answers[id]
		}
	}
	return nil
}

// Finalize marks the context read-only. Further Apply calls fail.
func (c *Context) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true
}

// Finalized reports whether Finalize was called.
func (c *Context) Finalized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized
}

func (c *Context) mergeRepository(r Repository) {
	existing, ok := c.repos[r.Name]
	if !ok {
		c.repos[r.Name] = cloneRepository(r)
		return
	}
	if existing.Path == "" {
		existing.Path = r.Path
	}
	if existing.Module == "" {
		existing.Module = r.Module
	}
	existing.Manifests = union(existing.Manifests, r.Manifests)
	existing.Dependencies = union(existing.Dependencies, r.Dependencies)
	if len(r.Languages) > 0 {
		if existing.Languages == nil {
			existing.Languages = make(map[string]int)
		}
		for lang, n := range r.Languages {
			if n > existing.Languages[lang] {
				existing.Languages[lang] = n
			}
		}
	}
	existing.TotalFiles = max(existing.TotalFiles, r.TotalFiles)
	existing.TotalLines = max(existing.TotalLines, r.TotalLines)
	existing.IsGit = existing.IsGit || r.IsGit
	c.repos[r.Name] = existing
}

func (c *Context) mergeSharedType(t SharedType) {
	key := t.Language + "\x00" + t.Name + "\x00" + locationKey(t.Location)
	existing, ok := c.types[key]
	if !ok {
		t.Fields = slices.Clone(t.Fields)
		t.UsedBy = union(nil, t.UsedBy)
		c.types[key] = t
		return
	}
	existing.UsedBy = union(existing.UsedBy, t.UsedBy)
	if len(existing.Fields) == 0 {
		existing.Fields = slices.Clone(t.Fields)
	}
	c.types[key] = existing
}

func (c *Context) mergeEnvVar(name string, loc Location) {
	v := c.env[name]
	v.Name = name
	v.Repos = union(v.Repos, []string{loc.Repo})
	for _, l := range v.Locations {
		if l == loc {
			c.env[name] = v
			return
		}
	}
	v.Locations = append(v.Locations, loc)
	sort.Slice(v.Locations, func(i, j int) bool {
		return locationKey(v.Locations[i]) < locationKey(v.Locations[j])
	})
	c.env[name] = v
}

// Metadata implements Reader.
func (c *Context) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.meta
	m.Roots = slices.Clone(c.meta.Roots)
	return m
}

// Repositories implements Reader.
func (c *Context) Repositories() []Repository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := sortedValues(c.repos)
	for i := range out {
		out[i] = cloneRepository(out[i])
	}
	return out
}

// Repository implements Reader.
func (c *Context) Repository(name string) (Repository, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.repos[name]
	if !ok {
		return Repository{}, false
	}
	return cloneRepository(r), true
}

// Relationships implements Reader.
func (c *Context) Relationships() []Relationship {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.rels)
}

// SharedTypes implements Reader.
func (c *Context) SharedTypes() []SharedType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := sortedValues(c.types)
	for i := range out {
		out[i].Fields = slices.Clone(out[i].Fields)
		out[i].UsedBy = slices.Clone(out[i].UsedBy)
	}
	return out
}

// Endpoints implements Reader.
func (c *Context) Endpoints() []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.endpoints)
}

// EnvVars implements Reader.
func (c *Context) EnvVars() []EnvVar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := sortedValues(c.env)
	for i := range out {
		out[i].Repos = slices.Clone(out[i].Repos)
		out[i].Locations = slices.Clone(out[i].Locations)
	}
	return out
}

// Questions implements Reader.
func (c *Context) Questions() []Question {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := sortedValues(c.questions)
	for i := range out {
		out[i] = cloneQuestion(out[i])
	}
	return out
}

// Answer implements Reader.
func (c *Context) Answer(questionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.answers[questionID]
	return a, ok
}

// Answers implements Reader.
func (c *Context) Answers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.answers)
}

// Snapshot is a plain copy of the context, used by renderers.
type Snapshot struct {
	Metadata      Metadata          `yaml:"metadata"`
	Repositories  []Repository      `yaml:"repositories"`
	Relationships []Relationship    `yaml:"relationships"`
	SharedTypes   []SharedType      `yaml:"shared_types"`
	Endpoints     []Endpoint        `yaml:"endpoints"`
	EnvVars       []EnvVar          `yaml:"env_vars"`
	Questions     []Question        `yaml:"questions"`
	Answers       map[string]string `yaml:"answers"`
}

// Snapshot returns a copy of everything in the context.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Metadata:      c.Metadata(),
		Repositories:  c.Repositories(),
		Relationships: c.Relationships(),
		SharedTypes:   c.SharedTypes(),
		Endpoints:     c.Endpoints(),
		EnvVars:       c.EnvVars(),
		Questions:     c.Questions(),
		Answers:       c.Answers(),
	}
}

// Fingerprint returns a digest of the context content. The generation
// timestamp and run id are excluded, so two runs over the same input
// produce the same fingerprint.
func (c *Context) Fingerprint() (string, error) {
	snap := c.Snapshot()
	snap.Metadata.GeneratedAt = time.Time{}
	snap.Metadata.RunID = ""

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func locationKey(l Location) string {
	return l.Repo + "\x00" + l.File + "\x00" + fmt.Sprintf("%08d", l.Line)
}

// sortedValues returns the map values ordered by key.
func sortedValues[V any](m map[string]V) []V {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// union merges b into a, dropping empties and duplicates, and sorts the result.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(slices.Clone(a), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cloneRepository(r Repository) Repository {
	r.Manifests = slices.Clone(r.Manifests)
	r.Dependencies = slices.Clone(r.Dependencies)
	r.Languages = maps.Clone(r.Languages)
	return r
}

func cloneQuestion(q Question) Question {
	q.Repos = slices.Clone(q.Repos)
	return q
}
