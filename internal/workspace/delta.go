package workspace

import (
	"slices"
	"sync"
)

// Writer is what a pass sees: the context as it stood when the pass's
// wave started, plus methods to record additions.
type Writer interface {
	Reader

	// AddRepository records facts about a repository. Fields are merged
	// into any existing entry with the same name; nothing is overwritten.
	AddRepository(r Repository)
	AddRelationship(r Relationship)
	AddSharedType(t SharedType)
	AddEndpoint(e Endpoint)
	AddEnvVar(name string, loc Location)
	AddQuestion(q Question)
	SetAnswer(questionID, answer string)
}

// Delta collects one pass's additions until the runner merges them.
// It is safe for use by several goroutines inside one pass.
type Delta struct {
	mu          sync.Mutex
	repos       []Repository
	rels        []Relationship
	types       []SharedType
	endpoints   []Endpoint
	env         []envUse
	questions   []Question
	answers     map[string]string
	answerOrder []string
}

type envUse struct {
	name string
	loc  Location
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{answers: make(map[string]string)}
}

// Empty reports whether the delta holds no additions.
func (d *Delta) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.repos)+len(d.rels)+len(d.types)+len(d.endpoints)+
		len(d.env)+len(d.questions)+len(d.answerOrder) == 0
}

// Len returns the number of recorded additions.
func (d *Delta) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.repos) + len(d.rels) + len(d.types) + len(d.endpoints) +
		len(d.env) + len(d.questions) + len(d.answerOrder)
}

// Staged is a Writer whose reads come from a base context and whose
// writes go to a private Delta.
type Staged struct {
	base  *Context
	delta *Delta
}

// Stage creates a staged writer over c.
func (c *Context) Stage() *Staged {
	return &Staged{base: c, delta: NewDelta()}
}

// Delta returns the additions recorded so far.
func (s *Staged) Delta() *Delta {
	return s.delta
}

// AddRepository implements Writer.
func (s *Staged) AddRepository(r Repository) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	s.delta.repos = append(s.delta.repos, cloneRepository(r))
}

// AddRelationship implements Writer.
func (s *Staged) AddRelationship(r Relationship) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	s.delta.rels = append(s.delta.rels, r)
}

// AddSharedType implements Writer.
func (s *Staged) AddSharedType(t SharedType) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	t.Fields = slices.Clone(t.Fields)
	t.UsedBy = slices.Clone(t.UsedBy)
	s.delta.types = append(s.delta.types, t)
}

// AddEndpoint implements Writer.
func (s *Staged) AddEndpoint(e Endpoint) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	s.delta.endpoints = append(s.delta.endpoints, e)
}

// AddEnvVar implements Writer.
func (s *Staged) AddEnvVar(name string, loc Location) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	s.delta.env = append(s.delta.env, envUse{name: name, loc: loc})
}

// AddQuestion implements Writer.
func (s *Staged) AddQuestion(q Question) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	s.delta.questions = append(s.delta.questions, cloneQuestion(q))
}

// SetAnswer implements Writer. The first answer recorded for an id wins.
func (s *Staged) SetAnswer(questionID, answer string) {
	s.delta.mu.Lock()
	defer s.delta.mu.Unlock()
	if _, exists := s.delta.answers[questionID]; exists {
		return
	}
	s.delta.answers[questionID] = answer
	s.delta.answerOrder = append(s.delta.answerOrder, questionID)
}

// Metadata implements Reader.
func (s *Staged) Metadata() Metadata { return s.base.Metadata() }

// Repositories implements Reader.
func (s *Staged) Repositories() []Repository { return s.base.Repositories() }

// Repository implements Reader.
func (s *Staged) Repository(name string) (Repository, bool) { return s.base.Repository(name) }

// Relationships implements Reader.
func (s *Staged) Relationships() []Relationship { return s.base.Relationships() }

// SharedTypes implements Reader.
func (s *Staged) SharedTypes() []SharedType { return s.base.SharedTypes() }

// Endpoints implements Reader.
func (s *Staged) Endpoints() []Endpoint { return s.base.Endpoints() }

// EnvVars implements Reader.
func (s *Staged) EnvVars() []EnvVar { return s.base.EnvVars() }

// Questions implements Reader.
func (s *Staged) Questions() []Question { return s.base.Questions() }

// Answer implements Reader.
func (s *Staged) Answer(questionID string) (string, bool) { return s.base.Answer(questionID) }

// Answers implements Reader.
func (s *Staged) Answers() map[string]string { return s.base.Answers() }
