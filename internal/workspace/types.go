package workspace

import "time"

// Mode describes how the scanned roots are laid out.
type Mode string

const (
	// ModeSingle is one repository.
	ModeSingle Mode = "single"

	// ModeMulti is several independent repositories scanned together.
	ModeMulti Mode = "multi"

	// ModeMonorepo is one repository containing several packages/services.
	ModeMonorepo Mode = "monorepo"
)

// Repository is one discovered code repository (or monorepo member).
type Repository struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`

	// Module is the published module/package name, if a manifest declares one.
	Module string `yaml:"module,omitempty"`

	// Manifests lists manifest files found at the repository root (relative paths).
	Manifests []string `yaml:"manifests,omitempty"`

	// Dependencies are module names declared in the manifests.
	Dependencies []string `yaml:"dependencies,omitempty"`

	Languages  map[string]int `yaml:"languages,omitempty"`
	TotalFiles int            `yaml:"total_files"`
	TotalLines int            `yaml:"total_lines"`
	IsGit      bool           `yaml:"git"`
}

// Relationship is an inferred edge between two repositories.
type Relationship struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Kind     string `yaml:"kind"` // e.g. "depends-on", "calls"
	Evidence string `yaml:"evidence,omitempty"`
}

// Location points into a source file.
type Location struct {
	Repo string `yaml:"repo"`
	File string `yaml:"file"`
	Line int    `yaml:"line"`
}

// SharedType is an exported type definition.
type SharedType struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"` // struct, interface, alias, class
	Language string   `yaml:"language"`
	Location Location `yaml:"location"`
	Fields   []string `yaml:"fields,omitempty"`

	// UsedBy lists other repositories that reference this type by name.
	UsedBy []string `yaml:"used_by,omitempty"`
}

// Endpoint is an HTTP route registration.
type Endpoint struct {
	Method   string   `yaml:"method"`
	Path     string   `yaml:"path"`
	Handler  string   `yaml:"handler,omitempty"`
	Location Location `yaml:"location"`
}

// EnvVar is an environment variable with every repo and place that reads it.
type EnvVar struct {
	Name      string     `yaml:"name"`
	Repos     []string   `yaml:"repos"`
	Locations []Location `yaml:"locations"`
}

// Question is an open question left for a human or an agent to answer.
type Question struct {
	ID      string   `yaml:"id"`
	Topic   string   `yaml:"topic"`
	Text    string   `yaml:"text"`
	Repos   []string `yaml:"repos,omitempty"`
	AskedBy string   `yaml:"asked_by"`
}

// Metadata describes the run that produced the context.
type Metadata struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	Mode        Mode      `yaml:"mode"`
	RunID       string    `yaml:"run_id,omitempty"`
	Roots       []string  `yaml:"roots"`
}
