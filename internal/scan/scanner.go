package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// ManifestFiles are the build manifests that mark a directory as a project.
var ManifestFiles = []string{
	"go.mod",
	"package.json",
	"Cargo.toml",
	"pyproject.toml",
}

// monorepoDirs are the conventional homes of packages inside a monorepo.
var monorepoDirs = []string{"packages", "apps", "services", "libs", "cmd"}

// Result is the initial scan input for a pipeline run.
type Result struct {
	Mode         workspace.Mode
	Roots        []string
	Repositories []workspace.Repository
}

// Scanner locates repositories under a set of roots and collects their
// file statistics.
type Scanner struct {
	// Paths to exclude (glob patterns)
	ExcludePaths []string

	Log logrus.FieldLogger
}

// NewScanner creates a scanner. A nil excludePaths uses DefaultExcludePaths.
func NewScanner(excludePaths []string, log logrus.FieldLogger) *Scanner {
	if excludePaths == nil {
		excludePaths = DefaultExcludePaths
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{ExcludePaths: excludePaths, Log: log}
}

// candidate is a directory that will become one repository.
type candidate struct {
	name string
	path string
}

// Scan inspects each root and decides the operating mode:
//   - a single project root is ModeSingle
//   - a project root whose packages live in sub-directories is ModeMonorepo
//   - a directory of projects, or several roots, is ModeMulti
func (s *Scanner) Scan(ctx context.Context, roots []string) (*Result, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("no roots to scan")
	}

	result := &Result{}
	var candidates []candidate
	mode := workspace.ModeSingle

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("scanning %s: not a directory", root)
		}
		result.Roots = append(result.Roots, abs)

		found, rootMode := s.classify(abs)
		s.Log.WithFields(logrus.Fields{
			"root":         abs,
			"mode":         rootMode,
			"repositories": len(found),
		}).Debug("Classified root")

		candidates = append(candidates, found...)
		if rootMode != workspace.ModeSingle {
			mode = rootMode
		}
	}
	if len(roots) > 1 {
		mode = workspace.ModeMulti
	}
	result.Mode = mode

	for _, c := range uniqueNames(candidates) {
		repo, err := s.inspect(ctx, c)
		if err != nil {
			return nil, err
		}
		result.Repositories = append(result.Repositories, repo)
	}

	s.Log.WithFields(logrus.Fields{
		"mode":         result.Mode,
		"repositories": len(result.Repositories),
	}).Info("Scan complete")
	return result, nil
}

// classify decides how one root maps to repositories.
func (s *Scanner) classify(root string) ([]candidate, workspace.Mode) {
	if isProject(root) {
		if packages := s.monorepoPackages(root); len(packages) >= 2 {
			return packages, workspace.ModeMonorepo
		}
		return []candidate{{name: filepath.Base(root), path: root}}, workspace.ModeSingle
	}

	var found []candidate
	for _, sub := range s.subdirs(root) {
		if isProject(sub) {
			found = append(found, candidate{name: filepath.Base(sub), path: sub})
		}
	}
	if len(found) == 0 {
		// Plain directory of sources, treat it as one repository
		return []candidate{{name: filepath.Base(root), path: root}}, workspace.ModeSingle
	}
	return found, workspace.ModeMulti
}

// monorepoPackages finds manifests one level below the conventional
// package directories, or directly below root.
func (s *Scanner) monorepoPackages(root string) []candidate {
	var found []candidate
	for _, sub := range s.subdirs(root) {
		if hasManifest(sub) && !isGitRepo(sub) {
			found = append(found, candidate{name: filepath.Base(sub), path: sub})
		}
	}
	for _, dir := range monorepoDirs {
		parent := filepath.Join(root, dir)
		for _, sub := range s.subdirs(parent) {
			if hasManifest(sub) {
				found = append(found, candidate{name: dir + "/" + filepath.Base(sub), path: sub})
			}
		}
	}
	return found
}

// subdirs lists the non-excluded directories directly under dir, sorted.
func (s *Scanner) subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || shouldExclude(e.Name(), true, s.ExcludePaths) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

// inspect builds the repository entry for one candidate.
func (s *Scanner) inspect(ctx context.Context, c candidate) (workspace.Repository, error) {
	repo := workspace.Repository{
		Name:      c.name,
		Path:      c.path,
		Languages: make(map[string]int),
		IsGit:     isGitRepo(c.path),
	}
	for _, m := range ManifestFiles {
		if fileExists(filepath.Join(c.path, m)) {
			repo.Manifests = append(repo.Manifests, m)
		}
	}

	err := Walk(ctx, c.path, s.ExcludePaths, func(rel, path string) error {
		repo.TotalFiles++
		if lang := DetectLanguage(path); lang != "" {
			repo.Languages[lang]++
		}
		if isTextFile(path) {
			if lines, err := countLines(path); err == nil {
				repo.TotalLines += lines
			}
		}
		return nil
	})
	if err != nil {
		return workspace.Repository{}, fmt.Errorf("failed to walk %s: %w", c.path, err)
	}
	return repo, nil
}

// uniqueNames suffixes repeated repository names with their occurrence count.
func uniqueNames(cs []candidate) []candidate {
	seen := make(map[string]int, len(cs))
	out := make([]candidate, 0, len(cs))
	for _, c := range cs {
		seen[c.name]++
		if n := seen[c.name]; n > 1 {
			c.name = c.name + "-" + strconv.Itoa(n)
		}
		out = append(out, c)
	}
	return out
}

func isProject(dir string) bool {
	return isGitRepo(dir) || hasManifest(dir)
}

func hasManifest(dir string) bool {
	for _, m := range ManifestFiles {
		if fileExists(filepath.Join(dir, m)) {
			return true
		}
	}
	return false
}

func isGitRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
