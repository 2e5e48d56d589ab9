package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExcludePaths are used when a Scanner has no patterns of its own.
var DefaultExcludePaths = []string{
	"vendor/",
	"node_modules/",
	".git/",
	"*.pb.go",
	"*_generated.go",
}

// WalkFunc is called for every regular file that survives the exclude
// patterns. rel is slash-separated and relative to the walk root.
type WalkFunc func(rel, path string) error

// Walk visits the files under root, skipping hidden entries and anything
// matching excludePaths. It stops early when ctx is cancelled.
func Walk(ctx context.Context, root string, excludePaths []string, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if shouldExclude(relPath, d.IsDir(), excludePaths) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		return fn(relPath, path)
	})
}

// shouldExclude checks if a path should be excluded from analysis.
func shouldExclude(relPath string, isDir bool, excludePaths []string) bool {
	if relPath == "." {
		return false
	}

	// Always exclude hidden files and directories
	if strings.HasPrefix(filepath.Base(relPath), ".") {
		return true
	}

	for _, pattern := range excludePaths {
		if matchesPattern(relPath, pattern, isDir) {
			return true
		}
	}

	return false
}

// matchesPattern checks if a path matches an exclude pattern.
func matchesPattern(path, pattern string, isDir bool) bool {
	// Directory patterns (e.g., "vendor/")
	if strings.HasSuffix(pattern, "/") {
		name := strings.TrimSuffix(pattern, "/")
		if isDir && (path == name || strings.HasSuffix(path, "/"+name)) {
			return true
		}
		return strings.HasPrefix(path, pattern) || strings.Contains(path, "/"+pattern)
	}

	// Glob patterns (e.g., "*.pb.go")
	if strings.Contains(pattern, "*") {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	return path == pattern || strings.HasPrefix(path, pattern+"/")
}

var languageMap = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".c":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".h":     "C/C++ Header",
	".hpp":   "C++ Header",
	".rs":    "Rust",
	".rb":    "Ruby",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".scala": "Scala",
	".sh":    "Shell",
	".bash":  "Shell",
	".sql":   "SQL",
	".cs":    "C#",
	".ex":    "Elixir",
	".lua":   "Lua",
}

// DetectLanguage returns the programming language based on file extension,
// or "" when the extension is not a known source language.
func DetectLanguage(path string) string {
	return languageMap[strings.ToLower(filepath.Ext(path))]
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".xml": true, ".html": true, ".css": true, ".scss": true,
	".proto": true, ".graphql": true, ".env": true,
}

// isTextFile checks if a file is likely a text file.
func isTextFile(path string) bool {
	if DetectLanguage(path) != "" {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// countLines counts the number of lines in a text file.
func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}

	// If file doesn't end with newline, add 1
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}

	return lines, nil
}
