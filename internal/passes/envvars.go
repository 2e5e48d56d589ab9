package passes

import (
	"context"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

const envName = `([A-Za-z_][A-Za-z0-9_]*)`

// envPatterns capture the variable name in group 1.
var envPatterns = map[string][]*regexp.Regexp{
	"Go": {
		regexp.MustCompile(`os\.(?:Getenv|LookupEnv)\(\s*"` + envName + `"`),
	},
	"JavaScript": jsEnvPatterns,
	"TypeScript": jsEnvPatterns,
	"Python": {
		regexp.MustCompile(`os\.environ\[\s*['"]` + envName + `['"]\s*\]`),
		regexp.MustCompile(`os\.(?:environ\.get|getenv)\(\s*['"]` + envName + `['"]`),
	},
	"Rust": {
		regexp.MustCompile(`env::var(?:_os)?\(\s*"` + envName + `"`),
	},
	"Ruby": {
		regexp.MustCompile(`ENV(?:\.fetch\(|\[)\s*['"]` + envName + `['"]`),
	},
}

var jsEnvPatterns = []*regexp.Regexp{
	regexp.MustCompile(`process\.env\.` + envName),
	regexp.MustCompile(`process\.env\[\s*['"]` + envName + `['"]\s*\]`),
	regexp.MustCompile(`import\.meta\.env\.` + envName),
}

// findEnvVars records every read of an environment variable. The context
// merges reads of the same name across repositories.
func findEnvVars(ctx context.Context, ws workspace.Writer, files []sourceFile, log logrus.FieldLogger) error {
	reads := 0
	for _, f := range files {
		patterns := envPatterns[f.language]
		if len(patterns) == 0 {
			continue
		}

		data, err := os.ReadFile(f.path)
		if err != nil {
			log.WithError(err).WithField("file", f.rel).Warn("Skipping unreadable file")
			continue
		}

		for _, re := range patterns {
			for _, m := range re.FindAllSubmatchIndex(data, -1) {
				ws.AddEnvVar(group(data, m, 1), f.loc(lineAt(data, m[0])))
				reads++
			}
		}
	}

	log.WithField("reads", reads).Debug("Found environment variable reads")
	return nil
}
