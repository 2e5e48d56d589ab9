package passes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
	"golang.org/x/mod/modfile"
)

// manifestInfo is what one manifest declares.
type manifestInfo struct {
	module string
	deps   []string
}

type manifestParser func(path string, data []byte) (manifestInfo, error)

// manifestParsers are tried in this order; the first declared module name wins.
var manifestParsers = []struct {
	file  string
	parse manifestParser
}{
	{"go.mod", parseGoMod},
	{"package.json", parsePackageJSON},
	{"Cargo.toml", parseCargoToml},
	{"pyproject.toml", parsePyproject},
}

// readManifests records the module name and declared dependencies of
// every repository. A manifest that fails to parse is logged and skipped
// so one broken file does not hide the rest of the workspace.
func readManifests(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
	var parsed, broken int
	for _, repo := range ws.Repositories() {
		update := workspace.Repository{Name: repo.Name}
		for _, mp := range manifestParsers {
			path := filepath.Join(repo.Path, mp.file)
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			info, err := mp.parse(path, data)
			if err != nil {
				broken++
				log.WithFields(logrus.Fields{
					"repo":     repo.Name,
					"manifest": mp.file,
				}).WithError(err).Warn("Skipping unparseable manifest")
				continue
			}
			parsed++

			if update.Module == "" {
				update.Module = info.module
			}
			update.Manifests = append(update.Manifests, mp.file)
			update.Dependencies = append(update.Dependencies, info.deps...)
		}
		ws.AddRepository(update)
	}

	log.WithFields(logrus.Fields{"parsed": parsed, "broken": broken}).Debug("Read manifests")
	return nil
}

func parseGoMod(path string, data []byte) (manifestInfo, error) {
	f, err := modfile.ParseLax(path, data, nil)
	if err != nil {
		return manifestInfo{}, fmt.Errorf("failed to parse go.mod: %w", err)
	}
	var info manifestInfo
	if f.Module != nil {
		info.module = f.Module.Mod.Path
	}
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		info.deps = append(info.deps, req.Mod.Path)
	}
	return info, nil
}

type packageJSON struct {
	Name                 string            `json:"name"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

func parsePackageJSON(_ string, data []byte) (manifestInfo, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return manifestInfo{}, fmt.Errorf("failed to parse package.json: %w", err)
	}
	info := manifestInfo{module: pkg.Name}
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.DevDependencies, pkg.PeerDependencies, pkg.OptionalDependencies} {
		for name := range deps {
			info.deps = append(info.deps, name)
		}
	}
	return info, nil
}

type cargoToml struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies      map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies   map[string]toml.Primitive `toml:"dev-dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
}

func parseCargoToml(_ string, data []byte) (manifestInfo, error) {
	var cargo cargoToml
	if err := toml.Unmarshal(data, &cargo); err != nil {
		return manifestInfo{}, fmt.Errorf("failed to parse Cargo.toml: %w", err)
	}
	info := manifestInfo{module: cargo.Package.Name}
	for _, deps := range []map[string]toml.Primitive{cargo.Dependencies, cargo.DevDependencies, cargo.BuildDependencies} {
		for name := range deps {
			info.deps = append(info.deps, name)
		}
	}
	return info, nil
}

type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string                    `toml:"name"`
			Dependencies map[string]toml.Primitive `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// pep508Name matches the distribution name at the start of a requirement
// such as "requests[socks]>=2.31".
var pep508Name = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)`)

func parsePyproject(_ string, data []byte) (manifestInfo, error) {
	var py pyproject
	if err := toml.Unmarshal(data, &py); err != nil {
		return manifestInfo{}, fmt.Errorf("failed to parse pyproject.toml: %w", err)
	}

	info := manifestInfo{module: py.Project.Name}
	if info.module == "" {
		info.module = py.Tool.Poetry.Name
	}

	requirements := py.Project.Dependencies
	for _, extra := range py.Project.OptionalDependencies {
		requirements = append(requirements, extra...)
	}
	for _, req := range requirements {
		if m := pep508Name.FindStringSubmatch(req); m != nil {
			info.deps = append(info.deps, strings.ToLower(m[1]))
		}
	}
	for name := range py.Tool.Poetry.Dependencies {
		if strings.EqualFold(name, "python") {
			continue
		}
		info.deps = append(info.deps, strings.ToLower(name))
	}
	return info, nil
}
