package passes

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/steveyegge/repodoc/internal/workspace"
)

// RelationDependsOn marks a repository that declares another repository's
// module as a dependency.
const RelationDependsOn = "depends-on"

// inferRelationships links repositories whose manifests depend on a module
// published by another scanned repository.
func inferRelationships(ctx context.Context, ws workspace.Writer, log logrus.FieldLogger) error {
	repos := ws.Repositories()

	// Module names are compared case-insensitively; Python normalizes them
	publishers := make(map[string]string, len(repos))
	for _, r := range repos {
		if r.Module != "" {
			publishers[strings.ToLower(r.Module)] = r.Name
		}
	}

	found := 0
	for _, r := range repos {
		for _, dep := range r.Dependencies {
			to, ok := publishers[strings.ToLower(dep)]
			if !ok || to == r.Name {
				continue
			}
			ws.AddRelationship(workspace.Relationship{
				From:     r.Name,
				To:       to,
				Kind:     RelationDependsOn,
				Evidence: dep,
			})
			found++
		}
	}

	log.WithField("relationships", found).Debug("Inferred repository relationships")
	return nil
}
