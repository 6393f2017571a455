package resource

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/uma-engine/go-core/pkg/types"
)

// definitionsFile is the on-disk bootstrap document for a resource server:
// scopes first, then the resources referencing them.
type definitionsFile struct {
	Scopes    []*types.Scope    `yaml:"scopes"`
	Resources []*types.Resource `yaml:"resources"`
}

// LoadDefinitions loads scope and resource definitions from a YAML file
// into a store. Entries without a resourceServer default to serverID.
// Individual entries that fail to store are logged and skipped.
func LoadDefinitions(path, serverID string, store Store, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read definitions file: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return 0, fmt.Errorf("failed to parse definitions file: %w", err)
	}

	count := 0
	for _, scope := range file.Scopes {
		if scope.ResourceServerID == "" {
			scope.ResourceServerID = serverID
		}
		if err := store.AddScope(scope); err != nil {
			logger.Warn("Failed to add scope",
				zap.String("scope", scope.Name),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	for _, resource := range file.Resources {
		if resource.ResourceServerID == "" {
			resource.ResourceServerID = serverID
		}
		if err := store.AddResource(resource); err != nil {
			logger.Warn("Failed to add resource",
				zap.String("resource", resource.Name),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	return count, nil
}
