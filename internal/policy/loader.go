package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/uma-engine/go-core/internal/cel"
	"github.com/uma-engine/go-core/pkg/types"
)

// Loader loads and parses policy files from disk. Rule policy conditions
// are compiled up front so a bad expression fails at load time, not at
// evaluation time.
type Loader struct {
	logger    *zap.Logger
	celEngine *cel.Engine
}

// NewLoader creates a new policy loader
func NewLoader(logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL engine: %w", err)
	}

	return &Loader{
		logger:    logger,
		celEngine: celEngine,
	}, nil
}

// policyFile is the on-disk policy document. A file holds one or more
// policy definitions.
type policyFile struct {
	Policies []*types.Policy `yaml:"policies"`
}

// LoadFromDirectory loads all policy files from a directory. Files that
// fail to parse are logged and skipped so one bad file does not take down
// the rest of the policy set.
func (l *Loader) LoadFromDirectory(path string) ([]*types.Policy, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var policies []*types.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		loaded, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("Failed to load policy file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}

		policies = append(policies, loaded...)
	}

	return policies, nil
}

// LoadFromFile loads policy definitions from a single file
func (l *Loader) LoadFromFile(filePath string) ([]*types.Policy, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file policyFile
	// yaml.Unmarshal handles JSON as a subset
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	for _, p := range file.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.ID, err)
		}
		if err := l.compileConditions(p); err != nil {
			return nil, err
		}
		if p.Type == types.PolicyTypeAggregate && len(p.AssociatedPolicies) == 0 {
			l.logger.Warn("Aggregate policy has no associated policies; it folds to PERMIT",
				zap.String("policy", p.ID),
			)
		}
	}

	return file.Policies, nil
}

// LoadIntoStore loads a directory of policies into a store
func (l *Loader) LoadIntoStore(path string, store Store) (int, error) {
	policies, err := l.LoadFromDirectory(path)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range policies {
		if err := store.Add(p); err != nil {
			l.logger.Warn("Failed to add policy to store",
				zap.String("policy", p.ID),
				zap.Error(err),
			)
			continue
		}
		count++
	}
	return count, nil
}

// compileConditions pre-compiles CEL conditions on rule policies
func (l *Loader) compileConditions(policy *types.Policy) error {
	if policy.Type != types.PolicyTypeRule {
		return nil
	}

	expr := policy.Config["condition"]
	if expr == "" {
		return &types.ConfigurationError{
			Detail: fmt.Sprintf("rule policy %q has no condition", policy.ID),
		}
	}

	if _, err := l.celEngine.Compile(expr); err != nil {
		return fmt.Errorf("policy %q condition: %w", policy.ID, err)
	}
	return nil
}
