package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uma-engine/go-core/pkg/types"
)

type usersFile struct {
	Users []*types.Identity `yaml:"users"`
}

// LoadUsers loads identities from a YAML file into a directory
func LoadUsers(path string, directory *MemoryDirectory) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read users file: %w", err)
	}

	var file usersFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return 0, fmt.Errorf("failed to parse users file: %w", err)
	}

	for _, u := range file.Users {
		if u.ID == "" {
			return 0, &types.ValidationError{Field: "id", Message: "user id is required"}
		}
		directory.Add(u)
	}
	return len(file.Users), nil
}
