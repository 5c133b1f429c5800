package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSuite reads and validates a YAML suite file from disk. Suite
// defaults are already applied to the returned scenarios.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	suite, err := ParseSuite(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if suite.Name == "" {
		suite.Name = suiteNameFromPath(path)
	}
	return suite, nil
}

// ParseSuite parses and validates YAML suite content.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite YAML: %w", err)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	suite.ApplyDefaults()
	return &suite, nil
}

// DefaultSuitePath returns the canonical suite file path for a workspace.
func DefaultSuitePath(workspace string) string {
	return filepath.Join(workspace, "suite.yaml")
}

func suiteNameFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
