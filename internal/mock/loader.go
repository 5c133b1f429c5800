package mock

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk YAML shape for a rule set.
type RuleFile struct {
	Version int     `yaml:"version"`
	Rules   []*Rule `yaml:"rules"`
}

// LoadRules reads and validates a YAML rule file from disk.
func LoadRules(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

// ParseRules parses and validates YAML rule content.
func ParseRules(data []byte) ([]*Rule, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	if rf.Version > 1 {
		return nil, fmt.Errorf("unsupported rules version: %d", rf.Version)
	}

	seen := make(map[string]bool, len(rf.Rules))
	for i, r := range rf.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.Name)
		}
		seen[r.Name] = true
	}
	return rf.Rules, nil
}

// LoadRuleSet loads a rule file straight into a RuleSet.
func LoadRuleSet(path string) (*RuleSet, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(rules...)
}

// DefaultRulesPath returns the canonical rule file path for a workspace.
func DefaultRulesPath(workspace string) string {
	return filepath.Join(workspace, "rules.yaml")
}
