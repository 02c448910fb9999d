package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Rule is one entry in the compliance rule corpus.
type Rule struct {
	ID          string `yaml:"id"`
	Category    string `yaml:"category"`
	Title       string `yaml:"title"`
	Requirement string `yaml:"requirement"`
}

// RuleSet is the static corpus appended to compliance-report synthesis.
type RuleSet struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// LoadRules reads the rule corpus from path, or the embedded default when path is empty.
func LoadRules(path string) (*RuleSet, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read compliance rules %s: %w", path, err)
		}
		data = b
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse compliance rules: %w", err)
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" || r.Requirement == "" {
			return nil, fmt.Errorf("compliance rule %d is missing id or requirement", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate compliance rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &rs, nil
}

// Corpus renders the rules as the plain-text block given to the model.
func (rs *RuleSet) Corpus() string {
	if rs == nil || len(rs.Rules) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range rs.Rules {
		fmt.Fprintf(&b, "- [%s] (%s) %s: %s\n", r.ID, r.Category, r.Title, r.Requirement)
	}
	return b.String()
}
