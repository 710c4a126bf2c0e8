package model

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClaimRules names the record fields that carry claims. Patterns use
// field paths with [*] for every list element, e.g. "key_findings[*].finding".
type ClaimRules struct {
	QuoteFields     []string `yaml:"quote_fields" json:"quote_fields"`
	StatFields      []string `yaml:"stat_fields" json:"stat_fields"`
	AssertionFields []string `yaml:"assertion_fields" json:"assertion_fields"`
}

// DefaultClaimRules returns the rules for the research-summary schema
func DefaultClaimRules() ClaimRules {
	return ClaimRules{
		QuoteFields: []string{"supporting_quotes[*]"},
		StatFields:  []string{"key_findings[*].statistical_evidence"},
		AssertionFields: []string{
			"key_findings[*].finding",
			"safety_profile.adverse_events[*]",
			"safety_profile.serious_adverse_events[*]",
			"clinical_implications",
			"clinical_implications[*]",
		},
	}
}

// Workflow is a named extraction task: prompt, target schema and claim rules
type Workflow struct {
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	PromptTemplate string         `yaml:"prompt_template" json:"prompt_template"` // {schema_json} and {text} placeholders
	Schema         map[string]any `yaml:"schema" json:"schema"`
	Rules          *ClaimRules    `yaml:"claim_rules,omitempty" json:"claim_rules,omitempty"`
}

// ClaimRules returns the workflow's rules or the defaults
func (w Workflow) ClaimRules() ClaimRules {
	if w.Rules == nil {
		return DefaultClaimRules()
	}
	return *w.Rules
}

// DefaultWorkflow is used when no workflow is named
const DefaultWorkflow = "deep-analysis"

//go:embed workflows/*.yaml
var builtinFS embed.FS

// LoadWorkflow reads a workflow definition from a YAML (or JSON) file
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return parseWorkflow(path, data)
}

// BuiltinWorkflow returns the named built-in workflow
func BuiltinWorkflow(name string) (*Workflow, error) {
	data, err := builtinFS.ReadFile(path.Join("workflows", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown workflow %q (built-in: %s)", name, strings.Join(BuiltinWorkflowNames(), ", "))
	}
	return parseWorkflow(name, data)
}

// BuiltinWorkflowNames lists the built-in workflows
func BuiltinWorkflowNames() []string {
	entries, _ := builtinFS.ReadDir("workflows")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// ResolveWorkflow loads ref as a file when it exists, otherwise as a
// built-in name. An empty ref selects DefaultWorkflow.
func ResolveWorkflow(ref string) (*Workflow, error) {
	if ref == "" {
		return BuiltinWorkflow(DefaultWorkflow)
	}
	if _, err := os.Stat(ref); err == nil {
		return LoadWorkflow(ref)
	}
	return BuiltinWorkflow(ref)
}

func parseWorkflow(name string, data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", name, err)
	}
	if w.Schema == nil {
		return nil, fmt.Errorf("workflow %s has no schema", name)
	}
	if !strings.Contains(w.PromptTemplate, "{text}") {
		return nil, fmt.Errorf("workflow %s: prompt_template must contain {text}", name)
	}
	if w.Name == "" {
		w.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	return &w, nil
}
