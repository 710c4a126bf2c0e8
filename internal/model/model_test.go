package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "threshold above one", mutate: func(c *Config) { c.Grounding.QuoteThreshold = 1.2 }, wantErr: "quote_threshold"},
		{name: "negative accept score", mutate: func(c *Config) { c.Grounding.AcceptScore = -0.1 }, wantErr: "accept_score"},
		{
			name: "tiers out of order",
			mutate: func(c *Config) {
				c.Grounding.GroundedThreshold = 0.4
				c.Grounding.PartialThreshold = 0.6
			},
			wantErr: "grounded_threshold",
		},
		{name: "negative rounds", mutate: func(c *Config) { c.Grounding.MaxRounds = -1 }, wantErr: "max_rounds"},
		{name: "zero chunk size", mutate: func(c *Config) { c.Chunking.ChunkChars = 0 }, wantErr: "chunk_chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWorkflow(t *testing.T) {
	path := writeFile(t, "trial-outcomes.yaml", `
prompt_template: "Extract outcomes.\n{schema_json}\n{text}"
claim_rules:
  stat_fields: ["outcomes[*].effect"]
schema:
  type: object
  properties:
    outcomes:
      type: array
`)
	w, err := LoadWorkflow(path)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if w.Name != "trial-outcomes" {
		t.Errorf("name = %q, want file stem", w.Name)
	}
	if diff := cmp.Diff([]string{"outcomes[*].effect"}, w.ClaimRules().StatFields); diff != "" {
		t.Errorf("stat fields mismatch (-want +got):\n%s", diff)
	}
	if w.Schema["type"] != "object" {
		t.Errorf("schema not decoded: %v", w.Schema)
	}
}

func TestLoadWorkflow_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "no schema", content: `prompt_template: "{text}"`, wantErr: "no schema"},
		{name: "no text placeholder", content: "prompt_template: hello\nschema: {type: object}", wantErr: "{text}"},
		{name: "bad yaml", content: "schema: [", wantErr: "parse workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWorkflow(writeFile(t, "w.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuiltinWorkflows(t *testing.T) {
	names := BuiltinWorkflowNames()
	if diff := cmp.Diff([]string{"deep-analysis", "summary"}, names); diff != "" {
		t.Fatalf("builtin names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range names {
		w, err := BuiltinWorkflow(name)
		if err != nil {
			t.Fatalf("BuiltinWorkflow(%q): %v", name, err)
		}
		if w.Name != name {
			t.Errorf("name = %q, want %q", w.Name, name)
		}
		if !strings.Contains(w.PromptTemplate, "{schema_json}") {
			t.Errorf("%s: prompt template lacks {schema_json}", name)
		}
	}

	w, err := ResolveWorkflow("")
	if err != nil || w.Name != DefaultWorkflow {
		t.Fatalf("ResolveWorkflow(\"\") = %v, %v", w, err)
	}
	if w.Rules != nil {
		t.Error("deep-analysis should use the default claim rules")
	}
	if _, err := ResolveWorkflow("no-such-workflow"); err == nil || !strings.Contains(err.Error(), "summary") {
		t.Errorf("unknown workflow error should list built-ins, got %v", err)
	}
}
