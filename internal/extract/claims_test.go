package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/treepath"
)

func sampleRecord() map[string]any {
	return map[string]any{
		"title": "Trial",
		"key_findings": []any{
			map[string]any{
				"finding":              "Overall survival improved",
				"statistical_evidence": "HR = 0.72 (95% CI 0.58-0.89)",
			},
			map[string]any{
				"finding":              "Quality of life was preserved",
				"statistical_evidence": "not reported",
			},
		},
		"supporting_quotes": []any{
			"Overall survival improved in the treatment arm",
			"short",
		},
		"safety_profile": map[string]any{
			"adverse_events": []any{"neutropenia", 3.0},
		},
		"clinical_implications": "Consider as first-line therapy",
	}
}

func TestExtractQuotes(t *testing.T) {
	quotes, err := ExtractQuotes(sampleRecord(), model.DefaultClaimRules(), 10)
	if err != nil {
		t.Fatalf("ExtractQuotes: %v", err)
	}
	want := []Quote{{Path: "supporting_quotes[0]", Text: "Overall survival improved in the treatment arm"}}
	if diff := cmp.Diff(want, quotes); diff != "" {
		t.Errorf("quotes mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectClaims(t *testing.T) {
	claims, err := CollectClaims(sampleRecord(), model.DefaultClaimRules(), 10)
	if err != nil {
		t.Fatalf("CollectClaims: %v", err)
	}

	got := make(map[string]model.ClaimKind)
	for _, c := range claims {
		got[c.Path] = c.Kind
	}
	want := map[string]model.ClaimKind{
		"key_findings[0].finding":              model.ClaimSemantic,
		"key_findings[0].statistical_evidence": model.ClaimNumericStat,
		"key_findings[1].finding":              model.ClaimSemantic,
		"key_findings[1].statistical_evidence": model.ClaimSemantic, // no numbers
		"supporting_quotes[0]":                 model.ClaimQuote,
		"safety_profile.adverse_events[0]":     model.ClaimSemantic,
		"clinical_implications":                model.ClaimSemantic,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}

	// deterministic document order
	if claims[0].Path != "clinical_implications" || claims[len(claims)-1].Path != "supporting_quotes[0]" {
		t.Errorf("unexpected order: first %q last %q", claims[0].Path, claims[len(claims)-1].Path)
	}
}

func TestCollectClaims_PathsResolve(t *testing.T) {
	rec := sampleRecord()
	claims, err := CollectClaims(rec, model.DefaultClaimRules(), 10)
	if err != nil {
		t.Fatalf("CollectClaims: %v", err)
	}
	for _, c := range claims {
		v, err := treepath.Get(rec, c.Path)
		if err != nil || v != c.Text {
			t.Errorf("claim %s does not resolve to its text: %v %q", c.Path, err, v)
		}
	}
}
