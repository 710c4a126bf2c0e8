package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func keys(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Key()
	}
	return out
}

func TestExtractNumericStats(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"hr with ci", "HR = 0.72 (95% CI 0.58-0.89)", []string{"hr=0.72", "95% ci 0.58-0.89"}},
		{"hr no separator", "Overall survival improved (HR 0.64, 95% CI 0.58–0.71)", []string{"hr=0.64", "95% ci 0.58-0.71"}},
		{"long metric", "hazard ratio of 0.64", []string{"hr=0.64"}},
		{"adjusted", "aHR: .64", []string{"hr=0.64"}},
		{"p values", "p<0.001 and P = .003", []string{"p<0.001", "p=0.003"}},
		{"percent", "Survival improved by 40%", []string{"40%"}},
		{"percent word", "response in 40 percent", []string{"40%"}},
		{"count", "N=1,200 patients", []string{"n=1200"}},
		{"duration", "median OS 14.6 months vs 2 years", []string{"14.6 month", "2 year"}},
		{"dosage", "60 Gy and 75 mg/m²", []string{"60 gy", "75 mg/m2"}},
		{"bracket ci", "OR 2.1 [1.4, 3.2]", []string{"or=2.1", "ci 1.4-3.2"}},
		{"plain", "enrolled 120 participants", []string{"120"}},
		{"lowercase or is not a metric", "one or 2 doses", []string{"2"}},
		{"none", "no numbers here", nil},
		{"dedup", "40% and again 40%", []string{"40%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keys(ExtractNumericStats(tt.text))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractNumericStats_FormatInvariant(t *testing.T) {
	a := keys(ExtractNumericStats("95% CI 0.58–0.89"))
	b := keys(ExtractNumericStats("95%CI: 0.58-0.89"))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("format variants differ (-a +b):\n%s", diff)
	}
}

func TestCanonicalNumber(t *testing.T) {
	for in, want := range map[string]string{
		".64":   "0.64",
		"0.640": "0.64",
		"1,200": "1200",
		"14.0":  "14",
		"0.003": "0.003",
	} {
		if got := canonicalNumber(in); got != want {
			t.Errorf("canonicalNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
