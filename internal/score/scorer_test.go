package score

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/grounder/internal/model"
)

func verdicts(statuses ...model.VerdictStatus) []model.Verdict {
	out := make([]model.Verdict, len(statuses))
	for i, s := range statuses {
		out[i] = model.Verdict{Status: s, Layer: model.LayerJudge}
	}
	return out
}

func TestScorer_Calculate_Score(t *testing.T) {
	s := NewScorer(0.85, 0.5)
	S, P, N := model.StatusSupported, model.StatusPartial, model.StatusNotFound

	tests := []struct {
		name       string
		verdicts   []model.Verdict
		wantScore  float64
		wantStatus model.GroundingStatus
	}{
		{"all supported", verdicts(S, S, S, S), 1, model.Grounded},
		{"half partial", verdicts(S, S, S, P), 0.875, model.Grounded},
		{"boundary partial tier", verdicts(S, N), 0.5, model.PartiallyGrounded},
		{"mixed", verdicts(S, P, N, N), 0.375, model.ReviewNeeded},
		{"all not found", verdicts(N, N), 0, model.ReviewNeeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Calculate(tt.verdicts)
			if got.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.Counts.Total != len(tt.verdicts) {
				t.Errorf("total = %d", got.Counts.Total)
			}
		})
	}
}

func TestScorer_Calculate_NoClaims(t *testing.T) {
	got := NewScorer(0.85, 0.5).Calculate(nil)
	if got.Score != 0 || got.Status != model.ReviewNeeded {
		t.Errorf("empty claim set: score %v status %s", got.Score, got.Status)
	}
	if len(got.Signals) != 1 || got.Signals[0].Type != model.SignalNoClaims || got.Signals[0].Severity != model.SeverityCritical {
		t.Errorf("expected a single critical no-claims signal, got %+v", got.Signals)
	}
}

func TestScorer_Calculate_Deterministic(t *testing.T) {
	vs := []model.Verdict{
		{Path: "a", Status: model.StatusSupported, Layer: model.LayerNumeric, Found: []string{"hr=0.64"}},
		{Path: "b", Status: model.StatusNotFound, Layer: model.LayerQuote, Confidence: 0.2},
		{Path: "c", Status: model.StatusPartial, Layer: model.LayerJudge, Reason: model.ReasonJudgeUnparseable},
	}
	s := NewScorer(0.85, 0.5)
	if diff := cmp.Diff(s.Calculate(vs), s.Calculate(vs)); diff != "" {
		t.Errorf("repeated scoring differs:\n%s", diff)
	}
}

func TestScorer_Calculate_Signals(t *testing.T) {
	vs := []model.Verdict{
		{Path: "a", Status: model.StatusPartial, Layer: model.LayerNumeric, Found: []string{"hr=0.64"}, Missing: []string{"ci 0.58-0.89"}},
		{Path: "b", Status: model.StatusSupported, Layer: model.LayerQuote, Confidence: 1},
		{Path: "c", Status: model.StatusPartial, Layer: model.LayerJudge, Reason: model.ReasonJudgeUnparseable},
		{Path: "d", Status: model.StatusPartial, Layer: model.LayerSkipped, Reason: model.ReasonJudgeSkipped},
	}
	got := NewScorer(0.85, 0.5).Calculate(vs)

	types := make(map[model.SignalType]model.Signal)
	for _, sig := range got.Signals {
		types[sig.Type] = sig
	}
	for _, want := range []model.SignalType{model.SignalAggregate, model.SignalNumeric, model.SignalQuotes, model.SignalSemantic, model.SignalJudgeDegraded} {
		if _, ok := types[want]; !ok {
			t.Errorf("missing signal %s", want)
		}
	}
	if f := types[model.SignalAggregate].Data["formula"]; f != "(supported + 0.5*partial) / total" {
		t.Errorf("aggregate formula = %v", f)
	}
	if m := types[model.SignalNumeric].Data["values_missing"]; m != 1 {
		t.Errorf("values_missing = %v", m)
	}
	if diff := cmp.Diff([]string{"c"}, types[model.SignalJudgeDegraded].Data["paths"]); diff != "" {
		t.Errorf("degraded paths mismatch:\n%s", diff)
	}
}

func TestScorer_Status_Monotonic(t *testing.T) {
	s := NewScorer(0.85, 0.5)
	rank := map[model.GroundingStatus]int{model.ReviewNeeded: 0, model.PartiallyGrounded: 1, model.Grounded: 2}
	prev := -1
	for i := 0; i <= 100; i++ {
		r := rank[s.Status(float64(i)/100)]
		if r < prev {
			t.Fatalf("tier decreased at score %.2f", float64(i)/100)
		}
		prev = r
	}
}
