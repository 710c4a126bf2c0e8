package score

import (
	"fmt"

	"github.com/ppiankov/grounder/internal/model"
)

// Result is the aggregate outcome of a set of verdicts
type Result struct {
	Counts  model.Counts
	Score   float64
	Status  model.GroundingStatus
	Signals []model.Signal
}

// Scorer calculates the overall grounding score and generates signals
type Scorer struct {
	grounded float64
	partial  float64
}

// NewScorer creates a scorer with the given tier thresholds. Callers validate
// that grounded >= partial (model.Config.Validate).
func NewScorer(grounded, partial float64) *Scorer {
	return &Scorer{grounded: grounded, partial: partial}
}

// Calculate scores verdicts. The result depends only on the verdicts, so equal
// inputs always give equal reports.
func (s *Scorer) Calculate(verdicts []model.Verdict) Result {
	counts := Count(verdicts)

	if counts.Total == 0 {
		return Result{
			Counts: counts,
			Score:  0,
			Status: model.ReviewNeeded,
			Signals: []model.Signal{{
				Type:        model.SignalNoClaims,
				Severity:    model.SeverityCritical,
				Description: "No claims extracted",
				Data:        map[string]any{"total": 0},
			}},
		}
	}

	score := (float64(counts.Supported) + 0.5*float64(counts.Partial)) / float64(counts.Total)
	status := s.Status(score)

	signals := []model.Signal{s.aggregateSignal(counts, score, status)}
	for _, sig := range []model.Signal{
		numericSignal(verdicts),
		quoteSignal(verdicts),
		semanticSignal(verdicts),
		degradedSignal(verdicts),
	} {
		if sig.Type != "" {
			signals = append(signals, sig)
		}
	}

	return Result{Counts: counts, Score: score, Status: status, Signals: signals}
}

// Status maps a score to its tier
func (s *Scorer) Status(score float64) model.GroundingStatus {
	switch {
	case score >= s.grounded:
		return model.Grounded
	case score >= s.partial:
		return model.PartiallyGrounded
	default:
		return model.ReviewNeeded
	}
}

// Count tallies verdicts by status
func Count(verdicts []model.Verdict) model.Counts {
	var c model.Counts
	for _, v := range verdicts {
		switch v.Status {
		case model.StatusSupported:
			c.Supported++
		case model.StatusPartial:
			c.Partial++
		case model.StatusNotFound:
			c.NotFound++
		}
	}
	c.Total = len(verdicts)
	return c
}

func (s *Scorer) aggregateSignal(c model.Counts, score float64, status model.GroundingStatus) model.Signal {
	severity := model.SeverityInfo
	if status == model.ReviewNeeded {
		severity = model.SeverityCritical
	} else if status == model.PartiallyGrounded {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalAggregate,
		Severity:    severity,
		Description: fmt.Sprintf("Grounding score %.2f (%d supported, %d partial, %d not found of %d)", score, c.Supported, c.Partial, c.NotFound, c.Total),
		Data: map[string]any{
			"supported":          c.Supported,
			"partial":            c.Partial,
			"not_found":          c.NotFound,
			"total":              c.Total,
			"score":              score,
			"grounded_threshold": s.grounded,
			"partial_threshold":  s.partial,
			"formula":            "(supported + 0.5*partial) / total",
		},
	}
}

func numericSignal(verdicts []model.Verdict) model.Signal {
	stats, failed, found, missing := 0, 0, 0, 0
	for _, v := range verdicts {
		if v.Layer != model.LayerNumeric {
			continue
		}
		stats++
		found += len(v.Found)
		missing += len(v.Missing)
		if v.Status != model.StatusSupported {
			failed++
		}
	}
	if stats == 0 {
		return model.Signal{}
	}

	severity := model.SeverityInfo
	if failed > 0 {
		severity = model.SeverityCritical
	}

	return model.Signal{
		Type:        model.SignalNumeric,
		Severity:    severity,
		Description: fmt.Sprintf("Statistics: %d/%d fully located; %d values missing from source", stats-failed, stats, missing),
		Data: map[string]any{
			"stats":          stats,
			"failed":         failed,
			"values_found":   found,
			"values_missing": missing,
			"formula":        "SUPPORTED if all values found, PARTIAL if some, NOT_FOUND if none",
		},
	}
}

func quoteSignal(verdicts []model.Verdict) model.Signal {
	quotes, grounded := 0, 0
	var sum float64
	for _, v := range verdicts {
		if v.Layer != model.LayerQuote {
			continue
		}
		quotes++
		sum += v.Confidence
		if v.Status == model.StatusSupported {
			grounded++
		}
	}
	if quotes == 0 {
		return model.Signal{}
	}

	ratio := float64(grounded) / float64(quotes)
	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if ratio < 1 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalQuotes,
		Severity:    severity,
		Description: fmt.Sprintf("Quotes: %d/%d matched the source", grounded, quotes),
		Data: map[string]any{
			"quotes":     quotes,
			"grounded":   grounded,
			"mean_score": sum / float64(quotes),
			"formula":    "best token-window similarity >= quote_threshold",
		},
	}
}

func semanticSignal(verdicts []model.Verdict) model.Signal {
	judged, carried, skipped, supported := 0, 0, 0, 0
	for _, v := range verdicts {
		switch v.Layer {
		case model.LayerJudge:
			judged++
		case model.LayerCarried:
			carried++
		case model.LayerSkipped:
			skipped++
		default:
			continue
		}
		if v.Status == model.StatusSupported {
			supported++
		}
	}
	if judged+carried+skipped == 0 {
		return model.Signal{}
	}

	severity := model.SeverityInfo
	if skipped > 0 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalSemantic,
		Severity:    severity,
		Description: fmt.Sprintf("Assertions: %d supported (%d judged, %d carried over, %d not reviewed)", supported, judged, carried, skipped),
		Data: map[string]any{
			"judged":    judged,
			"carried":   carried,
			"skipped":   skipped,
			"supported": supported,
		},
	}
}

func degradedSignal(verdicts []model.Verdict) model.Signal {
	var paths []string
	for _, v := range verdicts {
		if v.Layer == model.LayerJudge && v.Reason == model.ReasonJudgeUnparseable {
			paths = append(paths, v.Path)
		}
	}
	if len(paths) == 0 {
		return model.Signal{}
	}
	return model.Signal{
		Type:        model.SignalJudgeDegraded,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Judge gave no usable verdict for %d claims (scored as PARTIAL)", len(paths)),
		Data:        map[string]any{"paths": paths},
	}
}
