package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/grounder/internal/extract"
	"github.com/ppiankov/grounder/internal/judge"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/schema"
	"github.com/ppiankov/grounder/internal/score"
	"github.com/ppiankov/grounder/internal/treepath"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

// Config configures a Validator
type Config struct {
	QuoteThreshold    float64
	GroundedThreshold float64
	PartialThreshold  float64
	MinQuoteChars     int
	Workers           int // fast-layer fan-out
	Rules             model.ClaimRules
	Logger            *zap.Logger
}

// ConfigFromModel builds a validator config from the application config
func ConfigFromModel(g model.GroundingConfig, rules model.ClaimRules) Config {
	return Config{
		QuoteThreshold:    g.QuoteThreshold,
		GroundedThreshold: g.GroundedThreshold,
		PartialThreshold:  g.PartialThreshold,
		MinQuoteChars:     g.MinQuoteChars,
		Workers:           g.JudgeWorkers,
		Rules:             rules,
	}
}

// Options controls a single validation
type Options struct {
	// SkipJudge runs only the numeric and quote layers
	SkipJudge bool

	// Prior lets SkipJudge reuse semantic verdicts whose path and text are unchanged
	Prior *model.GroundingReport
}

// Validator grounds a record against its source through three layers:
// numeric tokens, fuzzy quotes and the semantic judge.
type Validator struct {
	schema   *schema.Schema
	judge    *judge.Judge
	scorer   *score.Scorer
	rules    model.ClaimRules
	quoteMin int
	quoteThr float64
	workers  int
	log      *zap.Logger
}

// New creates a validator. j may be nil, in which case every run behaves as
// SkipJudge.
func New(s *schema.Schema, j *judge.Judge, cfg Config) *Validator {
	if cfg.GroundedThreshold == 0 && cfg.PartialThreshold == 0 {
		cfg.GroundedThreshold, cfg.PartialThreshold = 0.85, 0.5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 6
	}
	if len(cfg.Rules.QuoteFields)+len(cfg.Rules.StatFields)+len(cfg.Rules.AssertionFields) == 0 {
		cfg.Rules = model.DefaultClaimRules()
	}
	return &Validator{
		schema:   s,
		judge:    j,
		scorer:   score.NewScorer(cfg.GroundedThreshold, cfg.PartialThreshold),
		rules:    cfg.Rules,
		quoteMin: cfg.MinQuoteChars,
		quoteThr: cfg.QuoteThreshold,
		workers:  cfg.Workers,
		log:      logging.OrNop(cfg.Logger),
	}
}

// Checker returns the fast-layer checker for source
func (v *Validator) Checker(source string) *Checker {
	return NewChecker(source, v.quoteThr)
}

// Conforms checks data against the record schema, if one is configured
func (v *Validator) Conforms(data map[string]any) error {
	if v.schema == nil {
		return nil
	}
	return v.schema.Validate(data)
}

// Claims returns the record's claims in document order
func (v *Validator) Claims(rec model.Record) ([]model.Claim, error) {
	return extract.CollectClaims(rec.Data, v.rules, v.quoteMin)
}

// Validate grounds rec against doc. It fails only when rec does not satisfy
// the schema; a low score is returned as data.
func (v *Validator) Validate(ctx context.Context, rec model.Record, doc model.SourceDocument, opts Options) (*model.GroundingReport, error) {
	if err := v.Conforms(rec.Data); err != nil {
		return nil, err
	}

	claims, err := v.Claims(rec)
	if err != nil {
		return nil, fmt.Errorf("collect claims: %w", err)
	}

	skipJudge := opts.SkipJudge || v.judge == nil
	verdicts := make([]model.Verdict, len(claims))

	var fast, semantic []int
	for i, c := range claims {
		if Fast(c.Kind) {
			fast = append(fast, i)
		} else {
			semantic = append(semantic, i)
		}
	}

	// the two layer groups run side by side; every claim index is written once
	_ = worker.ForEach(ctx, 2, 2, func(ctx context.Context, group int) error {
		if group == 0 {
			v.runFast(ctx, doc.Text, claims, fast, verdicts)
			return nil
		}
		if skipJudge {
			v.carrySemantic(claims, semantic, verdicts, opts.Prior)
			return nil
		}
		v.runJudge(ctx, doc.Text, claims, semantic, verdicts)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	precedence := applyPrecedence(verdicts)

	result := v.scorer.Calculate(verdicts)
	report := &model.GroundingReport{
		RecordVersion: rec.Version,
		Verdicts:      verdicts,
		Counts:        result.Counts,
		OverallScore:  result.Score,
		OverallStatus: result.Status,
		JudgeSkipped:  skipJudge,
		Signals:       result.Signals,
	}
	if precedence.Type != "" {
		report.Signals = append(report.Signals, precedence)
	}

	v.log.Debug("record validated",
		zap.Int("record_version", rec.Version),
		zap.Int("claims", len(claims)),
		zap.Float64("score", report.OverallScore),
		zap.String("status", string(report.OverallStatus)),
		zap.Bool("judge_skipped", skipJudge))

	return report, nil
}

func (v *Validator) runFast(ctx context.Context, source string, claims []model.Claim, idx []int, out []model.Verdict) {
	if len(idx) == 0 {
		return
	}
	checker := v.Checker(source)
	_ = worker.ForEach(ctx, v.workers, len(idx), func(ctx context.Context, i int) error {
		out[idx[i]] = checker.Check(claims[idx[i]])
		return nil
	})
}

func (v *Validator) runJudge(ctx context.Context, source string, claims []model.Claim, idx []int, out []model.Verdict) {
	if len(idx) == 0 {
		return
	}
	texts := make([]string, len(idx))
	for i, ci := range idx {
		texts[i] = claims[ci].Text
	}
	results := v.judge.JudgeAll(ctx, texts, source)
	for i, ci := range idx {
		c := claims[ci]
		out[ci] = model.Verdict{
			Path:        c.Path,
			Kind:        c.Kind,
			Text:        c.Text,
			Status:      results[i].Status,
			JudgeStatus: results[i].Status,
			Confidence:  results[i].Confidence,
			Reason:      results[i].Reason,
			Layer:       model.LayerJudge,
		}
	}
}

// carrySemantic reuses the prior judge verdict of an unchanged claim; other
// semantic claims are marked not reviewed
func (v *Validator) carrySemantic(claims []model.Claim, idx []int, out []model.Verdict, prior *model.GroundingReport) {
	for _, ci := range idx {
		c := claims[ci]
		if prior != nil {
			if p, ok := prior.Verdict(c.Path); ok && p.Text == c.Text && p.JudgeStatus != "" {
				p.Status = p.JudgeStatus
				p.Reason = stripCap(p.Reason)
				p.Layer = model.LayerCarried
				out[ci] = p
				continue
			}
		}
		out[ci] = model.Verdict{
			Path:       c.Path,
			Kind:       c.Kind,
			Text:       c.Text,
			Status:     model.StatusPartial,
			Confidence: 0.5,
			Reason:     model.ReasonJudgeSkipped,
			Layer:      model.LayerSkipped,
		}
	}
}

const capNote = "; capped by ungrounded statistic at "

func stripCap(reason string) string {
	if i := strings.Index(reason, capNote); i >= 0 {
		return reason[:i]
	}
	return reason
}

// applyPrecedence lets a failed statistic cap a SUPPORTED judge verdict in the
// same list element to PARTIAL. Numeric verdicts are never changed.
func applyPrecedence(verdicts []model.Verdict) model.Signal {
	failedStat := make(map[string]string) // element -> first failing stat path
	for _, v := range verdicts {
		if v.Layer != model.LayerNumeric || v.Status == model.StatusSupported {
			continue
		}
		if el, ok := treepath.Element(v.Path); ok {
			if _, seen := failedStat[el]; !seen {
				failedStat[el] = v.Path
			}
		}
	}
	if len(failedStat) == 0 {
		return model.Signal{}
	}

	var capped []string
	for i := range verdicts {
		v := &verdicts[i]
		if v.Layer != model.LayerJudge && v.Layer != model.LayerCarried {
			continue
		}
		if v.Status != model.StatusSupported {
			continue
		}
		el, ok := treepath.Element(v.Path)
		if !ok {
			continue
		}
		stat, failed := failedStat[el]
		if !failed {
			continue
		}
		v.Status = model.StatusPartial
		v.Reason = stripCap(v.Reason) + capNote + stat
		capped = append(capped, v.Path)
	}
	if len(capped) == 0 {
		return model.Signal{}
	}

	sort.Slice(capped, func(i, j int) bool { return treepath.Compare(capped[i], capped[j]) < 0 })
	return model.Signal{
		Type:        model.SignalPrecedence,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d supported assertions capped to PARTIAL by ungrounded statistics", len(capped)),
		Data: map[string]any{
			"paths": capped,
			"rule":  "numeric NOT_FOUND or PARTIAL in the same element caps a SUPPORTED assertion to PARTIAL",
		},
	}
}
