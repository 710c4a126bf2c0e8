package correct

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/grounder/internal/judge"
	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/metrics"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/treepath"
	"github.com/ppiankov/grounder/internal/validate"
	"go.uber.org/zap"
)

const systemPrompt = "You are a regulatory compliance editor. Return valid JSON only."

const promptTemplate = `You are a regulatory compliance editor for research outputs.

The record below was validated against the source document and %d claims were flagged as UNGROUNDED (not fully supported by the source text).

For each flagged claim decide:
1. "correct": rewrite it using ONLY information from the source text, keeping the same meaning and field.
2. "remove": the claim cannot be supported by the source text.

FLAGGED CLAIMS:
%s
CURRENT RECORD (JSON):
%s

SOURCE TEXT:
%s

RULES:
- NEVER invent information that is not in the source text.
- For statistics, use the EXACT numbers from the source text.
- For quotes, replace the text with an actual verbatim passage from the source.
- If a claim is partially correct, keep the correct part and fix the wrong part.
- Every flagged claim must get exactly one entry.

Return a JSON object with this structure:
{
  "corrections": [
    {"claim_id": "<claim id exactly as listed>", "action": "correct" or "remove", "value": "<rewritten text, or null when removing>"}
  ]
}`

// recordBudget bounds the record JSON embedded in the prompt
const recordBudget = 8000

// Options configures the loop
type Options struct {
	MaxRounds    int // default 1
	ExcerptChars int // source budget in the prompt, default 20000
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// Outcome is the result of Correct
type Outcome struct {
	Record      model.Record
	Report      *model.GroundingReport
	Corrections []model.Correction // applied by this call, in order
}

// Corrector rewrites or removes failing claims and re-validates the record
// with the fast layers only
type Corrector struct {
	provider  llm.Provider
	validator *validate.Validator
	opts      Options
	log       *zap.Logger
}

// New creates a corrector
func New(p llm.Provider, v *validate.Validator, opts Options) *Corrector {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 1
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = 20000
	}
	return &Corrector{provider: p, validator: v, opts: opts, log: logging.OrNop(opts.Logger)}
}

// Correct runs at most MaxRounds correction rounds. It returns the input
// unchanged when nothing fails. A failed or empty model answer ends the loop
// and leaves the failing claims as uncorrected; it is not an error.
func (c *Corrector) Correct(ctx context.Context, rec model.Record, report *model.GroundingReport, doc model.SourceDocument) (*Outcome, error) {
	out := &Outcome{Record: rec, Report: report}
	if len(report.Failing()) == 0 {
		return out, nil
	}

	history := append([]model.Correction(nil), report.Corrections...)
	rounds := report.CorrectionRounds

	for i := 0; i < c.opts.MaxRounds; i++ {
		failing := out.Report.Failing()
		if len(failing) == 0 {
			break
		}
		round := rounds + 1
		rounds = round

		actions, err := c.requestActions(ctx, out.Record, failing, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("correction call failed; claims left as is", zap.Int("round", round), zap.Error(err))
			out.Report = finalize(out.Report, history, rounds, paths(failing))
			c.observeUncorrected(len(failing))
			return out, nil
		}

		applied := c.apply(round, out.Record, out.Report, failing, actions, doc.Text)
		if len(applied.corrections) == 0 {
			c.log.Info("no correction could be applied", zap.Int("round", round))
			out.Report = finalize(out.Report, history, rounds, applied.uncorrected)
			c.observeUncorrected(len(applied.uncorrected))
			return out, nil
		}

		next := out.Record.Next(applied.data)
		nextReport, err := c.validator.Validate(ctx, next, doc, validate.Options{SkipJudge: true, Prior: applied.prior})
		if err != nil {
			return nil, fmt.Errorf("re-validate round %d: %w", round, err)
		}

		// a claim left alone can recover, e.g. when its capping statistic was fixed
		uncorrected := stillFailing(applied.uncorrected, nextReport)

		history = append(history, applied.corrections...)
		out.Corrections = append(out.Corrections, applied.corrections...)
		out.Record = next
		out.Report = finalize(nextReport, history, rounds, uncorrected)

		for _, corr := range applied.corrections {
			c.opts.Metrics.ObserveCorrection(strings.ToLower(string(corr.Action)))
		}
		c.observeUncorrected(len(uncorrected))

		c.log.Info("correction round complete",
			zap.Int("round", round),
			zap.Int("applied", len(applied.corrections)),
			zap.Int("uncorrected", len(uncorrected)),
			zap.Float64("score", nextReport.OverallScore))
	}
	return out, nil
}

func (c *Corrector) observeUncorrected(n int) {
	for i := 0; i < n; i++ {
		c.opts.Metrics.ObserveCorrection("uncorrected")
	}
}

// action is one decision returned by the model
type action struct {
	ClaimID any    `json:"claim_id"`
	Action  string `json:"action"`
	Value   any    `json:"value"`
}

type reply struct {
	Corrections []action `json:"corrections"`
}

func (c *Corrector) requestActions(ctx context.Context, rec model.Record, failing []model.Verdict, doc model.SourceDocument) ([]action, error) {
	var block strings.Builder
	for i, v := range failing {
		fmt.Fprintf(&block, "[%d] claim_id: %s\n  type: %s\n  claim: %s\n  reason it failed: %s\n\n", i+1, v.Path, v.Kind, v.Text, v.Reason)
	}

	recJSON, err := json.MarshalIndent(rec.Data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	recText := string(recJSON)
	if len(recText) > recordBudget {
		recText = strings.ToValidUTF8(recText[:recordBudget], "") + "\n..."
	}

	req := llm.CompletionRequest{
		Op:          llm.OpCorrect,
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(promptTemplate, len(failing), block.String(), recText, judge.Excerpt(doc.Text, c.opts.ExcerptChars)),
		MaxTokens:   2048,
		Temperature: 0,
	}

	var r reply
	if err := llm.CompleteJSON(ctx, c.provider, req, &r, 2); err != nil {
		return nil, err
	}
	return r.Corrections, nil
}

// resolve maps a claim_id to a failing verdict: the path itself or its
// 1-based position in the prompt
func resolve(id any, failing []model.Verdict) (model.Verdict, bool) {
	var s string
	switch t := id.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.Itoa(int(t))
	default:
		return model.Verdict{}, false
	}
	for _, v := range failing {
		if v.Path == s {
			return v, true
		}
	}
	if n, err := strconv.Atoi(strings.Trim(s, "[]")); err == nil && n >= 1 && n <= len(failing) {
		return failing[n-1], true
	}
	return model.Verdict{}, false
}

func normalizeAction(a string) string {
	switch strings.ToLower(strings.TrimSpace(a)) {
	case "correct", "corrected", "rewrite", "replace":
		return "correct"
	case "remove", "removed", "delete":
		return "remove"
	}
	return ""
}

func stillFailing(candidates []string, r *model.GroundingReport) []string {
	var out []string
	for _, p := range candidates {
		if v, ok := r.Verdict(p); ok && v.Failing() {
			out = append(out, p)
		}
	}
	return out
}

func paths(vs []model.Verdict) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Path
	}
	return out
}

// finalize attaches correction history and metadata to a report
func finalize(r *model.GroundingReport, history []model.Correction, rounds int, uncorrected []string) *model.GroundingReport {
	out := *r
	out.Corrections = append([]model.Correction(nil), history...)
	out.CorrectionRounds = rounds
	out.Uncorrected = append([]string(nil), uncorrected...)
	sort.Slice(out.Uncorrected, func(i, j int) bool { return treepath.Compare(out.Uncorrected[i], out.Uncorrected[j]) < 0 })

	var corrected, removed int
	for _, c := range history {
		if c.Action == model.ActionCorrected {
			corrected++
		} else {
			removed++
		}
	}
	out.Signals = nil
	for _, s := range r.Signals {
		if s.Type != model.SignalCorrectionsRun && s.Type != model.SignalUncorrected {
			out.Signals = append(out.Signals, s)
		}
	}
	out.Signals = append(out.Signals, model.Signal{
		Type:        model.SignalCorrectionsRun,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("Self-correction: %d rounds, %d corrected, %d removed", rounds, corrected, removed),
		Data:        map[string]any{"rounds": rounds, "corrected": corrected, "removed": removed},
	})
	if len(out.Uncorrected) > 0 {
		out.Signals = append(out.Signals, model.Signal{
			Type:        model.SignalUncorrected,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("%d failing claims received no usable correction", len(out.Uncorrected)),
			Data:        map[string]any{"paths": out.Uncorrected},
		})
	}
	return &out
}
