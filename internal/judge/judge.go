package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

// ReasonUnparseable marks a verdict the model never answered in a usable form
const ReasonUnparseable = model.ReasonJudgeUnparseable

const omissionMarker = "\n\n[...middle sections omitted for length...]\n\n"

const systemPrompt = "You are a regulatory compliance auditor for research publications. Return valid JSON only."

const promptTemplate = `Verify whether the claim below is GROUNDED in the source text.

Answer with one verdict:
- "SUPPORTED": specific text in the source directly supports the claim
- "PARTIAL": the source supports part of the claim, or the claim asserts more than the source does
- "NOT_FOUND": the claim, or a statistic it cites, does not appear in the source

Be strict. Even small inaccuracies matter. A claim is supported only if you can point to the text that supports it.

CLAIM:
%s

SOURCE TEXT:
%s

Return a JSON object:
{"verdict": "SUPPORTED" | "PARTIAL" | "NOT_FOUND", "confidence": 0.0-1.0, "reason": "one sentence"}`

// Options configures the judge
type Options struct {
	Workers      int // concurrent judge calls, default 6
	ExcerptChars int // source longer than this is excerpted, default 20000
	Logger       *zap.Logger
}

// Judge asks a model whether the source supports a claim
type Judge struct {
	provider     llm.Provider
	workers      int
	excerptChars int
	log          *zap.Logger
}

// New creates a judge over provider
func New(provider llm.Provider, opts Options) *Judge {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = 20000
	}
	return &Judge{
		provider:     provider,
		workers:      opts.Workers,
		excerptChars: opts.ExcerptChars,
		log:          logging.OrNop(opts.Logger),
	}
}

// Result is the judge's answer for one claim
type Result struct {
	Status     model.VerdictStatus
	Confidence float64
	Reason     string
}

type reply struct {
	Verdict    string   `json:"verdict"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`

	// alternate shape: {"grounded": bool, "severity": "ok|warning|error"}
	Grounded *bool `json:"grounded"`
	Severity string `json:"severity"`
}

// Judge returns a verdict for claim against source. It never fails: an
// unusable answer after one retry, or a failed call, becomes PARTIAL.
func (j *Judge) Judge(ctx context.Context, claim, source string) Result {
	req := llm.CompletionRequest{
		Op:          llm.OpJudge,
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(promptTemplate, claim, Excerpt(source, j.excerptChars)),
		Temperature: 0,
	}

	for attempt := 1; attempt <= 2; attempt++ {
		var r reply
		err := llm.CompleteJSON(ctx, j.provider, req, &r, 1)
		if err == nil {
			if res, ok := r.result(); ok {
				return res
			}
			err = fmt.Errorf("unknown verdict %q", r.Verdict)
		}
		if ctx.Err() != nil {
			break
		}
		j.log.Warn("judge call unusable", zap.Int("attempt", attempt), zap.Error(err))
	}
	return Result{Status: model.StatusPartial, Confidence: 0.5, Reason: ReasonUnparseable}
}

// JudgeAll judges claims concurrently; results line up with claims by index
func (j *Judge) JudgeAll(ctx context.Context, claims []string, source string) []Result {
	out := make([]Result, len(claims))
	_ = worker.ForEach(ctx, j.workers, len(claims), func(ctx context.Context, i int) error {
		out[i] = j.Judge(ctx, claims[i], source)
		return nil
	})
	for i := range out {
		// slots left empty by cancellation
		if out[i].Status == "" {
			out[i] = Result{Status: model.StatusPartial, Confidence: 0.5, Reason: ReasonUnparseable}
		}
	}
	return out
}

func (r reply) result() (Result, bool) {
	status, ok := parseStatus(r.Verdict)
	if !ok {
		status, ok = legacyStatus(r.Grounded, r.Severity)
	}
	if !ok {
		return Result{}, false
	}

	conf := defaultConfidence(status)
	if r.Confidence != nil {
		conf = clamp(*r.Confidence)
	}
	return Result{Status: status, Confidence: conf, Reason: strings.TrimSpace(r.Reason)}, true
}

func parseStatus(s string) (model.VerdictStatus, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "SUPPORTED", "GROUNDED":
		return model.StatusSupported, true
	case "PARTIAL", "PARTIALLY_SUPPORTED":
		return model.StatusPartial, true
	case "NOT_FOUND", "UNSUPPORTED", "NOT_SUPPORTED":
		return model.StatusNotFound, true
	}
	return "", false
}

func legacyStatus(grounded *bool, severity string) (model.VerdictStatus, bool) {
	switch strings.ToLower(severity) {
	case "ok":
		return model.StatusSupported, true
	case "warning":
		return model.StatusPartial, true
	case "error":
		return model.StatusNotFound, true
	}
	if grounded != nil {
		if *grounded {
			return model.StatusSupported, true
		}
		return model.StatusNotFound, true
	}
	return "", false
}

func defaultConfidence(s model.VerdictStatus) float64 {
	switch s {
	case model.StatusSupported:
		return 1
	case model.StatusNotFound:
		return 0
	}
	return 0.5
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Excerpt shortens source to at most max characters, keeping the first 75%
// and the last 25% of the budget around an omission marker
func Excerpt(source string, max int) string {
	if max <= 0 || len(source) <= max {
		return source
	}
	head := max * 3 / 4
	tail := max - head
	// byte slicing may split a rune at either cut
	return strings.ToValidUTF8(source[:head], "") + omissionMarker + strings.ToValidUTF8(source[len(source)-tail:], "")
}
