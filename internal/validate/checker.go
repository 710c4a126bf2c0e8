package validate

import (
	"fmt"
	"strings"

	"github.com/ppiankov/grounder/internal/extract"
	"github.com/ppiankov/grounder/internal/match"
	"github.com/ppiankov/grounder/internal/model"
)

// Checker runs the fast layers (numeric and quote) against one source text.
// Build it once per document; it is safe for concurrent use.
type Checker struct {
	stats          *extract.SourceIndex
	text           *match.Index
	quoteThreshold float64
}

// NewChecker indexes source for the fast layers
func NewChecker(source string, quoteThreshold float64) *Checker {
	if quoteThreshold <= 0 {
		quoteThreshold = match.DefaultThreshold
	}
	return &Checker{
		stats:          extract.NewSourceIndex(source),
		text:           match.NewIndex(source),
		quoteThreshold: quoteThreshold,
	}
}

// Fast reports whether kind is resolved by a fast layer
func Fast(kind model.ClaimKind) bool {
	return kind == model.ClaimNumericStat || kind == model.ClaimQuote
}

// Check verifies a numeric or quote claim. Semantic claims are not handled here.
func (c *Checker) Check(claim model.Claim) model.Verdict {
	v := model.Verdict{Path: claim.Path, Kind: claim.Kind, Text: claim.Text}
	switch claim.Kind {
	case model.ClaimNumericStat:
		c.checkNumeric(claim, &v)
	case model.ClaimQuote:
		c.checkQuote(claim, &v)
	default:
		v.Status = model.StatusPartial
		v.Confidence = 0.5
		v.Reason = model.ReasonJudgeSkipped
		v.Layer = model.LayerSkipped
	}
	return v
}

func (c *Checker) checkNumeric(claim model.Claim, v *model.Verdict) {
	v.Layer = model.LayerNumeric
	tokens := extract.ExtractNumericStats(claim.Text)
	if len(tokens) == 0 {
		v.Status = model.StatusNotFound
		v.Reason = "no statistical values recognized"
		return
	}

	found, missing := c.stats.Check(tokens)
	v.Found, v.Missing = found, missing
	v.Confidence = float64(len(found)) / float64(len(tokens))

	switch {
	case len(missing) == 0:
		v.Status = model.StatusSupported
		v.Reason = fmt.Sprintf("all %d values found in source", len(found))
	case len(found) == 0:
		v.Status = model.StatusNotFound
		v.Reason = "not in source: " + strings.Join(missing, ", ")
	default:
		v.Status = model.StatusPartial
		v.Reason = "not in source: " + strings.Join(missing, ", ")
	}
}

func (c *Checker) checkQuote(claim model.Claim, v *model.Verdict) {
	v.Layer = model.LayerQuote
	best := c.text.BestMatch(claim.Text)
	v.Confidence = best.Score

	if best.Score >= c.quoteThreshold {
		v.Status = model.StatusSupported
		v.Reason = fmt.Sprintf("matched source text (similarity %.2f)", best.Score)
		return
	}
	v.Status = model.StatusNotFound
	v.Reason = fmt.Sprintf("best source match %.2f below threshold %.2f", best.Score, c.quoteThreshold)
}
