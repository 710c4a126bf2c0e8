package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/treepath"
)

// Quote is a verbatim quote found in a record
type Quote struct {
	Path string
	Text string
}

// ExtractQuotes walks the quote-bearing fields named by rules and returns
// each string value with its field path, in document order. Quotes shorter
// than minChars carry too little text to match reliably and are skipped.
func ExtractQuotes(data map[string]any, rules model.ClaimRules, minChars int) ([]Quote, error) {
	var quotes []Quote
	err := walkStrings(data, rules.QuoteFields, func(path, text string) {
		if len([]rune(strings.TrimSpace(text))) < minChars {
			return
		}
		quotes = append(quotes, Quote{Path: path, Text: text})
	})
	return quotes, err
}

// CollectClaims turns a record into its atomic claims. A path is claimed by
// the first rule that matches it: quote fields, then stat fields, then
// assertion fields. Stat fields without any numeric token are judged as
// semantic assertions.
func CollectClaims(data map[string]any, rules model.ClaimRules, minQuoteChars int) ([]model.Claim, error) {
	seen := make(map[string]bool)
	var claims []model.Claim
	add := func(c model.Claim) {
		if seen[c.Path] {
			return
		}
		seen[c.Path] = true
		claims = append(claims, c)
	}

	quotes, err := ExtractQuotes(data, rules, minQuoteChars)
	if err != nil {
		return nil, err
	}
	for _, q := range quotes {
		add(model.Claim{Path: q.Path, Kind: model.ClaimQuote, Text: q.Text})
	}
	// short quotes are not claims, but must not fall through to other rules
	_ = walkStrings(data, rules.QuoteFields, func(path, _ string) { seen[path] = true })

	err = walkStrings(data, rules.StatFields, func(path, text string) {
		kind := model.ClaimNumericStat
		if len(ExtractNumericStats(text)) == 0 {
			kind = model.ClaimSemantic
		}
		add(model.Claim{Path: path, Kind: kind, Text: text})
	})
	if err != nil {
		return nil, err
	}

	err = walkStrings(data, rules.AssertionFields, func(path, text string) {
		add(model.Claim{Path: path, Kind: model.ClaimSemantic, Text: text})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(claims, func(i, j int) bool {
		return treepath.Compare(claims[i].Path, claims[j].Path) < 0
	})
	return claims, nil
}

// walkStrings calls fn for every non-blank string value matched by patterns
func walkStrings(data map[string]any, patterns []string, fn func(path, text string)) error {
	for _, pattern := range patterns {
		paths, err := treepath.Expand(data, pattern)
		if err != nil {
			return fmt.Errorf("claim rule %q: %w", pattern, err)
		}
		for _, p := range paths {
			v, err := treepath.Get(data, p)
			if err != nil {
				continue
			}
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			fn(p, s)
		}
	}
	return nil
}
