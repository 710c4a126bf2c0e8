package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var metricNamePattern = regexp.MustCompile(`\b(a?HR|RR|OR)\b`)

// SourceIndex holds the statistical values of a source text for Layer 1 lookups
type SourceIndex struct {
	numbers  map[string]bool
	percents map[string]bool
	metrics  map[string]bool // "hr=0.64"
	names    map[string]bool // metric names mentioned anywhere
	pvalues  map[string]bool
	pfloats  []float64
}

// NewSourceIndex scans text once and indexes its statistics
func NewSourceIndex(text string) *SourceIndex {
	norm := normalizeStatText(text)
	ix := &SourceIndex{
		numbers:  make(map[string]bool),
		percents: make(map[string]bool),
		metrics:  make(map[string]bool),
		names:    make(map[string]bool),
		pvalues:  make(map[string]bool),
	}

	for _, n := range numbersIn(norm) {
		ix.numbers[n] = true
	}
	for _, m := range metricNamePattern.FindAllString(norm, -1) {
		ix.names[strings.TrimPrefix(strings.ToLower(m), "a")] = true
	}
	lower := strings.ToLower(norm)
	for long, short := range longMetricNames {
		if strings.Contains(lower, long) {
			ix.names[short] = true
		}
	}

	for _, tok := range ExtractNumericStats(norm) {
		switch tok.Kind {
		case TokenMetric:
			ix.metrics[tok.Key()] = true
			ix.names[tok.Name] = true
		case TokenPercent:
			ix.percents[tok.Values[0]] = true
		case TokenPValue:
			ix.pvalues[tok.Values[0]] = true
			if f, err := strconv.ParseFloat(tok.Values[0], 64); err == nil {
				ix.pfloats = append(ix.pfloats, f)
			}
		}
	}
	return ix
}

// Has reports whether a canonical number occurs anywhere in the source
func (ix *SourceIndex) Has(number string) bool {
	return ix.numbers[number]
}

// Match reports whether a claim token is present in the source.
// Matching is by value, never by partial number: 0.003 does not match 0.03.
func (ix *SourceIndex) Match(tok Token) bool {
	switch tok.Kind {
	case TokenMetric:
		if ix.metrics[tok.Key()] {
			return true
		}
		return ix.numbers[tok.Values[0]] && ix.names[tok.Name]
	case TokenCI:
		return ix.numbers[tok.Values[0]] && ix.numbers[tok.Values[1]]
	case TokenPValue:
		v := tok.Values[0]
		if ix.pvalues[v] {
			return true
		}
		if tok.Op == "<" || tok.Op == "<=" {
			// a reported p below the claimed bound supports "p<bound"
			claimed, err := strconv.ParseFloat(v, 64)
			if err == nil {
				for _, p := range ix.pfloats {
					if p <= claimed {
						return true
					}
				}
			}
		}
		return ix.numbers[v]
	case TokenPercent:
		return ix.percents[tok.Values[0]]
	default:
		return ix.numbers[tok.Values[0]]
	}
}

// Check splits tokens into those found in the source and those missing,
// both as canonical keys
func (ix *SourceIndex) Check(tokens []Token) (found, missing []string) {
	for _, tok := range tokens {
		if ix.Match(tok) {
			found = append(found, tok.Key())
		} else {
			missing = append(missing, tok.Key())
		}
	}
	return found, missing
}
