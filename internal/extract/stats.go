package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TokenKind classifies a statistical token
type TokenKind string

const (
	TokenMetric   TokenKind = "metric"   // HR/RR/OR with value
	TokenCI       TokenKind = "ci"       // confidence interval bounds
	TokenPValue   TokenKind = "p_value"  // p with comparison operator
	TokenPercent  TokenKind = "percent"  // 40%
	TokenCount    TokenKind = "n"        // N=120
	TokenDuration TokenKind = "duration" // 14.6 months
	TokenDosage   TokenKind = "dosage"   // 60 Gy, 75 mg/m2
	TokenNumber   TokenKind = "number"   // any other measurement
)

// Token is one normalized statistical value. Two spellings of the same
// statistic ("95% CI 0.58–0.89", "95%CI: 0.58-0.89") yield equal tokens.
type Token struct {
	Kind   TokenKind
	Name   string   // metric name (hr, rr, or) or unit
	Op     string   // p-value operator
	Level  string   // CI level, e.g. "95"
	Values []string // canonical numbers
}

// Key renders the token in canonical form
func (t Token) Key() string {
	switch t.Kind {
	case TokenMetric:
		return t.Name + "=" + t.Values[0]
	case TokenCI:
		prefix := "ci"
		if t.Level != "" {
			prefix = t.Level + "% ci"
		}
		return prefix + " " + t.Values[0] + "-" + t.Values[1]
	case TokenPValue:
		return "p" + t.Op + t.Values[0]
	case TokenPercent:
		return t.Values[0] + "%"
	case TokenCount:
		return "n=" + t.Values[0]
	case TokenDuration, TokenDosage:
		return t.Values[0] + " " + t.Name
	default:
		return t.Values[0]
	}
}

const num = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+)`

var (
	ciPattern      = regexp.MustCompile(`(?i)(?:` + num + `\s*%\s*)?\bci\b\s*[:=]?\s*` + num + `\s*(?:-|,|to)\s*` + num)
	bracketPattern = regexp.MustCompile(`[\[(]\s*` + num + `\s*(?:-|,|to)\s*` + num + `\s*[\])]`)
	metricPattern  = regexp.MustCompile(`\b(a?HR|RR|OR)\b\s*(?:=|:|is|of)?\s*` + num)
	metricLong     = regexp.MustCompile(`(?i)\b(hazard ratio|odds ratio|risk ratio|relative risk)\b\s*(?:=|:|is|of|was)?\s*` + num)
	pPattern       = regexp.MustCompile(`(?i)\bp\s*(<=|>=|=|<|>|≤|≥)\s*` + num)
	percentPattern = regexp.MustCompile(num + `\s*(?:%|percent\b)`)
	countPattern   = regexp.MustCompile(`(?i)\bn\s*=\s*` + num)
	durationPat    = regexp.MustCompile(`(?i)` + num + `\s*(months?|years?|weeks?|days?)\b`)
	dosagePattern  = regexp.MustCompile(`(?i)` + num + `\s*(gy|mg/m[²2]|mg/kg|mg)`)
	numberPattern  = regexp.MustCompile(num)

	dashReplacer = strings.NewReplacer(
		"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2212", "-",
		"\u00a0", " ", "\u2009", " ", "\u202f", " ", "\u00b7", ".",
	)
	spaceRun = regexp.MustCompile(`\s+`)
)

var longMetricNames = map[string]string{
	"hazard ratio":  "hr",
	"odds ratio":    "or",
	"risk ratio":    "rr",
	"relative risk": "rr",
}

// normalizeStatText unifies dash variants and whitespace without changing case
func normalizeStatText(text string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(dashReplacer.Replace(text), " "))
}

// canonicalNumber strips thousands separators and redundant zeros: ".640" -> "0.64"
func canonicalNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type span struct{ start, end int }

type scanner struct {
	text     string
	consumed []span
	found    []positioned
}

type positioned struct {
	pos int
	tok Token
}

func (s *scanner) free(start, end int) bool {
	for _, c := range s.consumed {
		if start < c.end && c.start < end {
			return false
		}
	}
	return true
}

// scan runs re over the text and hands each match that does not overlap an
// earlier token to build
func (s *scanner) scan(re *regexp.Regexp, build func(groups []string) (Token, bool)) {
	for _, idx := range re.FindAllStringSubmatchIndex(s.text, -1) {
		if !s.free(idx[0], idx[1]) {
			continue
		}
		groups := make([]string, len(idx)/2)
		for g := range groups {
			if idx[2*g] >= 0 {
				groups[g] = s.text[idx[2*g]:idx[2*g+1]]
			}
		}
		tok, ok := build(groups)
		if !ok {
			continue
		}
		s.consumed = append(s.consumed, span{idx[0], idx[1]})
		s.found = append(s.found, positioned{idx[0], tok})
	}
}

// ExtractNumericStats returns the statistical tokens of text in reading
// order, without duplicates.
func ExtractNumericStats(text string) []Token {
	s := &scanner{text: normalizeStatText(text)}

	s.scan(ciPattern, func(g []string) (Token, bool) {
		tok := Token{Kind: TokenCI, Values: []string{canonicalNumber(g[2]), canonicalNumber(g[3])}}
		if g[1] != "" {
			tok.Level = canonicalNumber(g[1])
		}
		return tok, true
	})
	s.scan(metricPattern, func(g []string) (Token, bool) {
		// adjusted ratios are matched as their plain metric
		name := strings.TrimPrefix(strings.ToLower(g[1]), "a")
		return Token{Kind: TokenMetric, Name: name, Values: []string{canonicalNumber(g[2])}}, true
	})
	s.scan(metricLong, func(g []string) (Token, bool) {
		return Token{Kind: TokenMetric, Name: longMetricNames[strings.ToLower(g[1])], Values: []string{canonicalNumber(g[2])}}, true
	})
	s.scan(pPattern, func(g []string) (Token, bool) {
		op := g[1]
		switch op {
		case "≤":
			op = "<="
		case "≥":
			op = ">="
		}
		return Token{Kind: TokenPValue, Op: op, Values: []string{canonicalNumber(g[2])}}, true
	})
	s.scan(bracketPattern, func(g []string) (Token, bool) {
		return Token{Kind: TokenCI, Values: []string{canonicalNumber(g[1]), canonicalNumber(g[2])}}, true
	})
	s.scan(percentPattern, func(g []string) (Token, bool) {
		return Token{Kind: TokenPercent, Values: []string{canonicalNumber(g[1])}}, true
	})
	s.scan(countPattern, func(g []string) (Token, bool) {
		return Token{Kind: TokenCount, Values: []string{canonicalNumber(g[1])}}, true
	})
	s.scan(durationPat, func(g []string) (Token, bool) {
		unit := strings.TrimSuffix(strings.ToLower(g[2]), "s")
		return Token{Kind: TokenDuration, Name: unit, Values: []string{canonicalNumber(g[1])}}, true
	})
	s.scan(dosagePattern, func(g []string) (Token, bool) {
		unit := strings.ReplaceAll(strings.ToLower(g[2]), "²", "2")
		return Token{Kind: TokenDosage, Name: unit, Values: []string{canonicalNumber(g[1])}}, true
	})
	s.scan(numberPattern, func(g []string) (Token, bool) {
		return Token{Kind: TokenNumber, Values: []string{canonicalNumber(g[1])}}, true
	})

	sort.SliceStable(s.found, func(i, j int) bool { return s.found[i].pos < s.found[j].pos })

	seen := make(map[string]bool)
	var tokens []Token
	for _, p := range s.found {
		key := p.tok.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		tokens = append(tokens, p.tok)
	}
	return tokens
}

// numbersIn returns every canonical number literal in text
func numbersIn(text string) []string {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, canonicalNumber(m))
	}
	return out
}
