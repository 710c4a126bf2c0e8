package match

import (
	"regexp"
	"strings"
)

// DefaultThreshold is the similarity at which a quote counts as grounded
const DefaultThreshold = 0.60

var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:[.,]\p{N}+)*`)
	// "sur- vival" and "sur-\nvival" are line-break hyphenation, not compounds
	hyphenBreak = regexp.MustCompile(`(\p{L})-\s+(\p{L})`)

	dashReplacer = strings.NewReplacer(
		"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "−", "-",
		"­", "",
	)
)

// Normalize lowercases text, unifies dashes and repairs line-break hyphenation
func Normalize(text string) string {
	text = strings.ToLower(dashReplacer.Replace(text))
	return hyphenBreak.ReplaceAllString(text, "$1$2")
}

// Tokens splits text into normalized word tokens; punctuation is dropped
// and decimals stay whole
func Tokens(text string) []string {
	return wordPattern.FindAllString(Normalize(text), -1)
}

// Result is the best window found for a candidate
type Result struct {
	Score  float64
	Window string // source tokens of the best window, space-joined
}

// Index is a tokenized source text, built once and matched many times
type Index struct {
	tokens []string
	joined string
}

// NewIndex tokenizes source for matching
func NewIndex(source string) *Index {
	toks := Tokens(source)
	return &Index{tokens: toks, joined: " " + strings.Join(toks, " ") + " "}
}

// BestMatch scores candidate against every window of the source sized to the
// candidate's token count and returns the maximum. A candidate whose tokens
// occur contiguously in the source scores 1.0.
func (ix *Index) BestMatch(candidate string) Result {
	ctoks := Tokens(candidate)
	k := len(ctoks)
	if k == 0 || len(ix.tokens) == 0 {
		return Result{}
	}
	if strings.Contains(ix.joined, " "+strings.Join(ctoks, " ")+" ") {
		return Result{Score: 1, Window: strings.Join(ctoks, " ")}
	}

	want := make(map[string]int, k)
	for _, t := range ctoks {
		want[t]++
	}

	size := k
	if size > len(ix.tokens) {
		size = len(ix.tokens)
	}

	// shared counts the window tokens that occur in the candidate; it bounds
	// the LCS from above, so windows that cannot beat the best are skipped
	shared := 0
	for _, t := range ix.tokens[:size] {
		if want[t] > 0 {
			shared++
		}
	}

	var best Result
	bestStart := -1
	for start := 0; start+size <= len(ix.tokens); start++ {
		if start > 0 {
			if want[ix.tokens[start-1]] > 0 {
				shared--
			}
			if want[ix.tokens[start+size-1]] > 0 {
				shared++
			}
		}
		if shared == 0 || dice(shared, k, size) <= best.Score {
			continue
		}
		window := ix.tokens[start : start+size]
		score := dice(lcs(ctoks, window), k, size)
		if score > best.Score {
			best.Score = score
			bestStart = start
		}
	}
	if bestStart >= 0 {
		best.Window = strings.Join(ix.tokens[bestStart:bestStart+size], " ")
	}
	return best
}

// BestMatch is a one-shot convenience over NewIndex
func BestMatch(candidate, source string) float64 {
	return NewIndex(source).BestMatch(candidate).Score
}

// dice turns a common-subsequence length into a ratio in [0,1]
func dice(common, a, b int) float64 {
	if a+b == 0 {
		return 0
	}
	return 2 * float64(common) / float64(a+b)
}

// lcs is the token-level longest common subsequence length
func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
