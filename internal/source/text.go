package source

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/grounder/internal/model"
)

// TextParser keeps plain text verbatim and infers sections from heading lines
type TextParser struct{}

// NewTextParser creates a new plain-text parser
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Name returns the parser name
func (p *TextParser) Name() string {
	return "text"
}

// CanHandle accepts anything; the registry uses it as the fallback
func (p *TextParser) CanHandle(name string, contentType string) bool {
	return true
}

// Parse returns the text unchanged with detected sections
func (p *TextParser) Parse(ctx context.Context, data []byte) (*Parsed, error) {
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return &Parsed{Document: model.SourceDocument{Text: text, Sections: DetectSections(text)}}, nil
}

var (
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+\p{Lu}`)
	knownHeadings   = map[string]bool{
		"abstract": true, "background": true, "introduction": true, "methods": true,
		"materials and methods": true, "patients and methods": true, "results": true,
		"discussion": true, "conclusion": true, "conclusions": true, "references": true,
		"acknowledgements": true, "acknowledgments": true, "limitations": true,
		"summary": true, "objectives": true, "study design": true, "statistical analysis": true,
		"safety": true, "efficacy": true, "funding": true, "supplementary material": true,
	}
)

// DetectSections finds heading lines in plain text: numbered headings
// ("2.1 Study design"), well-known section names and short all-caps lines.
// Each section runs to the start of the next.
func DetectSections(text string) []model.Section {
	var sections []model.Section
	offset := 0
	prevBlank := true
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if level, ok := headingLine(trimmed); ok && prevBlank {
			start := offset + strings.Index(line, trimmed)
			sections = append(sections, model.Section{Title: strings.TrimSuffix(trimmed, ":"), Start: start, Level: level})
		}
		prevBlank = trimmed == "" || len(sections) > 0 && sections[len(sections)-1].Start >= offset
		offset += len(line)
	}
	for i := range sections {
		if i+1 < len(sections) {
			sections[i].End = sections[i+1].Start
		} else {
			sections[i].End = len(text)
		}
	}
	return sections
}

func headingLine(line string) (int, bool) {
	if line == "" || len(line) > 80 || strings.HasSuffix(line, ".") {
		return 0, false
	}
	if knownHeadings[strings.ToLower(strings.TrimSuffix(line, ":"))] {
		return 1, true
	}
	words := strings.Fields(line)
	if len(words) > 10 {
		return 0, false
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, true
	}
	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 4 && upper == letters && len(words) <= 8 {
		return 1, true
	}
	return 0, false
}
