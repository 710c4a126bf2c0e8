package source

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownParser reads ATX headings, pipe tables and inline data-URI images
type MarkdownParser struct{}

// NewMarkdownParser creates a new Markdown parser
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

// Name returns the parser name
func (p *MarkdownParser) Name() string {
	return "markdown"
}

// CanHandle checks if this parser can handle the given file name/content type
func (p *MarkdownParser) CanHandle(name string, contentType string) bool {
	return contentType == "text/markdown" || contentType == "text/x-markdown" || hasExt(name, ".md", ".markdown")
}

var (
	atxHeading   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	tableDivider = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\((data:[^)\s]+)\)`)
)

// Parse converts Markdown into a document. Text outside headings and tables
// is kept line for line.
func (p *MarkdownParser) Parse(ctx context.Context, data []byte) (*Parsed, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	b := newBuilder()

	var para []string
	flush := func() {
		b.paragraph(strings.Join(para, "\n"))
		para = para[:0]
	}

	fenced := false
	for i := 0; i < len(lines); i++ {
		if i%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fenced = !fenced
			para = append(para, line)
			continue
		}
		if fenced {
			para = append(para, line)
			continue
		}

		if m := atxHeading.FindStringSubmatch(trimmed); m != nil {
			flush()
			b.heading(m[2], len(m[1]))
			continue
		}

		if strings.HasPrefix(trimmed, "|") && i+1 < len(lines) && tableDivider.MatchString(strings.TrimSpace(lines[i+1])) {
			flush()
			grid := [][]string{splitRow(trimmed)}
			i += 2
			for ; i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|"); i++ {
				grid = append(grid, splitRow(strings.TrimSpace(lines[i])))
			}
			i--
			b.table(grid)
			continue
		}

		if imgs := mdImage.FindAllStringSubmatch(line, -1); imgs != nil {
			flush()
			for _, m := range imgs {
				if data, mimeType, ok := decodeDataURI(m[2]); ok {
					b.image(data, mimeType, m[1])
				}
			}
			line = mdImage.ReplaceAllString(line, "")
			trimmed = strings.TrimSpace(line)
		}

		if trimmed == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	flush()
	return b.parsed(0), nil
}

func splitRow(line string) []string {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	cells := strings.Split(line, "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
