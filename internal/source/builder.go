package source

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"html"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
)

// Figure candidate thresholds. Anything smaller is an icon, bullet or rule.
const (
	MinImageSide   = 50
	MinImageBytes  = 2000
	MaxAspectRatio = 12
)

// builder accumulates document text while recording where sections,
// tables and images fall in it
type builder struct {
	text     strings.Builder
	sections []model.Section
	tables   []model.Table
	images   []model.FigureImage
	seen     map[[32]byte]bool
	page     int
}

func newBuilder() *builder {
	return &builder{seen: make(map[[32]byte]bool), page: 1}
}

func (b *builder) offset() int { return b.text.Len() }

// breakParagraph makes sure the next write starts a new paragraph
func (b *builder) breakParagraph() {
	s := b.text.String()
	switch {
	case s == "", strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		b.text.WriteByte('\n')
	default:
		b.text.WriteString("\n\n")
	}
}

func (b *builder) heading(title string, level int) {
	title = collapse(title)
	if title == "" {
		return
	}
	b.breakParagraph()
	b.sections = append(b.sections, model.Section{Title: title, Start: b.offset(), Level: level})
	b.text.WriteString(title)
	b.text.WriteString("\n\n")
}

func (b *builder) paragraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.breakParagraph()
	b.text.WriteString(text)
	b.text.WriteString("\n\n")
}

// table writes grid as a Markdown table and records its HTML rendering
func (b *builder) table(grid [][]string) {
	if len(grid) == 0 {
		return
	}
	b.breakParagraph()
	num := len(b.tables) + 1
	start := b.offset()
	b.text.WriteString(tableMarkdown(grid, num))
	end := b.offset()
	b.text.WriteString("\n\n")
	b.tables = append(b.tables, model.Table{
		Index: len(b.tables),
		HTML:  tableHTML(grid, num),
		Start: start,
		End:   end,
		Page:  b.page,
	})
}

// image records a figure candidate at the current position. Small,
// decorative and duplicate images are dropped.
func (b *builder) image(data []byte, mimeType, alt string) {
	mimeType, ok := figureCandidate(data, mimeType)
	if !ok {
		return
	}
	sum := sha256.Sum256(data)
	if b.seen[sum] {
		return
	}
	b.seen[sum] = true
	b.images = append(b.images, model.FigureImage{
		Index:    len(b.images),
		Page:     b.page,
		MIMEType: mimeType,
		Data:     data,
		Alt:      collapse(alt),
		Start:    b.offset(),
		End:      b.offset(),
	})
}

// document closes every section at the start of the next one
func (b *builder) document() model.SourceDocument {
	text := strings.TrimRight(b.text.String(), "\n ")
	sections := make([]model.Section, len(b.sections))
	copy(sections, b.sections)
	for i := range sections {
		end := len(text)
		if i+1 < len(sections) {
			end = sections[i+1].Start
		}
		sections[i].End = min(end, len(text))
	}
	for i := range b.tables {
		b.tables[i].End = min(b.tables[i].End, len(text))
	}
	for i := range b.images {
		b.images[i].Start = min(b.images[i].Start, len(text))
		b.images[i].End = b.images[i].Start
	}
	return model.SourceDocument{Text: text, Sections: sections, Tables: b.tables}
}

func (b *builder) parsed(pages int) *Parsed {
	doc := b.document()
	return &Parsed{Document: doc, Images: b.images, Pages: pages}
}

func figureCandidate(data []byte, mimeType string) (string, bool) {
	if len(data) < MinImageBytes {
		return "", false
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// formats without a registered decoder are passed through unchecked
		return mimeType, true
	}
	w, h := cfg.Width, cfg.Height
	if w < MinImageSide || h < MinImageSide {
		return "", false
	}
	if float64(max(w, h))/float64(max(min(w, h), 1)) > MaxAspectRatio {
		return "", false
	}
	return mimeType, true
}

func tableHTML(grid [][]string, num int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h4>Table %d</h4>\n", num)
	sb.WriteString(`<table border="1" cellpadding="6" cellspacing="0" style="border-collapse:collapse;">` + "\n")
	for r, row := range grid {
		tag := "td"
		if r == 0 {
			tag = "th"
		}
		sb.WriteString("  <tr>\n")
		for _, cell := range row {
			v := html.EscapeString(cell)
			if v == "" {
				v = "&nbsp;"
			}
			fmt.Fprintf(&sb, "    <%s>%s</%s>\n", tag, v, tag)
		}
		sb.WriteString("  </tr>\n")
	}
	sb.WriteString("</table>")
	return sb.String()
}

func tableMarkdown(grid [][]string, num int) string {
	lines := []string{fmt.Sprintf("Table %d", num)}
	for r, row := range grid {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.ReplaceAll(c, "|", "/")
			if cells[i] == "" {
				cells[i] = " "
			}
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if r == 0 {
			sep := make([]string, len(row))
			for i := range sep {
				sep[i] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
