package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/ppiankov/grounder/internal/model"
)

// PDFParser extracts the text layer of a PDF page by page. Embedded images
// are not extracted; PDFs carry no figure candidates on this path.
type PDFParser struct{}

// NewPDFParser creates a new PDF parser
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Name returns the parser name
func (p *PDFParser) Name() string {
	return "pdf"
}

// CanHandle checks if this parser can handle the given file name/content type
func (p *PDFParser) CanHandle(name string, contentType string) bool {
	return contentType == "application/pdf" || hasExt(name, ".pdf")
}

// Parse reads every page. Sections come from heading lines when any are
// found, otherwise one section per page.
func (p *PDFParser) Parse(ctx context.Context, data []byte) (parsed *Parsed, err error) {
	// the reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			parsed, err = nil, fmt.Errorf("read PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	var pages []model.Section
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		start := buf.Len()
		buf.WriteString(text)
		pages = append(pages, model.Section{Title: fmt.Sprintf("Page %d", i), Start: start, End: buf.Len(), Level: 1})
	}

	text := buf.String()
	sections := DetectSections(text)
	if len(sections) == 0 {
		sections = pages
	}
	return &Parsed{
		Document: model.SourceDocument{Text: text, Sections: sections},
		Pages:    numPages,
	}, nil
}
