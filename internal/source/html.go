package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLParser extracts article text, headings, tables and inline images from HTML
type HTMLParser struct{}

// NewHTMLParser creates a new HTML parser
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Name returns the parser name
func (p *HTMLParser) Name() string {
	return "html"
}

// CanHandle checks if this parser can handle the given file name/content type
func (p *HTMLParser) CanHandle(name string, contentType string) bool {
	return contentType == "text/html" || contentType == "application/xhtml+xml" || hasExt(name, ".html", ".htm", ".xhtml")
}

// skipped elements never contribute text
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Head:     true,
}

var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Blockquote: true, atom.Pre: true, atom.Figure: true, atom.Figcaption: true,
	atom.Br: true, atom.Hr: true, atom.Caption: true, atom.Header: true, atom.Body: true,
}

var headingLevel = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// Parse converts an HTML page into a document
func (p *HTMLParser) Parse(ctx context.Context, data []byte) (*Parsed, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &htmlWalker{b: newBuilder()}
	if body := findFirst(root, isElement(atom.Body)); body != nil {
		w.walk(body)
	} else {
		w.walk(root)
	}
	w.flush()
	return w.b.parsed(0), nil
}

type htmlWalker struct {
	b      *builder
	inline strings.Builder
}

func (w *htmlWalker) flush() {
	w.b.paragraph(collapse(w.inline.String()))
	w.inline.Reset()
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.inline.WriteString(n.Data)
		w.inline.WriteByte(' ')
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		return
	}

	if skipped[n.DataAtom] {
		return
	}
	if level, ok := headingLevel[n.DataAtom]; ok {
		w.flush()
		w.b.heading(extractText(n), level)
		return
	}

	switch n.DataAtom {
	case atom.Table:
		w.flush()
		w.b.table(tableGrid(n))
		return
	case atom.Img:
		w.image(n)
		return
	}

	if block[n.DataAtom] {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block[n.DataAtom] {
		w.flush()
	}
}

// image keeps inline data: images. Remote images are not fetched.
func (w *htmlWalker) image(n *html.Node) {
	data, mimeType, ok := decodeDataURI(getAttribute(n, "src"))
	if !ok {
		return
	}
	alt := getAttribute(n, "alt")
	if alt == "" {
		if fig := enclosing(n, atom.Figure); fig != nil {
			if caption := findFirst(fig, isElement(atom.Figcaption)); caption != nil {
				alt = extractText(caption)
			}
		}
	}
	w.flush()
	w.b.image(data, mimeType, alt)
}

// tableGrid flattens a table into rows of cell text. Nested tables are
// folded into their cell.
func tableGrid(table *html.Node) [][]string {
	var grid [][]string
	for _, tr := range findAll(table, isElement(atom.Tr)) {
		if enclosing(tr, atom.Table) != table {
			continue
		}
		var row []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
				row = append(row, collapse(extractText(c)))
			}
		}
		if len(row) > 0 {
			grid = append(grid, row)
		}
	}
	return grid
}

// decodeDataURI decodes a base64 data: URI
func decodeDataURI(src string) ([]byte, string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(src), "data:")
	if !ok {
		return nil, "", false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", false
	}
	mimeType, params, _ := strings.Cut(meta, ";")
	if !strings.Contains(params, "base64") {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", false
		}
		return []byte(unescaped), mimeType, true
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", false
		}
	}
	return data, mimeType, true
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

// extractText extracts text content from a node
func extractText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}
	if n.Type == html.ElementNode && skipped[n.DataAtom] {
		return ""
	}

	var buf strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		buf.WriteString(extractText(c))
		buf.WriteString(" ")
	}
	return strings.TrimSpace(buf.String())
}

// getAttribute gets an attribute value from a node
func getAttribute(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func enclosing(n *html.Node, a atom.Atom) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

// findAll finds all nodes matching a predicate
func findAll(n *html.Node, predicate func(*html.Node) bool) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if predicate(node) {
			results = append(results, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return results
}

// findFirst finds the first node matching a predicate
func findFirst(n *html.Node, predicate func(*html.Node) bool) *html.Node {
	var result *html.Node

	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if predicate(node) {
			result = node
			return true
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	walk(n)
	return result
}
