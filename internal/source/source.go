// Package source turns raw documents (HTML, Markdown, PDF, spreadsheets,
// plain text) into the SourceDocument the grounding engine works on, and
// fetches them from URLs.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
)

// ErrUnsupported is returned when no parser accepts a document
var ErrUnsupported = errors.New("unsupported document type")

// Parsed is a parser's output: the document text plus the images that are
// candidates for the figure path
type Parsed struct {
	Document model.SourceDocument
	Images   []model.FigureImage
	Pages    int
	Format   string
}

// Parser extracts text, sections and tables from one document format
type Parser interface {
	// Name returns the parser name
	Name() string

	// CanHandle checks if this parser can handle the given file name/content type
	CanHandle(name string, contentType string) bool

	// Parse converts raw bytes into a document
	Parse(ctx context.Context, data []byte) (*Parsed, error)
}

// Registry manages parsers, tried in registration order
type Registry struct {
	parsers  []Parser
	fallback Parser
}

// NewRegistry creates a registry with the built-in parsers. Plain text is
// the fallback for anything no other parser claims.
func NewRegistry() *Registry {
	registry := &Registry{}

	registry.Register(NewPDFParser())
	registry.Register(NewSpreadsheetParser())
	registry.Register(NewHTMLParser())
	registry.Register(NewMarkdownParser())

	registry.fallback = NewTextParser()

	return registry
}

// Register registers a new parser
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Find finds the parser for the given file name and content type
func (r *Registry) Find(name string, contentType string) Parser {
	mediaType := contentType
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	for _, p := range r.parsers {
		if p.CanHandle(name, mediaType) {
			return p
		}
	}
	return r.fallback
}

// Parse parses data with the matching parser and fills in the document ID.
// An empty document is an error.
func (r *Registry) Parse(ctx context.Context, name string, contentType string, data []byte) (*Parsed, error) {
	p := r.Find(name, contentType)
	if p == nil {
		return nil, ErrUnsupported
	}

	parsed, err := p.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if strings.TrimSpace(parsed.Document.Text) == "" {
		return nil, fmt.Errorf("%s: no text extracted from %s", p.Name(), displayName(name))
	}

	parsed.Format = p.Name()
	if parsed.Document.ID == "" {
		parsed.Document.ID = DocumentID(data)
	}
	return parsed, nil
}

// DocumentID derives a stable identity from the document bytes
func DocumentID(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

func hasExt(name string, exts ...string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func displayName(name string) string {
	if name == "" {
		return "document"
	}
	return name
}
