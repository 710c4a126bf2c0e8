package model

import "strings"

// SourceDocument is the text a record is extracted from and grounded against.
// The engine never mutates it.
type SourceDocument struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Sections []Section `json:"sections,omitempty"`
	Tables   []Table   `json:"tables,omitempty"`
}

// Section is a titled character range of the document text
type Section struct {
	Title string `json:"title"`
	Start int    `json:"start"` // byte offset, inclusive
	End   int    `json:"end"`   // byte offset, exclusive
	Level int    `json:"level,omitempty"`
}

// Len returns the length of the section range
func (s Section) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Table is a table lifted out of the document, rendered as HTML
type Table struct {
	Index int    `json:"index"`
	HTML  string `json:"html"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Page  int    `json:"page,omitempty"`
}

// SectionText returns the trimmed text covered by s, clamped to the document bounds
func (d SourceDocument) SectionText(s Section) string {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end > len(d.Text) {
		end = len(d.Text)
	}
	if start >= end {
		return ""
	}
	return strings.TrimSpace(d.Text[start:end])
}

// Chunk is a run of adjacent sections sent to one extraction call
type Chunk struct {
	Index    int       `json:"index"`
	Sections []Section `json:"sections"`
	Text     string    `json:"text"`
}

// Heading joins the titles of the chunk's sections
func (c Chunk) Heading() string {
	titles := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	return strings.Join(titles, " + ")
}

// FigureImage is a candidate image handed to the vision model
type FigureImage struct {
	Index    int    `json:"index"`
	Page     int    `json:"page"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
	Alt      string `json:"alt,omitempty"`
	Start    int    `json:"start"` // where the image sits in the document text
	End      int    `json:"end"`
}

// FigureDescription is the vision model's description of one figure
type FigureDescription struct {
	Index       int    `json:"index"`
	Page        int    `json:"page"`
	Label       string `json:"label,omitempty"` // paper numbering, e.g. "Fig. 2"
	Description string `json:"description"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}
