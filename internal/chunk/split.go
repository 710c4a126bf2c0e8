package chunk

import (
	"sort"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
)

// PreambleTitle names the synthetic section holding text before the first heading
const PreambleTitle = "Preamble"

// Normalize orders sections by offset and makes them tile the document:
// each section runs to the start of the next one, text before the first
// section becomes a Preamble, and sections with no text are dropped.
func Normalize(doc model.SourceDocument) []model.Section {
	n := len(doc.Text)
	if len(doc.Sections) == 0 {
		if strings.TrimSpace(doc.Text) == "" {
			return nil
		}
		return []model.Section{{Start: 0, End: n}}
	}

	sorted := make([]model.Section, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.Start > n {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []model.Section
	if len(sorted) > 0 && sorted[0].Start > 0 {
		out = append(out, model.Section{Title: PreambleTitle, Start: 0, End: sorted[0].Start})
	}
	for i, s := range sorted {
		if i+1 < len(sorted) {
			s.End = sorted[i+1].Start
		} else {
			s.End = n
		}
		out = append(out, s)
	}

	kept := out[:0]
	for _, s := range out {
		if doc.SectionText(s) != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

// Split groups the document's sections into chunks. Consecutive sections are
// merged greedily while their combined length stays within budget; a
// section longer than budget gets a chunk of its own and is never split.
func Split(doc model.SourceDocument, budget int) []model.Chunk {
	sections := Normalize(doc)
	if len(sections) == 0 {
		return nil
	}

	var (
		chunks []model.Chunk
		cur    []model.Section
		size   int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, newChunk(doc, len(chunks), cur))
		cur, size = nil, 0
	}
	for _, s := range sections {
		if len(cur) > 0 && size+s.Len() > budget {
			flush()
		}
		cur = append(cur, s)
		size += s.Len()
	}
	flush()
	return chunks
}

func newChunk(doc model.SourceDocument, index int, sections []model.Section) model.Chunk {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, doc.SectionText(s))
	}
	return model.Chunk{
		Index:    index,
		Sections: append([]model.Section(nil), sections...),
		Text:     strings.Join(parts, "\n\n"),
	}
}
