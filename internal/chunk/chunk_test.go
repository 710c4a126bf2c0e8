package chunk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/schema"
)

// paper builds a document from titled bodies, one section per pair
func paper(preamble string, parts ...string) model.SourceDocument {
	var b strings.Builder
	b.WriteString(preamble)
	var sections []model.Section
	for i := 0; i+1 < len(parts); i += 2 {
		start := b.Len()
		b.WriteString(parts[i] + "\n" + parts[i+1] + "\n")
		sections = append(sections, model.Section{Title: parts[i], Start: start, End: b.Len(), Level: 1})
	}
	return model.SourceDocument{ID: "doc", Text: b.String(), Sections: sections}
}

func titles(chunks []model.Chunk) [][]string {
	out := make([][]string, len(chunks))
	for i, c := range chunks {
		for _, s := range c.Sections {
			out[i] = append(out[i], s.Title)
		}
	}
	return out
}

func TestSplit_Greedy(t *testing.T) {
	doc := paper("",
		"Abstract", strings.Repeat("a", 30),
		"Methods", strings.Repeat("m", 30),
		"Results", strings.Repeat("r", 200),
		"Discussion", strings.Repeat("d", 20),
	)
	got := titles(Split(doc, 100))
	want := [][]string{{"Abstract", "Methods"}, {"Results"}, {"Discussion"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestSplit_CoversEverySectionOnce(t *testing.T) {
	doc := paper("Title page\n",
		"A", strings.Repeat("x", 50), "B", "", "C", strings.Repeat("y", 120),
		"D", strings.Repeat("z", 10), "E", strings.Repeat("w", 75),
	)
	want := Normalize(doc)
	for _, budget := range []int{1, 40, 90, 150, 10000} {
		var got []model.Section
		for i, c := range Split(doc, budget) {
			if c.Index != i {
				t.Errorf("budget %d: chunk index %d at position %d", budget, c.Index, i)
			}
			if len(c.Sections) == 0 {
				t.Errorf("budget %d: empty chunk", budget)
			}
			got = append(got, c.Sections...)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("budget %d: sections not covered exactly once (-want +got):\n%s", budget, diff)
		}
	}
}

func TestNormalize(t *testing.T) {
	doc := paper("Title page\n", "Intro", "body text", "Empty", "")
	// an empty section body still carries its heading line
	doc.Sections = append(doc.Sections, model.Section{Title: "Blank", Start: len(doc.Text), End: len(doc.Text)})

	got := Normalize(doc)
	var names []string
	for _, s := range got {
		names = append(names, s.Title)
	}
	if diff := cmp.Diff([]string{PreambleTitle, "Intro", "Empty"}, names); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
	if got[len(got)-1].End != len(doc.Text) {
		t.Errorf("last section must reach the end of the text")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start != got[i-1].End {
			t.Errorf("gap between %s and %s", got[i-1].Title, got[i].Title)
		}
	}
}

func TestSplit_NoSections(t *testing.T) {
	doc := model.SourceDocument{Text: strings.Repeat("plain text ", 2000)}
	chunks := Split(doc, 100)
	if len(chunks) != 1 || chunks[0].Text != strings.TrimSpace(doc.Text) {
		t.Fatalf("expected the whole text as one chunk, got %d", len(chunks))
	}
	if Split(model.SourceDocument{Text: "   "}, 100) != nil {
		t.Error("blank document should give no chunks")
	}
}

func TestSplit_BelowBudgetIsOneChunk(t *testing.T) {
	doc := paper("", "A", "one", "B", "two", "C", "three")
	if n := len(Split(doc, len(doc.Text))); n != 1 {
		t.Errorf("chunks = %d, want 1", n)
	}
}

func TestFillTemplate(t *testing.T) {
	got := FillTemplate("Schema: {schema_json}\nText: {text}", `{"type":"object"}`, "body {schema_json}")
	want := "Schema: {\"type\":\"object\"}\nText: body {schema_json}"
	if got != want {
		t.Errorf("FillTemplate = %q", got)
	}
}

func summarySchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(map[string]any{
		"type":     "object",
		"required": []any{"title", "key_findings"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"key_findings": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "string"},
			},
			"tldr": map[string]any{"type": "string"},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

const template = "Extract per schema {schema_json}\n---\n{text}"

func TestExtract_SinglePass(t *testing.T) {
	mock := &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		return `{"title":"T","key_findings":["f1"],"tldr":null}`, nil
	}}
	doc := paper("", "Abstract", "short paper")

	res, err := New(mock, Options{ChunkChars: 6000}).Extract(context.Background(), doc, summarySchema(t), template)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Op != llm.OpExtract {
		t.Fatalf("expected one extract call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Prompt, "short paper") || strings.Contains(calls[0].Prompt, "part 1 of") {
		t.Errorf("single pass prompt = %q", calls[0].Prompt)
	}
	want := map[string]any{"title": "T", "key_findings": []any{"f1"}}
	if diff := cmp.Diff(want, res.Record.Data); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if res.Record.Version != 1 || res.Chunks != 1 {
		t.Errorf("version %d chunks %d", res.Record.Version, res.Chunks)
	}
}

func chunkedDoc() model.SourceDocument {
	return paper("",
		"Abstract", "alpha "+strings.Repeat("a", 60),
		"Methods", "beta "+strings.Repeat("b", 60),
		"Results", "gamma "+strings.Repeat("c", 60),
	)
}

func TestExtract_ChunkedSynthesisInDocumentOrder(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	mock := &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		switch req.Op {
		case llm.OpSynthesize:
			return `{"title":"Merged","key_findings":["alpha","gamma"]}`, nil
		case llm.OpExtractChunk:
			mu.Lock()
			defer mu.Unlock()
			switch {
			case strings.Contains(req.Prompt, "alpha"):
				return `{"key_findings":["alpha"]}`, nil
			case strings.Contains(req.Prompt, "beta"):
				attempts["beta"]++
				return "not json at all", nil
			case strings.Contains(req.Prompt, "gamma"):
				attempts["gamma"]++
				if attempts["gamma"] == 1 {
					return "", errors.New("timeout")
				}
				return `{"key_findings":["gamma"]}`, nil
			}
		}
		return "", errors.New("unexpected call")
	}}

	res, err := New(mock, Options{ChunkChars: 80, Workers: 3}).Extract(context.Background(), chunkedDoc(), summarySchema(t), template)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Chunks != 3 {
		t.Errorf("chunks = %d", res.Chunks)
	}
	if diff := cmp.Diff([]int{1}, res.Degraded); diff != "" {
		t.Errorf("degraded mismatch:\n%s", diff)
	}
	if attempts["beta"] != 2 {
		t.Errorf("failed chunk attempts = %d, want 2", attempts["beta"])
	}

	chunkCall := mock.CallsFor(llm.OpExtractChunk)[0]
	if !strings.Contains(chunkCall.Prompt, "(part ") || !strings.Contains(chunkCall.Prompt, "from the full paper") {
		t.Errorf("chunk prompt lacks context header: %q", chunkCall.Prompt)
	}
	if strings.Contains(chunkCall.Prompt, "minItems") {
		t.Error("chunk prompt should carry the relaxed schema")
	}

	synth := mock.CallsFor(llm.OpSynthesize)
	if len(synth) != 1 {
		t.Fatalf("synthesis calls = %d", len(synth))
	}
	a, g := strings.Index(synth[0].Prompt, `"Abstract"`), strings.Index(synth[0].Prompt, `"Results"`)
	if a < 0 || g < 0 || a > g {
		t.Errorf("partials not in document order:\n%s", synth[0].Prompt)
	}
	if strings.Contains(synth[0].Prompt, `"Methods"`) {
		t.Error("degraded chunk should not reach synthesis")
	}
	if res.Record.Data["title"] != "Merged" {
		t.Errorf("record = %v", res.Record.Data)
	}
}

func TestExtract_SynthesisFailureIsFatal(t *testing.T) {
	mock := &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		if req.Op == llm.OpSynthesize {
			return `{"title":"Merged"}`, nil // misses required key_findings
		}
		return `{"key_findings":["x"]}`, nil
	}}
	_, err := New(mock, Options{ChunkChars: 80}).Extract(context.Background(), chunkedDoc(), summarySchema(t), template)
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if n := len(mock.CallsFor(llm.OpSynthesize)); n != 2 {
		t.Errorf("synthesis attempts = %d, want 2", n)
	}
}

func TestExtract_AllChunksFail(t *testing.T) {
	mock := &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		return "", errors.New("down")
	}}
	_, err := New(mock, Options{ChunkChars: 80}).Extract(context.Background(), chunkedDoc(), summarySchema(t), template)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if len(mock.CallsFor(llm.OpSynthesize)) != 0 {
		t.Error("synthesis should not run without partials")
	}
}
