package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/xuri/excelize/v2"
)

// noisePNG encodes a w x h image of pseudo-random pixels so it does not
// compress below the size threshold
func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{uint8(seed >> 24), uint8(seed >> 16), uint8(seed >> 8), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func dataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func sectionTitles(doc model.SourceDocument) []string {
	out := make([]string, len(doc.Sections))
	for i, s := range doc.Sections {
		out[i] = s.Title
	}
	return out
}

func TestHTMLParser(t *testing.T) {
	figure := noisePNG(t, 120, 80)
	page := `<html><head><title>ignored</title><script>var x = 1;</script></head><body>
<nav>Home | About</nav>
<h1>Phase III trial</h1>
<p>Overall survival improved in the treatment arm (HR 0.64, 95% CI 0.58&ndash;0.71).</p>
<h2>Results</h2>
<figure><img src="` + dataURI(figure) + `"><figcaption>Figure 1: Kaplan-Meier curves</figcaption></figure>
<img src="` + dataURI(noisePNG(t, 16, 16)) + `" alt="icon">
<img src="https://example.org/remote.png" alt="remote">
<table><tr><th>Arm</th><th>Median OS</th></tr><tr><td>Treatment</td><td>14.2 months</td></tr></table>
<footer>Copyright</footer>
</body></html>`

	parsed, err := NewHTMLParser().Parse(context.Background(), []byte(page))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	doc := parsed.Document

	if diff := cmp.Diff([]string{"Phase III trial", "Results"}, sectionTitles(doc)); diff != "" {
		t.Errorf("sections mismatch:\n%s", diff)
	}
	if doc.Sections[1].Level != 2 || doc.Sections[1].End != len(doc.Text) || doc.Sections[0].End != doc.Sections[1].Start {
		t.Errorf("section ranges = %+v", doc.Sections)
	}
	for _, want := range []string{"HR 0.64, 95% CI 0.58–0.71", "Figure 1: Kaplan-Meier curves", "| Treatment | 14.2 months |"} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("text lacks %q:\n%s", want, doc.Text)
		}
	}
	for _, banned := range []string{"var x", "Home | About", "Copyright", "ignored"} {
		if strings.Contains(doc.Text, banned) {
			t.Errorf("text contains %q", banned)
		}
	}

	if len(doc.Tables) != 1 {
		t.Fatalf("tables = %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if !strings.Contains(tbl.HTML, "<th>Median OS</th>") || !strings.HasPrefix(doc.Text[tbl.Start:tbl.End], "Table 1") {
		t.Errorf("table = %+v", tbl)
	}

	if len(parsed.Images) != 1 {
		t.Fatalf("images = %d, want only the figure", len(parsed.Images))
	}
	img := parsed.Images[0]
	if img.Alt != "Figure 1: Kaplan-Meier curves" || img.MIMEType != "image/png" || !bytes.Equal(img.Data, figure) {
		t.Errorf("image = %+v", img)
	}
	if img.Start < doc.Sections[1].Start {
		t.Error("image should sit inside the Results section")
	}
}

func TestMarkdownParser(t *testing.T) {
	figure := noisePNG(t, 90, 90)
	md := "# Title\n\nIntro paragraph\ncontinues here.\n\n## Methods\n\n" +
		"| Dose | Patients |\n|---|:---:|\n| 60 Gy | 120 |\n| 45 Gy | 98 |\n\n" +
		"![Figure 2](" + dataURI(figure) + ")\n\n```\n# not a heading\n```\n"

	parsed, err := NewMarkdownParser().Parse(context.Background(), []byte(md))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	doc := parsed.Document
	if diff := cmp.Diff([]string{"Title", "Methods"}, sectionTitles(doc)); diff != "" {
		t.Errorf("sections mismatch:\n%s", diff)
	}
	if !strings.Contains(doc.Text, "Intro paragraph\ncontinues here.") {
		t.Errorf("paragraph lines not kept:\n%s", doc.Text)
	}
	if len(doc.Tables) != 1 || !strings.Contains(doc.Tables[0].HTML, "<td>60 Gy</td>") {
		t.Errorf("tables = %+v", doc.Tables)
	}
	if len(parsed.Images) != 1 || parsed.Images[0].Alt != "Figure 2" {
		t.Errorf("images = %+v", parsed.Images)
	}
	if strings.Contains(doc.Text, "base64") {
		t.Error("image payload leaked into text")
	}
}

func TestDetectSections(t *testing.T) {
	text := "A randomized trial\n\nABSTRACT\nWe studied things.\n\n1. Introduction\nBackground text.\n\n2.1 Study design\nDesign text.\n\nResults:\nHR 0.64.\n"
	sections := DetectSections(text)

	want := []struct {
		title string
		level int
	}{{"ABSTRACT", 1}, {"1. Introduction", 1}, {"2.1 Study design", 2}, {"Results", 1}}
	if len(sections) != len(want) {
		t.Fatalf("sections = %+v", sections)
	}
	for i, w := range want {
		if sections[i].Title != w.title || sections[i].Level != w.level {
			t.Errorf("section %d = %+v, want %s/%d", i, sections[i], w.title, w.level)
		}
		if !strings.HasPrefix(text[sections[i].Start:], strings.TrimSuffix(w.title, ":")) {
			t.Errorf("section %d starts at %q", i, text[sections[i].Start:])
		}
	}
	if sections[len(sections)-1].End != len(text) {
		t.Error("last section must reach the end of the text")
	}
}

func TestTextParser_KeepsTextVerbatim(t *testing.T) {
	text := "Line one.\r\nHR 0.64 (95% CI 0.58–0.71)\r\n"
	parsed, err := NewTextParser().Parse(context.Background(), []byte(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Document.Text != "Line one.\nHR 0.64 (95% CI 0.58–0.71)\n" {
		t.Errorf("text = %q", parsed.Document.Text)
	}
}

func TestSpreadsheetParser(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetSheetName("Sheet1", "Outcomes")
	for cell, v := range map[string]string{"A1": "Endpoint", "B1": "HR", "A2": "OS", "B2": "0.64", "A3": "PFS"} {
		if err := f.SetCellValue("Outcomes", cell, v); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	parsed, err := NewSpreadsheetParser().Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	doc := parsed.Document
	if diff := cmp.Diff([]string{"Outcomes"}, sectionTitles(doc)); diff != "" {
		t.Errorf("sections mismatch:\n%s", diff)
	}
	if !strings.Contains(doc.Text, "| OS | 0.64 |") || !strings.Contains(doc.Text, "| PFS |   |") {
		t.Errorf("text = %q", doc.Text)
	}
	if len(doc.Tables) != 1 || doc.Tables[0].Page != 1 {
		t.Errorf("tables = %+v", doc.Tables)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name, contentType, want string
	}{
		{"paper.pdf", "", "pdf"},
		{"", "application/pdf", "pdf"},
		{"page", "text/html; charset=utf-8", "html"},
		{"notes.md", "", "markdown"},
		{"data.xlsx", "", "spreadsheet"},
		{"paper.txt", "text/plain", "text"},
		{"unknown.bin", "application/octet-stream", "text"},
	}
	for _, tt := range tests {
		if got := r.Find(tt.name, tt.contentType).Name(); got != tt.want {
			t.Errorf("Find(%q, %q) = %s, want %s", tt.name, tt.contentType, got, tt.want)
		}
	}

	parsed, err := r.Parse(context.Background(), "a.md", "", []byte("# Results\n\nHR 0.64"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Format != "markdown" || parsed.Document.ID != DocumentID([]byte("# Results\n\nHR 0.64")) {
		t.Errorf("parsed = %+v", parsed)
	}

	if _, err := r.Parse(context.Background(), "empty.txt", "", []byte("  \n")); err == nil {
		t.Error("empty document should be an error")
	}
	if _, err := r.Parse(context.Background(), "broken.pdf", "", []byte("not a pdf")); err == nil {
		t.Error("malformed PDF should be an error")
	}
}

func TestFigureCandidate(t *testing.T) {
	if _, ok := figureCandidate(noisePNG(t, 100, 100), ""); !ok {
		t.Error("regular figure rejected")
	}
	if _, ok := figureCandidate(noisePNG(t, 600, 40), ""); ok {
		t.Error("thin banner accepted")
	}
	if _, ok := figureCandidate(noisePNG(t, 30, 30), ""); ok {
		t.Error("icon accepted")
	}
	if _, ok := figureCandidate(bytes.Repeat([]byte("a"), 5000), ""); ok {
		t.Error("non-image accepted")
	}
}
