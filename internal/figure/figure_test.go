package figure

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/grounder/internal/cache"
	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/model"
)

func images(n int) []model.FigureImage {
	out := make([]model.FigureImage, n)
	for i := range out {
		out[i] = model.FigureImage{Index: i, Page: i + 1, MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', byte(i)}}
	}
	return out
}

// byImage answers per image index, taken from the image payload
func byImage(answers map[byte]string) *llm.MockProvider {
	return &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		if len(req.Images) != 1 {
			return "", errors.New("expected one image")
		}
		data := req.Images[0].Data
		a, ok := answers[data[len(data)-1]]
		if !ok {
			return "", errors.New("vision service unavailable")
		}
		return a, nil
	}}
}

func TestDescribeAll_FiltersSentinelAndKeepsOrder(t *testing.T) {
	mock := byImage(map[byte]string{
		0: "Kaplan-Meier curve of overall survival.",
		1: "NOT_A_FIGURE",
		2: "Forest plot of subgroup hazard ratios.",
	})
	got := NewDescriber(mock, nil, Options{Workers: 3}).DescribeAll(context.Background(), "doc", images(3))

	want := []model.FigureDescription{
		{Index: 0, Page: 1, Description: "Kaplan-Meier curve of overall survival."},
		{Index: 2, Page: 3, Description: "Forest plot of subgroup hazard ratios."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("descriptions mismatch (-want +got):\n%s", diff)
	}
	for _, c := range mock.Calls() {
		if c.Op != llm.OpVision || !strings.Contains(c.System, NotAFigure) {
			t.Errorf("unexpected vision request: op=%s", c.Op)
		}
	}
}

func TestDescribeAll_UsesCache(t *testing.T) {
	c := cache.New("", time.Hour)
	mock := byImage(map[byte]string{0: "A bar chart.", 1: "NOT_A_FIGURE"})
	d := NewDescriber(mock, c, Options{})

	first := d.DescribeAll(context.Background(), "doc-42", images(2))
	second := d.DescribeAll(context.Background(), "doc-42", images(2))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached run differs:\n%s", diff)
	}
	if n := len(mock.Calls()); n != 2 {
		t.Errorf("vision calls = %d, want 2 (second run fully cached, sentinel included)", n)
	}

	// another document with the same image indices is not a cache hit
	d.DescribeAll(context.Background(), "doc-43", images(1))
	if n := len(mock.Calls()); n != 3 {
		t.Errorf("vision calls = %d, want 3", n)
	}
}

func TestDescribeAll_RetryThenSkip(t *testing.T) {
	var calls int32
	mock := &llm.MockProvider{Respond: func(req llm.CompletionRequest) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("timeout")
		}
		return "Recovered description.", nil
	}}
	got := NewDescriber(mock, nil, Options{}).DescribeAll(context.Background(), "", images(1))
	if len(got) != 1 || got[0].Description != "Recovered description." {
		t.Errorf("retry result = %+v", got)
	}

	failing := byImage(map[byte]string{})
	if got := NewDescriber(failing, nil, Options{}).DescribeAll(context.Background(), "", images(2)); len(got) != 0 {
		t.Errorf("failed images should be left out, got %+v", got)
	}
	if n := len(failing.Calls()); n != 4 {
		t.Errorf("calls = %d, want 2 per image", n)
	}
}

func TestDescribeAll_SkipsEmptyImages(t *testing.T) {
	mock := byImage(map[byte]string{})
	imgs := []model.FigureImage{{Index: 0, Page: 1}}
	if got := NewDescriber(mock, nil, Options{}).DescribeAll(context.Background(), "doc", imgs); got != nil {
		t.Errorf("got %+v", got)
	}
	if len(mock.Calls()) != 0 {
		t.Error("empty image must not reach the model")
	}
}

func labels(figs []model.FigureDescription) []string {
	out := make([]string, len(figs))
	for i, f := range figs {
		out[i] = f.Label
	}
	return out
}

func TestFindReferences(t *testing.T) {
	text := "As shown in Figure 2: survival curves.\nFig. 1. CONSORT diagram\nSee Figure 2 again."
	refs := FindReferences(text)
	if len(refs) != 2 || refs[0].Number != 2 || refs[1].Number != 1 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[1].Caption != "CONSORT diagram" {
		t.Errorf("caption = %q", refs[1].Caption)
	}
}

func TestMatchToPaper_SequentialWhenCountsAgree(t *testing.T) {
	text := "Figure 1: Study flow.\nFigure 2: Survival."
	figs := []model.FigureDescription{
		{Index: 5, Page: 4, Description: "survival"},
		{Index: 1, Page: 2, Description: "flow"},
	}
	got := MatchToPaper(text, figs)
	if diff := cmp.Diff([]string{"Fig. 1", "Fig. 2"}, labels(got)); diff != "" {
		t.Errorf("labels mismatch:\n%s", diff)
	}
	if got[0].Page != 2 {
		t.Error("images should be in page order")
	}
}

func TestMatchToPaper_GreedyWhenCountsDiffer(t *testing.T) {
	text := strings.Repeat("intro ", 50) + "\nFigure 1: PRISMA flowchart of study selection\n" +
		strings.Repeat("body ", 200) + "\nFigure 2: Forest plot of overall survival\n" +
		strings.Repeat("more ", 200) + "\nFigure 3: Risk of bias summary\n"
	figs := []model.FigureDescription{
		{Index: 0, Page: 1, Description: "A PRISMA flowchart showing study selection."},
		{Index: 1, Page: 3, Description: "Forest plot of overall survival hazard ratios."},
	}
	got := MatchToPaper(text, figs)
	if diff := cmp.Diff([]string{"Fig. 1", "Fig. 2"}, labels(got)); diff != "" {
		t.Errorf("labels mismatch:\n%s", diff)
	}
}

func TestMatchToPaper_NoReferences(t *testing.T) {
	got := MatchToPaper("no numbered figures here", []model.FigureDescription{{Index: 0, Page: 7, Description: "chart"}})
	if got[0].Label != "Image from Page 7" {
		t.Errorf("label = %q", got[0].Label)
	}
	if MatchToPaper("text", nil) != nil {
		t.Error("no figures should give nil")
	}
}

func TestEnrich(t *testing.T) {
	if Enrich("body", nil) != "body" {
		t.Error("no figures must leave text unchanged")
	}
	got := Enrich("body", []model.FigureDescription{{Page: 3, Label: "Fig. 2", Description: "Survival curves."}})
	for _, want := range []string{"body\n\n", Banner, "### Fig. 2 (PDF Page 3)", "Description: Survival curves."} {
		if !strings.Contains(got, want) {
			t.Errorf("enriched text lacks %q", want)
		}
	}
}
