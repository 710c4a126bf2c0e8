package figure

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
)

var (
	figureRef = regexp.MustCompile(`(?i)(?:Fig\.?\s*|Figure\s*)(\d+)\s*[.:\s]([^\n]{0,200})`)
	longWord  = regexp.MustCompile(`\b\w{4,}\b`)
)

// keywordBonus rewards figure types named by both caption and description
var keywordBonus = []struct {
	keyword string
	bonus   float64
}{
	{"prisma", 2.0},
	{"flowchart", 1.5},
	{"flow diagram", 1.5},
	{"forest plot", 1.5},
	{"funnel plot", 1.0},
	{"overall survival", 2.0},
	{"progression", 2.0},
	{"toxicit", 2.0},
	{"hematolog", 2.0},
	{"bias", 2.0},
	{"cochrane", 1.5},
	{"risk of bias", 2.0},
	{"kaplan", 2.0},
}

// Reference is a figure mention found in the document text
type Reference struct {
	Number  int
	Caption string
	Offset  int
	estPage int
}

// FindReferences returns the first mention of each figure number, in text order
func FindReferences(text string) []Reference {
	seen := make(map[int]bool)
	var refs []Reference
	for _, m := range figureRef.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, Reference{Number: n, Caption: strings.TrimSpace(text[m[4]:m[5]]), Offset: m[0]})
	}
	return refs
}

// MatchToPaper labels each described image with the document's own figure
// number. When image and reference counts agree they are paired in order;
// otherwise pairs are chosen greedily by estimated page and caption overlap.
// Unmatched images are labelled by page.
func MatchToPaper(text string, figures []model.FigureDescription) []model.FigureDescription {
	if len(figures) == 0 {
		return nil
	}

	images := append([]model.FigureDescription(nil), figures...)
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].Page != images[j].Page {
			return images[i].Page < images[j].Page
		}
		return images[i].Index < images[j].Index
	})

	refs := FindReferences(text)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })

	for i := range images {
		images[i].Label = pageLabel(images[i].Page)
	}
	if len(refs) == 0 {
		return images
	}

	if len(images) == len(refs) {
		for i := range images {
			images[i].Label = figLabel(refs[i].Number)
		}
		return images
	}

	maxPage := 1
	for _, img := range images {
		if img.Page > maxPage {
			maxPage = img.Page
		}
	}
	total := len(text)
	if total == 0 {
		total = 1
	}
	for i := range refs {
		est := int(math.Round(float64(refs[i].Offset) / float64(total) * float64(maxPage)))
		if est < 1 {
			est = 1
		}
		refs[i].estPage = est
	}

	type pair struct {
		img, ref int
		score    float64
	}
	pairs := make([]pair, 0, len(images)*len(refs))
	for i, img := range images {
		for j, ref := range refs {
			pairs = append(pairs, pair{i, j, matchScore(img, ref)})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].score > pairs[b].score })

	usedImg := make(map[int]bool)
	usedRef := make(map[int]bool)
	for _, p := range pairs {
		if usedImg[p.img] || usedRef[p.ref] {
			continue
		}
		usedImg[p.img], usedRef[p.ref] = true, true
		images[p.img].Label = figLabel(refs[p.ref].Number)
	}
	return images
}

func matchScore(img model.FigureDescription, ref Reference) float64 {
	var score float64
	switch d := img.Page - ref.estPage; {
	case d == 0:
		score += 3.0
	case d == 1 || d == -1:
		score += 1.5
	default:
		score += 0.1
	}

	desc := strings.ToLower(img.Description)
	caption := strings.ToLower(ref.Caption)

	descTerms := make(map[string]bool)
	for _, w := range longWord.FindAllString(desc, -1) {
		descTerms[w] = true
	}
	captionTerms := make(map[string]bool)
	for _, w := range longWord.FindAllString(caption, -1) {
		captionTerms[w] = true
	}
	for w := range captionTerms {
		if descTerms[w] {
			score += 0.5
		}
	}

	for _, k := range keywordBonus {
		if strings.Contains(caption, k.keyword) && strings.Contains(desc, k.keyword) {
			score += k.bonus
		}
	}
	return score
}

func figLabel(n int) string     { return fmt.Sprintf("Fig. %d", n) }
func pageLabel(page int) string { return fmt.Sprintf("Image from Page %d", page) }

// Banner heads the figure block appended to extraction text
const Banner = "AI VISION ANALYSIS OF FIGURES IN THIS PAPER"

// Enrich appends the labelled figure descriptions to text. The result is
// only ever sent to extraction; grounding always runs on the original text.
func Enrich(text string, figures []model.FigureDescription) string {
	if len(figures) == 0 {
		return text
	}
	rule := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n" + rule + "\n" + Banner + "\n" + rule + "\n\n")
	for _, f := range figures {
		label := f.Label
		if label == "" {
			label = pageLabel(f.Page)
		}
		fmt.Fprintf(&b, "### %s (PDF Page %d)\nDescription: %s\n\n", label, f.Page, f.Description)
	}
	return b.String()
}
