// Package render writes run results as JSON, Markdown reports and enriched
// Markdown documents.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/grounder/internal/model"
)

// JSON writes v as indented JSON
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteJSON writes v as indented JSON to path, creating parent directories
func WriteJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error { return JSON(w, v) })
}

// WriteText writes s to path, creating parent directories
func WriteText(path, s string) error {
	return writeFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

var statusIcon = map[model.VerdictStatus]string{
	model.StatusSupported: "✓",
	model.StatusPartial:   "~",
	model.StatusNotFound:  "✗",
}

// Markdown renders a grounding report for human review
func Markdown(report *model.GroundingReport) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("# Grounding Report\n\n")
	fmt.Fprintf(&sb, "**Status:** %s  \n", report.OverallStatus)
	fmt.Fprintf(&sb, "**Score:** %.2f  \n", report.OverallScore)
	fmt.Fprintf(&sb, "**Record version:** %d  \n", report.RecordVersion)
	if report.JudgeSkipped {
		sb.WriteString("**Semantic review:** skipped  \n")
	}
	sb.WriteString("\n")

	c := report.Counts
	sb.WriteString("| Supported | Partial | Not found | Total |\n|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d |\n\n", c.Supported, c.Partial, c.NotFound, c.Total)

	if len(report.Verdicts) > 0 {
		sb.WriteString("## Claims\n\n")
		sb.WriteString("| | Path | Kind | Claim | Layer | Confidence | Reason |\n|---|---|---|---|---|---|---|\n")
		for _, v := range report.Verdicts {
			fmt.Fprintf(&sb, "| %s | `%s` | %s | %s | %s | %.2f | %s |\n",
				statusIcon[v.Status], v.Path, v.Kind, cell(v.Text, 160), v.Layer, v.Confidence, cell(v.Reason, 200))
		}
		sb.WriteString("\n")
	}

	if len(report.Signals) > 0 {
		sb.WriteString("## Signals\n\n")
		for _, s := range report.Signals {
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", s.Type, s.Severity, s.Description)
		}
		sb.WriteString("\n")
	}

	if len(report.Corrections) > 0 || report.CorrectionRounds > 0 {
		fmt.Fprintf(&sb, "## Self-Correction (%d rounds)\n\n", report.CorrectionRounds)
		for _, corr := range report.Corrections {
			switch corr.Action {
			case model.ActionCorrected:
				fmt.Fprintf(&sb, "- Round %d, `%s`: %q → %q\n", corr.Round, corr.Path, corr.Original, corr.Corrected)
			default:
				fmt.Fprintf(&sb, "- Round %d, `%s`: removed %q (deleted `%s`)\n", corr.Round, corr.Path, corr.Original, corr.Removed)
			}
		}
		if len(report.Uncorrected) > 0 {
			sb.WriteString("\nLeft for review:\n\n")
			for _, p := range report.Uncorrected {
				fmt.Fprintf(&sb, "- `%s`\n", p)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Summary prints a short report digest, e.g. to stderr
func Summary(w io.Writer, report *model.GroundingReport) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "Status: %s (score %.2f)\n", report.OverallStatus, report.OverallScore)
	fmt.Fprintf(w, "Claims: %d supported, %d partial, %d not found\n",
		report.Counts.Supported, report.Counts.Partial, report.Counts.NotFound)
	if len(report.Corrections) > 0 {
		fmt.Fprintf(w, "Corrections: %d in %d rounds\n", len(report.Corrections), report.CorrectionRounds)
	}
	for _, p := range report.Uncorrected {
		fmt.Fprintf(w, "  ✗ %s\n", p)
	}
}

func cell(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if len([]rune(s)) > max {
		s = string([]rune(s)[:max]) + "..."
	}
	return s
}

var blankRun = regexp.MustCompile(`\n{4,}`)

type replacement struct {
	start, end int
	text       string
}

// EnrichedMarkdown renders the document with each table inlined as HTML at
// its position and each figure description inserted where the image was.
// Figures without a position are listed at the end.
func EnrichedMarkdown(doc model.SourceDocument, figures []model.FigureDescription, name string, generated time.Time) string {
	text := doc.Text
	var reps []replacement

	for _, t := range doc.Tables {
		if t.HTML == "" || t.Start < 0 || t.End > len(text) || t.Start > t.End {
			continue
		}
		reps = append(reps, replacement{t.Start, t.End, "\n\n" + t.HTML + "\n\n"})
	}

	var unplaced []model.FigureDescription
	for _, f := range figures {
		if (f.Start <= 0 && f.End <= 0) || f.Start > len(text) {
			unplaced = append(unplaced, f)
			continue
		}
		reps = append(reps, replacement{f.Start, max(f.Start, min(f.End, len(text))), figureBlock(f)})
	}

	// apply back to front; a region overlapping one already applied is skipped
	sort.SliceStable(reps, func(i, j int) bool { return reps[i].start > reps[j].start })
	occupied := len(text) + 1
	for _, r := range reps {
		if r.end > occupied {
			continue
		}
		text = text[:r.start] + r.text + text[r.end:]
		occupied = r.start
	}

	if len(unplaced) > 0 {
		text += "\n\n## Figures\n"
		for _, f := range unplaced {
			text += figureBlock(f)
		}
	}
	text = blankRun.ReplaceAllString(text, "\n\n\n")

	title := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if title == "" || title == "." || title == "/" {
		title = "document"
	}
	header := fmt.Sprintf("# %s\n\n_Enriched document: tables as HTML, figures described by AI_  \n_Generated: %s_\n\n---\n\n",
		title, generated.Format("2006-01-02 15:04"))
	return header + strings.TrimSpace(text) + "\n"
}

func figureBlock(f model.FigureDescription) string {
	label := f.Label
	if label == "" {
		label = fmt.Sprintf("Figure %d", f.Index+1)
	}
	page := "?"
	if f.Page > 0 {
		page = fmt.Sprint(f.Page)
	}
	return fmt.Sprintf("\n\n---\n\n> 🖼️ **%s** *(Page %s)*\n>\n> %s\n\n---\n\n", label, page, f.Description)
}
