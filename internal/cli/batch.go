package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/pipeline"
	"github.com/ppiankov/grounder/internal/worker"
	"github.com/spf13/cobra"
)

var (
	concurrency   int
	outputDir     string
	batchTimeout  time.Duration
	batchEnriched bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run a workflow over many documents in parallel",
	Long: `Batch runs one workflow over every source listed in a file:
- One file path or http(s) URL per line; blank lines and # comments are skipped
- Documents are processed in parallel with a configurable worker count
- Model calls from all workers share the llm.requests_per_second budget
- A JSON result and a Markdown report are written per document

Example:
  grounder batch papers.txt
  grounder batch papers.txt --concurrency 4 --output-dir ./reports
  grounder batch papers.txt --workflow summary --skip-judge --timeout 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addEngineFlags(batchCmd)
	batchCmd.Flags().IntVar(&concurrency, "concurrency", min(runtime.NumCPU(), 4), "number of documents processed at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./grounder-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&noFigures, "no-figures", false, "skip figure descriptions")
	batchCmd.Flags().BoolVar(&batchEnriched, "enriched", false, "also write an enriched Markdown document per source")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	wf, err := model.ResolveWorkflow(workflowRef)
	if err != nil {
		return err
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  grounder batch\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workflow:     %s\n", wf.Name)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", s.cfg.LLM.Provider, s.cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := worker.NewBatchProcessor[*pipeline.RunResult](
		worker.ProcessorFunc[*pipeline.RunResult](func(ctx context.Context, src string) (*pipeline.RunResult, error) {
			return s.pipeline.Run(ctx, pipeline.RunRequest{Source: src, Workflow: *wf})
		}),
		concurrency,
	)

	fmt.Fprintf(os.Stderr, "⚙️  Processing sources with %d workers...\n\n", concurrency)
	items, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	successCount, failureCount := 0, 0
	names := make(map[string]int)
	for _, item := range items {
		if item.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", item.Input, item.Error)
			continue
		}

		slug := uniqueName(names, sanitizeFilename(item.Input))
		jsonPath := filepath.Join(outputDir, slug+".json")
		mdPath := filepath.Join(outputDir, slug+".md")
		enrichedPath := ""
		if batchEnriched {
			enrichedPath = filepath.Join(outputDir, slug+".enriched.md")
		}
		if err := writeOutputs(item.Result, jsonPath, mdPath, enrichedPath); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", item.Input, err)
			continue
		}

		successCount++
		r := item.Result.Report
		fmt.Fprintf(os.Stderr, "✓ %s (%s, score %.2f)\n", item.Input, r.OverallStatus, r.OverallScore)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d sources\n", len(items))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 && successCount == 0 {
		return fmt.Errorf("all %d sources failed", failureCount)
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
)

// sanitizeFilename turns a path or URL into a file name stem
func sanitizeFilename(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	s = filepath.Base(strings.TrimRight(s, "/"))
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = filenameReplacer.Replace(s)
	s = strings.Trim(s, "._-")

	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "document"
	}
	return s
}

// uniqueName appends -2, -3... to repeated stems
func uniqueName(seen map[string]int, stem string) string {
	seen[stem]++
	if n := seen[stem]; n > 1 {
		return fmt.Sprintf("%s-%d", stem, n)
	}
	return stem
}
