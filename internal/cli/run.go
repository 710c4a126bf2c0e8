package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/grounder/internal/metrics"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/pipeline"
	"github.com/ppiankov/grounder/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workflowRef string
	outJSON     string
	outMD       string
	outEnriched string
	runTimeout  time.Duration
	noFigures   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Extract a grounded record from one document",
	Long: `Run parses a document (PDF, HTML, Markdown, spreadsheet or plain text, from
a file or an http(s) URL) and then:
- Describes figures with a vision model and adds the descriptions to the extraction input
- Extracts a structured record, section by section for long documents
- Verifies numbers and quotes against the source text
- Asks a model judge whether other assertions are supported
- Corrects or removes ungrounded claims and validates again

Example:
  grounder run paper.pdf
  grounder run paper.pdf --workflow summary --md report.md
  grounder run https://example.org/trial.html --workflow ./my-workflow.yaml --skip-judge`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// flags shared by run, validate and batch that map onto config keys
var engineFlagKeys = map[string]string{
	"llm.provider":         "provider",
	"llm.model":            "model",
	"grounding.skip_judge": "skip-judge",
	"grounding.max_rounds": "max-rounds",
	"output.metrics_file":  "metrics-file",
	"http.respect_robots":  "respect-robots",
}

func addEngineFlags(cmd *cobra.Command) {
	defaults := model.DefaultConfig()
	cmd.Flags().StringVarP(&workflowRef, "workflow", "w", "", fmt.Sprintf("workflow file or built-in name (default %q)", model.DefaultWorkflow))
	cmd.Flags().String("provider", defaults.LLM.Provider, "LLM provider (openai, azure, anthropic, ollama)")
	cmd.Flags().String("model", defaults.LLM.Model, "LLM model name")
	cmd.Flags().Bool("skip-judge", false, "skip the semantic judge (numbers and quotes only)")
	cmd.Flags().Int("max-rounds", defaults.Grounding.MaxRounds, "self-correction rounds (0 disables)")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().Bool("respect-robots", defaults.HTTP.RespectRobots, "honor robots.txt for URL sources")
}

func init() {
	rootCmd.AddCommand(runCmd)

	addEngineFlags(runCmd)
	runCmd.Flags().StringVar(&outJSON, "json", "grounding.json", "output JSON path (record, draft and grounding report)")
	runCmd.Flags().StringVar(&outMD, "md", "", "output Markdown report path (optional)")
	runCmd.Flags().StringVar(&outEnriched, "enriched", "", "output enriched Markdown document path (optional)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall run timeout")
	runCmd.Flags().BoolVar(&noFigures, "no-figures", false, "skip figure descriptions")
}

// session holds what every engine command needs
type session struct {
	cfg      model.Config
	pipeline *pipeline.Pipeline
	metrics  *metrics.Recorder
	log      *zap.Logger
}

func newSession(cmd *cobra.Command) (*session, error) {
	if err := bindFlags(cmd.Flags(), engineFlagKeys); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	if noFigures {
		cfg.Figures.Enabled = false
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	rec := metrics.New()
	p, err := pipeline.New(cfg, pipeline.Options{Metrics: rec, Logger: log})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, pipeline: p, metrics: rec, log: log}, nil
}

// close exports metrics when configured and flushes the logger
func (s *session) close() {
	if path := s.cfg.Output.MetricsFile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		} else if s.cfg.Output.Verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote metrics: %s\n", path)
		}
	}
	_ = s.log.Sync()
}

func runRun(cmd *cobra.Command, args []string) error {
	src := args[0]
	wf, err := model.ResolveWorkflow(workflowRef)
	if err != nil {
		return err
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "⚙️  Running workflow %s on %s\n", wf.Name, src)
	res, err := s.pipeline.Run(ctx, pipeline.RunRequest{Source: src, Workflow: *wf})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	reportProgress(res)
	if err := writeOutputs(res, outJSON, outMD, outEnriched); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return nil
}

func reportProgress(res *pipeline.RunResult) {
	if res.Format != "" {
		fmt.Fprintf(os.Stderr, "✓ Parsed %s document (%d sections, %d tables)\n", res.Format, len(res.Document.Sections), len(res.Document.Tables))
	}
	if len(res.Figures) > 0 {
		fmt.Fprintf(os.Stderr, "✓ Described %d figures\n", len(res.Figures))
	}
	if res.Chunks > 0 {
		fmt.Fprintf(os.Stderr, "✓ Extracted record from %d chunk(s)\n", res.Chunks)
	}
	if len(res.Degraded) > 0 {
		fmt.Fprintf(os.Stderr, "✗ %d chunk(s) failed extraction and were skipped: %v\n", len(res.Degraded), res.Degraded)
	}
	fmt.Fprintln(os.Stderr)
	render.Summary(os.Stderr, res.Report)
	fmt.Fprintln(os.Stderr)
}

func writeOutputs(res *pipeline.RunResult, jsonPath, mdPath, enrichedPath string) error {
	if jsonPath != "" {
		if err := render.WriteJSON(jsonPath, res); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", jsonPath)
	}
	if mdPath != "" {
		if err := render.WriteText(mdPath, render.Markdown(res.Report)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", mdPath)
	}
	if enrichedPath != "" {
		if err := render.WriteText(enrichedPath, render.EnrichedMarkdown(res.Document, res.Figures, res.Source, time.Now())); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", enrichedPath)
	}
	return nil
}
