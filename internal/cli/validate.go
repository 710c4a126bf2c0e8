package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/pipeline"
	"github.com/ppiankov/grounder/internal/schema"
	"github.com/spf13/cobra"
)

var correctRecord bool

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <record.json> <source>",
	Short: "Ground an existing record against its source document",
	Long: `Validate checks every claim in a record produced earlier (by grounder or any
other tool) against the source document, without extracting again.

The record file may hold the bare record object, a {"version", "data"}
envelope, or the JSON output of grounder run.

Example:
  grounder validate record.json paper.pdf --workflow summary
  grounder validate grounding.json paper.pdf --skip-judge --md report.md
  grounder validate record.json paper.pdf --correct --json corrected.json`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	addEngineFlags(validateCmd)
	validateCmd.Flags().BoolVar(&correctRecord, "correct", false, "run self-correction on ungrounded claims")
	validateCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	validateCmd.Flags().StringVar(&outMD, "md", "", "output Markdown report path (optional)")
	validateCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runValidate(cmd *cobra.Command, args []string) error {
	rec, err := readRecord(args[0])
	if err != nil {
		return err
	}
	wf, err := model.ResolveWorkflow(workflowRef)
	if err != nil {
		return err
	}
	// figures only feed extraction
	noFigures = true
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "⚙️  Grounding %s against %s\n", args[0], args[1])
	res, err := s.pipeline.Ground(ctx, pipeline.GroundRequest{
		Source:   args[1],
		Record:   rec,
		Workflow: *wf,
		Correct:  correctRecord,
	})
	if err != nil {
		return fmt.Errorf("validate failed: %w", err)
	}

	reportProgress(res)
	return writeOutputs(res, outJSON, outMD, "")
}

// readRecord loads a record from JSON. Output of grounder run is unwrapped to
// its final record; a bare object becomes version 1.
func readRecord(path string) (model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Record{}, fmt.Errorf("read record: %w", err)
	}
	obj, err := schema.ParseObject(string(data))
	if err != nil {
		return model.Record{}, fmt.Errorf("parse record %s: %w", path, err)
	}

	if inner, ok := obj["record"].(map[string]any); ok {
		obj = inner
	}
	if d, ok := obj["data"].(map[string]any); ok {
		if v, ok := obj["version"].(float64); ok && len(obj) == 2 {
			return model.Record{Version: int(v), Data: d}, nil
		}
	}
	return model.Record{Version: 1, Data: obj}, nil
}
