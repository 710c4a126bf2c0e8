package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/schema"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

var (
	// ErrExtraction is returned when no usable extraction came back
	ErrExtraction = errors.New("extraction failed")

	// ErrSynthesis is returned when the merged record is malformed or off-schema
	ErrSynthesis = errors.New("synthesis failed")
)

const systemPrompt = "You are a meticulous research assistant extracting structured data from scientific documents. Return valid JSON only."

const synthesisTemplate = `You are given multiple partial analyses of different sections of the same document.
Merge them into ONE final comprehensive JSON output using the exact schema below.

Rules:
- Combine every list from all sections, removing duplicates but keeping all unique information.
- Write single cohesive summary fields that cover the entire document.
- Copy numbers, statistics and quotes exactly as they appear in the partial analyses. Never invent values.
- Where partial analyses disagree on a single-valued field, prefer the most specific value.
- For figures and tables, use the document's OWN numbering (Figure 1, Table 2). Do not invent numbers that do not exist.
- Return JSON only (no markdown).

SCHEMA:
%s

PARTIAL ANALYSES:
%s`

// Options configures the orchestrator
type Options struct {
	ChunkChars      int // per-chunk budget, default 6000
	SinglePassChars int // documents shorter than this skip chunking, default ChunkChars
	Workers         int // concurrent chunk calls, default 4
	Logger          *zap.Logger
}

// Result is the outcome of an extraction
type Result struct {
	Record   model.Record
	Chunks   int
	Degraded []int // chunk indices that produced no usable partial
	Elapsed  time.Duration
}

// Orchestrator turns a source document into one schema-conformant record
type Orchestrator struct {
	provider llm.Provider
	opts     Options
	log      *zap.Logger
}

// New creates an orchestrator
func New(p llm.Provider, opts Options) *Orchestrator {
	if opts.ChunkChars <= 0 {
		opts.ChunkChars = 6000
	}
	if opts.SinglePassChars <= 0 {
		opts.SinglePassChars = opts.ChunkChars
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Orchestrator{provider: p, opts: opts, log: logging.OrNop(opts.Logger)}
}

// FillTemplate substitutes the {schema_json} and {text} placeholders
func FillTemplate(template, schemaJSON, text string) string {
	return strings.NewReplacer("{schema_json}", schemaJSON, "{text}", text).Replace(template)
}

// Extract produces a record from doc. Short documents take a single call;
// longer ones are chunked, extracted in parallel and synthesized.
func (o *Orchestrator) Extract(ctx context.Context, doc model.SourceDocument, s *schema.Schema, promptTemplate string) (*Result, error) {
	start := time.Now()

	chunks := Split(doc, o.opts.ChunkChars)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document has no text", ErrExtraction)
	}

	if len(doc.Text) < o.opts.SinglePassChars || len(chunks) == 1 {
		data, err := o.singlePass(ctx, doc.Text, s, promptTemplate)
		if err != nil {
			return nil, err
		}
		return &Result{Record: model.Record{Version: 1, Data: data}, Chunks: 1, Elapsed: time.Since(start)}, nil
	}

	relaxed, err := s.Relaxed()
	if err != nil {
		return nil, fmt.Errorf("relax schema: %w", err)
	}

	o.log.Info("extracting in chunks", zap.Int("chunks", len(chunks)), zap.Int("workers", o.opts.Workers))

	partials := make([]map[string]any, len(chunks))
	_ = worker.ForEach(ctx, o.opts.Workers, len(chunks), func(ctx context.Context, i int) error {
		partials[i] = o.extractChunk(ctx, chunks[i], len(chunks), relaxed, promptTemplate)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		degraded []int
		inputs   []sectionOutput
	)
	for i, p := range partials {
		if len(p) == 0 {
			degraded = append(degraded, i)
			continue
		}
		inputs = append(inputs, sectionOutput{Section: chunks[i].Heading(), Output: p})
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: all %d chunks failed", ErrExtraction, len(chunks))
	}

	data, err := o.synthesize(ctx, s, inputs)
	if err != nil {
		return nil, err
	}

	return &Result{
		Record:   model.Record{Version: 1, Data: data},
		Chunks:   len(chunks),
		Degraded: degraded,
		Elapsed:  time.Since(start),
	}, nil
}

type sectionOutput struct {
	Section string         `json:"section"`
	Output  map[string]any `json:"output"`
}

func (o *Orchestrator) singlePass(ctx context.Context, text string, s *schema.Schema, promptTemplate string) (map[string]any, error) {
	req := llm.CompletionRequest{
		Op:     llm.OpExtract,
		System: systemPrompt,
		Prompt: FillTemplate(promptTemplate, s.JSON(), text),
	}
	data, err := o.completeValid(ctx, req, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return data, nil
}

// extractChunk returns the chunk's partial record, or an empty one when both
// attempts fail
func (o *Orchestrator) extractChunk(ctx context.Context, c model.Chunk, total int, relaxed *schema.Schema, promptTemplate string) map[string]any {
	header := fmt.Sprintf("This is section '%s' (part %d of %d from the full paper).", c.Heading(), c.Index+1, total)
	req := llm.CompletionRequest{
		Op:     llm.OpExtractChunk,
		System: systemPrompt,
		Prompt: header + "\n\n" + FillTemplate(promptTemplate, relaxed.JSON(), c.Text),
	}

	data, err := o.completeValid(ctx, req, relaxed)
	if err != nil {
		o.log.Warn("chunk extraction degraded to empty partial",
			zap.Int("chunk", c.Index),
			zap.String("heading", c.Heading()),
			zap.Error(err))
		return map[string]any{}
	}
	o.log.Debug("chunk extracted", zap.Int("chunk", c.Index), zap.Int("fields", len(data)))
	return data
}

func (o *Orchestrator) synthesize(ctx context.Context, s *schema.Schema, inputs []sectionOutput) (map[string]any, error) {
	partials, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode partials: %v", ErrSynthesis, err)
	}
	req := llm.CompletionRequest{
		Op:     llm.OpSynthesize,
		System: systemPrompt,
		Prompt: fmt.Sprintf(synthesisTemplate, s.JSON(), partials),
	}
	data, err := o.completeValid(ctx, req, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	return data, nil
}

// completeValid makes up to two attempts at a JSON object that satisfies s.
// An empty object counts as a failed attempt.
func (o *Orchestrator) completeValid(ctx context.Context, req llm.CompletionRequest, s *schema.Schema) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		var data map[string]any
		err := llm.CompleteJSON(ctx, o.provider, req, &data, 1)
		switch {
		case err != nil:
		case len(data) == 0:
			err = errors.New("empty JSON object")
		default:
			data = schema.Sanitize(data, s.Raw())
			err = s.Validate(data)
		}
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		o.log.Debug("model output rejected", zap.String("op", req.Op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}
