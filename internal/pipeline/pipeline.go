package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/grounder/internal/cache"
	"github.com/ppiankov/grounder/internal/chunk"
	"github.com/ppiankov/grounder/internal/correct"
	"github.com/ppiankov/grounder/internal/figure"
	"github.com/ppiankov/grounder/internal/judge"
	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/metrics"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/schema"
	"github.com/ppiankov/grounder/internal/source"
	"github.com/ppiankov/grounder/internal/validate"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

// Stage names the part of a run that failed
type Stage string

const (
	StageParsing    Stage = "parsing"
	StageExtraction Stage = "extraction"
	StageSynthesis  Stage = "synthesis"
)

// StageError is a run failure attributed to a stage
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options supplies collaborators. Zero values are built from the config.
type Options struct {
	Provider llm.Provider // overrides the configured provider
	Cache    cache.Cache  // figure descriptions; defaults to figures.cache_dir
	Metrics  *metrics.Recorder
	Logger   *zap.Logger
}

// Pipeline orchestrates a complete run: parse, describe figures, extract,
// validate and correct
type Pipeline struct {
	provider  llm.Provider
	registry  *source.Registry
	fetcher   *source.Fetcher
	describer *figure.Describer
	config    model.Config
	metrics   *metrics.Recorder
	log       *zap.Logger
}

// New creates a pipeline. The provider is rate limited per
// llm.requests_per_second and observed by the metrics recorder.
func New(cfg model.Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logging.OrNop(opts.Logger)

	provider := opts.Provider
	if provider == nil {
		llmConfig := llm.ConfigFromModel(cfg.LLM, cfg.HTTP)
		llmConfig.Logger = log
		p, err := llm.NewProvider(llmConfig)
		if err != nil {
			return nil, fmt.Errorf("initialize LLM provider: %w", err)
		}
		provider = p
	}
	provider = llm.WithRateLimit(provider, worker.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst))
	provider = llm.WithMetrics(provider, opts.Metrics, log)

	p := &Pipeline{
		provider: provider,
		registry: source.NewRegistry(),
		fetcher:  source.NewFetcher(cfg.HTTP, log),
		config:   cfg,
		metrics:  opts.Metrics,
		log:      log,
	}

	if cfg.Figures.Enabled {
		c := opts.Cache
		if c == nil {
			c = cache.New(cfg.Figures.CacheDir, cfg.Figures.CacheTTL)
		}
		p.describer = figure.NewDescriber(provider, c, figure.Options{
			Workers:  cfg.Figures.Workers,
			CacheTTL: cfg.Figures.CacheTTL,
			Logger:   log,
			Metrics:  opts.Metrics,
		})
	}
	return p, nil
}

// RunRequest describes one document run. Either Source (a file path or
// http(s) URL) or Document must be set.
type RunRequest struct {
	Source    string
	Document  *model.SourceDocument
	Images    []model.FigureImage // figure candidates for Document
	Workflow  model.Workflow
	SkipJudge bool // in addition to grounding.skip_judge
}

// RunResult is the outcome of a successful run
type RunResult struct {
	RunID     string                    `json:"run_id"`
	Source    string                    `json:"source,omitempty"`
	Format    string                    `json:"format,omitempty"`
	Workflow  string                    `json:"workflow,omitempty"`
	Document  model.SourceDocument      `json:"-"`
	Figures   []model.FigureDescription `json:"figures,omitempty"`
	Draft     model.Record              `json:"draft"`
	Record    model.Record              `json:"record"`
	Report    *model.GroundingReport    `json:"grounding"`
	Chunks    int                       `json:"chunks"`
	Degraded  []int                     `json:"degraded_chunks,omitempty"`
	StartedAt time.Time                 `json:"started_at"`
	Elapsed   time.Duration             `json:"elapsed"`
}

// Run executes the workflow on one document. Extraction reads the text
// enriched with figure descriptions; grounding always checks against the
// original text.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	return p.observe(req.Source, req.Workflow.Name, func(res *RunResult, log *zap.Logger) error {
		return p.run(ctx, req, res, log)
	})
}

// GroundRequest describes grounding an existing record. Extraction is
// skipped; self-correction runs only when Correct is set.
type GroundRequest struct {
	Source    string
	Document  *model.SourceDocument
	Record    model.Record
	Workflow  model.Workflow
	SkipJudge bool
	Correct   bool
}

// Ground validates an existing record against its source document
func (p *Pipeline) Ground(ctx context.Context, req GroundRequest) (*RunResult, error) {
	return p.observe(req.Source, req.Workflow.Name, func(res *RunResult, log *zap.Logger) error {
		doc, _, err := p.document(ctx, req.Source, req.Document, res)
		if err != nil {
			return err
		}
		s, err := schema.Compile(req.Workflow.Schema)
		if err != nil {
			return fmt.Errorf("workflow %q: %w", req.Workflow.Name, err)
		}
		rec := req.Record
		if rec.Version == 0 {
			rec.Version = 1
		}
		res.Draft, res.Record = rec, rec
		return p.ground(ctx, s, req.Workflow, doc, req.SkipJudge, req.Correct, res, log)
	})
}

func (p *Pipeline) observe(src, workflow string, fn func(*RunResult, *zap.Logger) error) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Source:    src,
		Workflow:  workflow,
		StartedAt: time.Now().UTC(),
	}
	log := p.log.With(zap.String("run_id", res.RunID))

	err := fn(res, log)
	res.Elapsed = time.Since(res.StartedAt)
	if err != nil {
		p.metrics.ObserveRun("error", 0)
		log.Warn("run failed", zap.Error(err), zap.Duration("elapsed", res.Elapsed))
		return nil, err
	}

	for _, v := range res.Report.Verdicts {
		p.metrics.ObserveVerdict(string(v.Kind), string(v.Status))
	}
	p.metrics.ObserveRun(string(res.Report.OverallStatus), res.Report.OverallScore)
	log.Info("run complete",
		zap.String("status", string(res.Report.OverallStatus)),
		zap.Float64("score", res.Report.OverallScore),
		zap.Int("claims", res.Report.Counts.Total),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// document resolves the source document and its figure candidates
func (p *Pipeline) document(ctx context.Context, src string, given *model.SourceDocument, res *RunResult) (model.SourceDocument, []model.FigureImage, error) {
	var doc model.SourceDocument
	var images []model.FigureImage
	switch {
	case given != nil:
		doc = *given
		if doc.ID == "" {
			doc.ID = source.DocumentID([]byte(doc.Text))
		}
	case src != "":
		parsed, err := p.Load(ctx, src)
		if err != nil {
			return doc, nil, &StageError{Stage: StageParsing, Err: err}
		}
		doc, images, res.Format = parsed.Document, parsed.Images, parsed.Format
	default:
		return doc, nil, &StageError{Stage: StageParsing, Err: errors.New("no source document")}
	}
	if strings.TrimSpace(doc.Text) == "" {
		return doc, nil, &StageError{Stage: StageParsing, Err: errors.New("source document is empty")}
	}
	res.Document = doc
	return doc, images, nil
}

func (p *Pipeline) run(ctx context.Context, req RunRequest, res *RunResult, log *zap.Logger) error {
	doc, images, err := p.document(ctx, req.Source, req.Document, res)
	if err != nil {
		return err
	}
	if req.Document != nil {
		images = req.Images
	}

	s, err := schema.Compile(req.Workflow.Schema)
	if err != nil {
		return fmt.Errorf("workflow %q: %w", req.Workflow.Name, err)
	}

	extractDoc := doc
	if p.describer != nil && len(images) > 0 {
		described := p.describer.DescribeAll(ctx, doc.ID, images)
		res.Figures = figure.MatchToPaper(doc.Text, described)
		extractDoc.Text = figure.Enrich(doc.Text, res.Figures)
	}

	orchestrator := chunk.New(p.provider, chunk.Options{
		ChunkChars:      p.config.Chunking.ChunkChars,
		SinglePassChars: p.config.Chunking.SinglePassChars,
		Workers:         p.config.Chunking.Workers,
		Logger:          log,
	})
	extracted, err := orchestrator.Extract(ctx, extractDoc, s, req.Workflow.PromptTemplate)
	if err != nil {
		if errors.Is(err, chunk.ErrSynthesis) {
			return &StageError{Stage: StageSynthesis, Err: err}
		}
		return &StageError{Stage: StageExtraction, Err: err}
	}
	res.Draft, res.Record = extracted.Record, extracted.Record
	res.Chunks, res.Degraded = extracted.Chunks, extracted.Degraded

	return p.ground(ctx, s, req.Workflow, doc, req.SkipJudge, true, res, log)
}

// ground validates res.Record against doc and, when allowed and the score
// falls below grounding.accept_score, runs self-correction
func (p *Pipeline) ground(ctx context.Context, s *schema.Schema, wf model.Workflow, doc model.SourceDocument, skip, allowCorrect bool, res *RunResult, log *zap.Logger) error {
	g := p.config.Grounding
	skipJudge := skip || g.SkipJudge
	var j *judge.Judge
	if !skipJudge {
		j = judge.New(p.provider, judge.Options{Workers: g.JudgeWorkers, ExcerptChars: g.JudgeExcerptChars, Logger: log})
	}
	vcfg := validate.ConfigFromModel(g, wf.ClaimRules())
	vcfg.Logger = log
	validator := validate.New(s, j, vcfg)

	report, err := validator.Validate(ctx, res.Record, doc, validate.Options{SkipJudge: skipJudge})
	if err != nil {
		return &StageError{Stage: StageSynthesis, Err: err}
	}
	res.Report = report

	if !allowCorrect || report.OverallScore >= g.AcceptScore || g.MaxRounds == 0 {
		return nil
	}
	corrector := correct.New(p.provider, validator, correct.Options{
		MaxRounds:    g.MaxRounds,
		ExcerptChars: g.JudgeExcerptChars,
		Logger:       log,
		Metrics:      p.metrics,
	})
	outcome, err := corrector.Correct(ctx, res.Record, report, doc)
	if err != nil {
		return fmt.Errorf("self-correction: %w", err)
	}
	res.Record, res.Report = outcome.Record, outcome.Report
	return nil
}

// Load reads and parses a file path or http(s) URL
func (p *Pipeline) Load(ctx context.Context, src string) (*source.Parsed, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		fetched, err := p.fetcher.FetchWithRetry(ctx, src)
		if err != nil {
			return nil, err
		}
		return p.registry.Parse(ctx, fetched.Name, fetched.ContentType, fetched.Data)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return p.registry.Parse(ctx, src, "", data)
}

// GroundingOptions tunes RunWorkflow. Zero values keep the defaults.
type GroundingOptions struct {
	SkipJudge      bool
	MaxRounds      int
	QuoteThreshold float64
	Logger         *zap.Logger
}

// RunWorkflow extracts a record from text with the given schema and prompt
// template and grounds it against the same text
func RunWorkflow(ctx context.Context, provider llm.Provider, text string, sections []model.Section, schemaDef map[string]any, promptTemplate string, opts GroundingOptions) (model.Record, *model.GroundingReport, error) {
	cfg := model.DefaultConfig()
	cfg.Figures.Enabled = false
	cfg.LLM.RequestsPerSecond = 0
	cfg.Grounding.SkipJudge = opts.SkipJudge
	if opts.MaxRounds > 0 {
		cfg.Grounding.MaxRounds = opts.MaxRounds
	}
	if opts.QuoteThreshold > 0 {
		cfg.Grounding.QuoteThreshold = opts.QuoteThreshold
	}

	p, err := New(cfg, Options{Provider: provider, Logger: opts.Logger})
	if err != nil {
		return model.Record{}, nil, err
	}
	doc := model.SourceDocument{Text: text, Sections: sections}
	res, err := p.Run(ctx, RunRequest{
		Document: &doc,
		Workflow: model.Workflow{Schema: schemaDef, PromptTemplate: promptTemplate},
	})
	if err != nil {
		return model.Record{}, nil, err
	}
	return res.Record, res.Report, nil
}
