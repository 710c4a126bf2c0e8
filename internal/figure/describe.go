package figure

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/grounder/internal/cache"
	"github.com/ppiankov/grounder/internal/llm"
	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/metrics"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

// NotAFigure is the sentinel the vision model answers for icons, logos and
// other images without data
const NotAFigure = "NOT_A_FIGURE"

const visionSystemPrompt = "You are a biomedical research assistant. Describe the figure/diagram/graph in detail. " +
	"Include all data points, labels, axes, relationships, and conclusions that can be drawn. " +
	"Be precise with numbers and terminology. If the image is not a scientific figure " +
	"(e.g. it is an icon, logo, geometric shape, or decorative element with no data or labels), say exactly: '" + NotAFigure + "'."

// Options configures a Describer
type Options struct {
	Workers  int           // concurrent vision calls, default 6
	CacheTTL time.Duration // zero keeps the cache's default
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
}

// Describer turns candidate images into text descriptions with a vision model.
// Descriptions are cached per document and image index, including the
// not-a-figure answers, so a document is only described once.
type Describer struct {
	provider llm.Provider
	cache    cache.Cache
	opts     Options
	log      *zap.Logger
}

// NewDescriber creates a describer. c may be nil to disable caching.
func NewDescriber(p llm.Provider, c cache.Cache, opts Options) *Describer {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	return &Describer{provider: p, cache: c, opts: opts, log: logging.OrNop(opts.Logger)}
}

// cached is what the cache holds per image
type cached struct {
	Skip        bool   `json:"skip"`
	Description string `json:"description,omitempty"`
}

// DescribeAll describes images in parallel and returns the real figures
// ordered by image index. Images whose description fails twice are left out.
func (d *Describer) DescribeAll(ctx context.Context, docID string, images []model.FigureImage) []model.FigureDescription {
	if len(images) == 0 {
		return nil
	}

	slots := make([]*model.FigureDescription, len(images))
	_ = worker.ForEach(ctx, d.opts.Workers, len(images), func(ctx context.Context, i int) error {
		slots[i] = d.describe(ctx, docID, images[i])
		return nil
	})

	var out []model.FigureDescription
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	d.log.Info("figures described", zap.String("doc_id", docID), zap.Int("images", len(images)), zap.Int("figures", len(out)))
	return out
}

func (d *Describer) describe(ctx context.Context, docID string, img model.FigureImage) *model.FigureDescription {
	if len(img.Data) == 0 {
		return nil
	}

	key := cache.FigureKey(docID, img.Index)
	if docID != "" {
		var hit cached
		if cache.GetJSON(d.cache, key, &hit) {
			d.opts.Metrics.ObserveFigure("cached")
			if hit.Skip {
				return nil
			}
			return &model.FigureDescription{Index: img.Index, Page: img.Page, Description: hit.Description, Start: img.Start, End: img.End}
		}
	}

	prompt := "Describe this figure from a scientific paper in detail."
	if img.Alt != "" {
		prompt += " Caption: " + img.Alt
	}
	req := llm.CompletionRequest{
		Op:          llm.OpVision,
		System:      visionSystemPrompt,
		Prompt:      prompt,
		Images:      []model.FigureImage{img},
		MaxTokens:   1000,
		Temperature: 0.2,
	}

	var text string
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var resp *llm.CompletionResponse
		resp, err = d.provider.Complete(ctx, req)
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			text = strings.TrimSpace(resp.Text)
			break
		}
		if err == nil {
			err = llm.ErrNoContent
		}
		if ctx.Err() != nil {
			break
		}
	}
	if text == "" {
		d.log.Warn("figure description failed",
			zap.Int("image", img.Index),
			zap.Int("page", img.Page),
			zap.Error(err))
		d.opts.Metrics.ObserveFigure("failed")
		return nil
	}

	entry := cached{Description: text}
	if strings.Contains(text, NotAFigure) {
		entry = cached{Skip: true}
	}
	if docID != "" {
		if err := cache.SetJSON(d.cache, key, entry, d.opts.CacheTTL); err != nil {
			d.log.Warn("figure cache write failed", zap.Error(err))
		}
	}

	if entry.Skip {
		d.log.Debug("image is not a figure", zap.Int("image", img.Index), zap.Int("page", img.Page))
		d.opts.Metrics.ObserveFigure("not_a_figure")
		return nil
	}
	d.opts.Metrics.ObserveFigure("described")
	return &model.FigureDescription{Index: img.Index, Page: img.Page, Description: text, Start: img.Start, End: img.End}
}
