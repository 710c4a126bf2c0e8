package llm

import (
	"context"
	"time"

	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/metrics"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

// rateLimited paces calls through a shared limiter keyed by provider name
type rateLimited struct {
	Provider
	limiter *worker.Limiter
}

// WithRateLimit wraps p so every call waits on limiter first
func WithRateLimit(p Provider, limiter *worker.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &rateLimited{Provider: p, limiter: limiter}
}

func (r *rateLimited) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx, r.Name()); err != nil {
		return nil, err
	}
	return r.Provider.Complete(ctx, req)
}

// instrumented records call outcomes, latency and token usage
type instrumented struct {
	Provider
	rec *metrics.Recorder
	log *zap.Logger
}

// WithMetrics wraps p so every call is observed by rec and logged at debug level
func WithMetrics(p Provider, rec *metrics.Recorder, log *zap.Logger) Provider {
	return &instrumented{Provider: p, rec: rec, log: logging.OrNop(log)}
}

func (m *instrumented) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := m.Provider.Complete(ctx, req)
	elapsed := time.Since(start)

	m.rec.ObserveLLM(req.Op, elapsed, err)
	if err != nil {
		m.log.Debug("llm call failed", zap.String("op", req.Op), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}
	m.rec.AddTokens(m.Name(), resp.TokensUsed)
	m.log.Debug("llm call",
		zap.String("op", req.Op),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.TokensUsed),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}
