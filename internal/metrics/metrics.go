package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grounder"

// Recorder holds the run's counters on a private registry. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// LLMCalls counts model calls.
	// Labels: op (extract_chunk, synthesize, judge, correct, vision), outcome (ok, error)
	LLMCalls *prometheus.CounterVec

	// LLMDuration measures model call latency.
	// Labels: op
	LLMDuration *prometheus.HistogramVec

	// Tokens counts tokens reported by providers.
	// Labels: provider
	Tokens *prometheus.CounterVec

	// Verdicts counts grounding verdicts.
	// Labels: kind, status
	Verdicts *prometheus.CounterVec

	// Corrections counts applied corrections.
	// Labels: action (corrected, removed, rejected)
	Corrections *prometheus.CounterVec

	// Figures counts figure description outcomes.
	// Labels: outcome (described, not_a_figure, cached, failed)
	Figures *prometheus.CounterVec

	// Runs counts finished documents.
	// Labels: status (GROUNDED, PARTIALLY_GROUNDED, REVIEW_NEEDED, error)
	Runs *prometheus.CounterVec

	// Score records overall grounding scores.
	Score prometheus.Histogram
}

// New creates a Recorder on a fresh registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		LLMCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model calls by operation and outcome",
		}, []string{"op", "outcome"}),
		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Model call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		}, []string{"op"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by provider",
		}, []string{"provider"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Grounding verdicts by claim kind and status",
		}, []string{"kind", "status"}),
		Corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Self-correction outcomes by action",
		}, []string{"action"}),
		Figures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "figures_total",
			Help:      "Figure description outcomes",
		}, []string{"outcome"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processed documents by final status",
		}, []string{"status"}),
		Score: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "overall_score",
			Help:      "Overall grounding score per document",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveLLM records one model call
func (r *Recorder) ObserveLLM(op string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.LLMCalls.WithLabelValues(op, outcome).Inc()
	r.LLMDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// AddTokens records provider token usage
func (r *Recorder) AddTokens(provider string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Tokens.WithLabelValues(provider).Add(float64(n))
}

// ObserveVerdict records one verdict
func (r *Recorder) ObserveVerdict(kind, status string) {
	if r == nil {
		return
	}
	r.Verdicts.WithLabelValues(kind, status).Inc()
}

// ObserveCorrection records one correction outcome
func (r *Recorder) ObserveCorrection(action string) {
	if r == nil {
		return
	}
	r.Corrections.WithLabelValues(action).Inc()
}

// ObserveFigure records one figure outcome
func (r *Recorder) ObserveFigure(outcome string) {
	if r == nil {
		return
	}
	r.Figures.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished document
func (r *Recorder) ObserveRun(status string, score float64) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(status).Inc()
	if status != "error" {
		r.Score.Observe(score)
	}
}

// WriteTextfile writes all metrics in the node_exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
