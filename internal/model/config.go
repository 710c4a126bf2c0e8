package model

import (
	"fmt"
	"time"
)

// Config holds the full grounder configuration
type Config struct {
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking" mapstructure:"chunking"`
	Grounding GroundingConfig `yaml:"grounding" mapstructure:"grounding"`
	Figures   FigureConfig    `yaml:"figures" mapstructure:"figures"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// LLMConfig configures the model provider
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // openai, azure, anthropic, ollama
	Model             string  `yaml:"model" mapstructure:"model"`
	VisionModel       string  `yaml:"vision_model,omitempty" mapstructure:"vision_model"`
	APIKey            string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIVersion        string  `yaml:"api_version,omitempty" mapstructure:"api_version"` // azure only
	Timeout           int     `yaml:"timeout" mapstructure:"timeout"`                   // seconds, per call
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ChunkingConfig configures the chunk orchestrator
type ChunkingConfig struct {
	ChunkChars      int `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	SinglePassChars int `yaml:"single_pass_chars" mapstructure:"single_pass_chars"`
	Workers         int `yaml:"workers" mapstructure:"workers"`
}

// GroundingConfig configures validation and self-correction
type GroundingConfig struct {
	QuoteThreshold    float64 `yaml:"quote_threshold" mapstructure:"quote_threshold"`
	GroundedThreshold float64 `yaml:"grounded_threshold" mapstructure:"grounded_threshold"`
	PartialThreshold  float64 `yaml:"partial_threshold" mapstructure:"partial_threshold"`
	MinQuoteChars     int     `yaml:"min_quote_chars" mapstructure:"min_quote_chars"`
	JudgeWorkers      int     `yaml:"judge_workers" mapstructure:"judge_workers"`
	JudgeExcerptChars int     `yaml:"judge_excerpt_chars" mapstructure:"judge_excerpt_chars"`
	SkipJudge         bool    `yaml:"skip_judge" mapstructure:"skip_judge"`
	MaxRounds         int     `yaml:"max_rounds" mapstructure:"max_rounds"`
	AcceptScore       float64 `yaml:"accept_score" mapstructure:"accept_score"` // correct only below this
}

// FigureConfig configures the figure description path
type FigureConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Workers  int           `yaml:"workers" mapstructure:"workers"`
	CacheDir string        `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// HTTPConfig configures fetching URL sources
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots   bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	RequestsPerHost float64       `yaml:"requests_per_host" mapstructure:"requests_per_host"` // 0 disables
	HTTPProxy       string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy      string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy         string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// OutputConfig controls reporting
type OutputConfig struct {
	Verbose     bool   `yaml:"verbose" mapstructure:"verbose"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
	MetricsFile string `yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Timeout:           120,
			MaxTokens:         4096,
			Temperature:       0.2,
			RequestsPerSecond: 5,
			Burst:             6,
		},
		Chunking: ChunkingConfig{
			ChunkChars:      6000,
			SinglePassChars: 6000,
			Workers:         4,
		},
		Grounding: GroundingConfig{
			QuoteThreshold:    0.60,
			GroundedThreshold: 0.85,
			PartialThreshold:  0.50,
			MinQuoteChars:     10,
			JudgeWorkers:      6,
			JudgeExcerptChars: 20000,
			MaxRounds:         1,
			AcceptScore:       0.85,
		},
		Figures: FigureConfig{
			Enabled:  true,
			Workers:  6,
			CacheTTL: 30 * 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			UserAgent:       "grounder/0.1 (+https://github.com/ppiankov/grounder)",
			MaxBodyBytes:    20_000_000,
			RespectRobots:   true,
			RequestsPerHost: 2,
		},
	}
}

// Validate checks threshold ranges and ordering
func (c Config) Validate() error {
	g := c.Grounding
	for name, v := range map[string]float64{
		"quote_threshold":    g.QuoteThreshold,
		"grounded_threshold": g.GroundedThreshold,
		"partial_threshold":  g.PartialThreshold,
		"accept_score":       g.AcceptScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("grounding.%s must be within [0,1], got %v", name, v)
		}
	}
	if g.GroundedThreshold < g.PartialThreshold {
		return fmt.Errorf("grounding.grounded_threshold (%v) must be >= grounding.partial_threshold (%v)", g.GroundedThreshold, g.PartialThreshold)
	}
	if g.MaxRounds < 0 {
		return fmt.Errorf("grounding.max_rounds must not be negative")
	}
	if c.Chunking.ChunkChars <= 0 {
		return fmt.Errorf("chunking.chunk_chars must be positive")
	}
	return nil
}
