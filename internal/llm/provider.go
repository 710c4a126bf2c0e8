package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/schema"
	"go.uber.org/zap"
)

// ErrNoContent is returned when a provider answers with an empty message
var ErrNoContent = errors.New("empty model response")

// Call operations, used as metric labels
const (
	OpExtract      = "extract"
	OpExtractChunk = "extract_chunk"
	OpSynthesize   = "synthesize"
	OpJudge        = "judge"
	OpCorrect      = "correct"
	OpVision       = "vision"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one prompt and returns the model's text. Images in the
	// request are attached to the user turn.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is one model call
type CompletionRequest struct {
	// Op labels the call for metrics and logs (extract_chunk, judge, ...)
	Op string

	System string
	Prompt string

	// Images are sent alongside the prompt; providers switch to the vision model
	Images []model.FigureImage

	// JSON asks the provider for a JSON object response where supported
	JSON bool

	// Model overrides the configured model
	Model string

	MaxTokens   int
	Temperature float64
}

// CompletionResponse contains the model output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "azure", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// VisionModel is used for requests carrying images; defaults to Model
	VisionModel string

	// APIKey for OpenAI/Azure/Anthropic
	APIKey string

	// BaseURL for custom endpoints (Azure resource, Ollama host)
	BaseURL string

	// APIVersion for Azure OpenAI
	APIVersion string

	// Timeout for one API request
	Timeout int // seconds

	MaxTokens   int
	Temperature float64

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Timeout:     120,
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}

// ConfigFromModel converts the application config to llm.Config
func ConfigFromModel(c model.LLMConfig, h model.HTTPConfig) Config {
	return Config{
		Provider:    c.Provider,
		Model:       c.Model,
		VisionModel: c.VisionModel,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		APIVersion:  c.APIVersion,
		Timeout:     c.Timeout,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		HTTPProxy:   h.HTTPProxy,
		HTTPSProxy:  h.HTTPSProxy,
		NoProxy:     h.NoProxy,
	}
}

// modelFor picks the request model, the vision model for image requests, or
// the configured default
func (c Config) modelFor(req CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if len(req.Images) > 0 && c.VisionModel != "" {
		return c.VisionModel
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

func (c Config) maxTokensFor(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 4096
}

func (c Config) temperatureFor(req CompletionRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return c.Temperature
}

// DataURL encodes an image as a base64 data URL
func DataURL(img model.FigureImage) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// CompleteJSON calls the provider and decodes a JSON object from the reply
// into v, tolerating code fences and surrounding prose. A failed call or an
// unparseable reply is retried until attempts are used up.
func CompleteJSON(ctx context.Context, p Provider, req CompletionRequest, v any, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	req.JSON = true

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := p.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if err := schema.Decode(resp.Text, v); err != nil {
			lastErr = fmt.Errorf("%s: %w", req.Op, err)
			continue
		}
		return nil
	}
	return lastErr
}
