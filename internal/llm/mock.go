package llm

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests. Respond sees every request;
// Calls records them in arrival order.
type MockProvider struct {
	ProviderName string
	Available    bool
	Respond      func(req CompletionRequest) (string, error)

	mu    sync.Mutex
	calls []CompletionRequest
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// IsAvailable reports the scripted availability
func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.Available
}

// Complete records req and returns the scripted reply
func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Respond == nil {
		return nil, ErrNoContent
	}
	text, err := m.Respond(req)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{Text: text, Model: "mock", TokensUsed: len(text) / 4}, nil
}

// Calls returns a copy of the recorded requests
func (m *MockProvider) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}

// CallsFor returns the recorded requests with the given op
func (m *MockProvider) CallsFor(op string) []CompletionRequest {
	var out []CompletionRequest
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
