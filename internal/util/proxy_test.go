package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.internal:3128", "http://secure.internal:3129", "localhost,.example.org")

	tests := []struct {
		url  string
		want string
	}{
		{"http://pubmed.ncbi.nlm.nih.gov/123", "http://proxy.internal:3128"},
		{"https://api.openai.com/v1/chat", "http://secure.internal:3129"},
		{"https://papers.example.org/a.pdf", ""},
		{"http://localhost:11434/api/chat", ""},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.url, nil)
		if err != nil {
			t.Fatalf("NewRequest(%s): %v", tt.url, err)
		}
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s): %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}
