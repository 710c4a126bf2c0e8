package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/grounder/internal/model"
)

func testConfig() model.HTTPConfig {
	return model.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "grounder-test/1.0", MaxBodyBytes: 1 << 20}
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func TestFetchWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", `"v1"`)
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	result, err := NewFetcher(testConfig(), nil).FetchWithRetry(context.Background(), server.URL+"/papers/trial%20report.html")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(result.Data) != "<html><body>OK</body></html>" {
		t.Errorf("Unexpected body: %s", result.Data)
	}
	if result.Name != "trial report.html" || result.ETag != `"v1"` || result.ContentType != "text/html" {
		t.Errorf("metadata = %+v", result)
	}
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "OK")
	}))
	defer server.Close()
	noSleep(t)

	result, err := NewFetcher(testConfig(), nil).FetchWithRetry(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(result.Data) != "OK" {
		t.Errorf("Unexpected body: %s", result.Data)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	noSleep(t)

	_, err := NewFetcher(testConfig(), nil).FetchWithRetry(context.Background(), server.URL)
	var status *StatusError
	if !errors.As(err, &status) || status.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 status error, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("404 is not retryable, got %d attempts", attempts.Load())
	}
}

func TestFetchWithRetry_AllRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	noSleep(t)

	if _, err := NewFetcher(testConfig(), nil).FetchWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if attempts.Load() != maxFetchAttempts {
		t.Errorf("Expected %d attempts, got %d", maxFetchAttempts, attempts.Load())
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, strings.Repeat("x", 200))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 100
	_, err := NewFetcher(cfg, nil).Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestFetch_RespectsRobots(t *testing.T) {
	var fetched atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: grounder-test\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		_, _ = fmt.Fprint(w, "paper")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	f := NewFetcher(cfg, nil)

	if _, err := f.Fetch(context.Background(), server.URL+"/private/paper.pdf"); !errors.Is(err, ErrRobotsDisallowed) {
		t.Errorf("err = %v, want ErrRobotsDisallowed", err)
	}
	if _, err := f.Fetch(context.Background(), server.URL+"/public/paper.pdf"); err != nil {
		t.Errorf("allowed path failed: %v", err)
	}
	if fetched.Load() != 1 {
		t.Errorf("document requests = %d, want 1", fetched.Load())
	}
}

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"503", &StatusError{Code: 503, Status: "503 Service Unavailable"}, true},
		{"500", &StatusError{Code: 500}, true},
		{"429", fmt.Errorf("wrapped: %w", &StatusError{Code: 429}), true},
		{"404", &StatusError{Code: 404}, false},
		{"403", &StatusError{Code: 403}, false},
		{"network", fmt.Errorf("fetch: connection refused"), true},
		{"request", fmt.Errorf("create request: invalid URL"), false},
		{"body", fmt.Errorf("read body: unexpected EOF"), false},
		{"robots", ErrRobotsDisallowed, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableFetchError(tt.err); got != tt.retryable {
				t.Errorf("isRetryableFetchError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	if got := NormalizeUserAgent("grounder/0.1 (+https://example.org)"); got != "grounder" {
		t.Errorf("got %q", got)
	}
}
