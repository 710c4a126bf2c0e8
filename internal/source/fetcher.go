package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ppiankov/grounder/internal/logging"
	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/util"
	"github.com/ppiankov/grounder/internal/worker"
	"go.uber.org/zap"
)

var (
	// ErrRobotsDisallowed is returned when robots.txt forbids the URL
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrTooLarge is returned when a body exceeds the configured limit
	ErrTooLarge = errors.New("response body exceeds size limit")
)

// fetchSleepFunc is swapped out by tests
var fetchSleepFunc = time.Sleep

const (
	maxFetchAttempts = 3
	maxCrawlDelay    = 10 * time.Second
)

// StatusError is a non-2xx response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// Fetcher downloads source documents
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *RobotsChecker
	limiter    *worker.Limiter
	log        *zap.Logger
}

// NewFetcher creates a new Fetcher from the HTTP configuration
func NewFetcher(cfg model.HTTPConfig, logger *zap.Logger) *Fetcher {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}
	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		limiter:    worker.NewLimiter(cfg.RequestsPerHost, 1),
		log:        logging.OrNop(logger),
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, cfg.UserAgent)
	}
	return f
}

// FetchResult contains the fetched bytes and response metadata
type FetchResult struct {
	Data         []byte
	ContentType  string
	Name         string // file name derived from the final URL
	FinalURL     string
	StatusCode   int
	LastModified string
	ETag         string
}

// Fetch retrieves the document at rawURL once
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var delay time.Duration
	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrRobotsDisallowed)
		}
		delay = min(crawlDelay, maxCrawlDelay)
		if delay > 0 {
			f.log.Debug("robots.txt crawl delay", zap.String("url", rawURL), zap.Duration("delay", delay))
		}
	}

	if err := f.limiter.WaitURL(ctx, rawURL, delay); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/markdown,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var body []byte
	if f.maxBytes > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err == nil && int64(len(body)) > f.maxBytes {
			return nil, fmt.Errorf("%s: %w (%d bytes)", rawURL, ErrTooLarge, f.maxBytes)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	return &FetchResult{
		Data:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		Name:         fileName(finalURL),
		FinalURL:     finalURL,
		StatusCode:   resp.StatusCode,
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}, nil
}

// FetchWithRetry retries transient failures (network errors, 429, 5xx)
// with exponential backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) || attempt == maxFetchAttempts || ctx.Err() != nil {
			break
		}
		backoff := time.Duration(1<<(attempt-1)) * time.Second
		f.log.Warn("fetch failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		fetchSleepFunc(backoff)
	}
	return nil, lastErr
}

func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) || strings.HasPrefix(err.Error(), "fetch: ")
}

// fileName takes the last path segment of a URL, or the host
func fileName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	name := path.Base(strings.TrimRight(parsed.Path, "/"))
	if name == "." || name == "/" || name == "" {
		return parsed.Host
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}
