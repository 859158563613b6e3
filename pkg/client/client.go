// Package client provides the core GitHub API client with tiered caching,
// rate limit throttling, conditional requests, and bounded retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gitops-tools/github-client/pkg/cache"
	"github.com/gitops-tools/github-client/pkg/ratelimit"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gh_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gh_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gh_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// perPage is the fixed page size used by Paginate.
const perPage = 100

// DefaultMaxPages bounds Paginate when the caller passes no limit.
const DefaultMaxPages = 10

// Config holds the client configuration.
type Config struct {
	// Token is the bearer token for the Authorization header (required).
	Token string

	// BaseURL of the REST API.
	BaseURL string

	// UserAgent header sent on every request.
	UserAgent string

	// CacheDir holds the store tier database. Defaults to
	// ~/.gitops/cache when empty.
	CacheDir string

	// CacheTTLs overrides per-category cache TTLs.
	CacheTTLs map[cache.Category]time.Duration

	// HotCapacity bounds the in-memory cache tier.
	HotCapacity int

	// RateLimitThreshold is the remaining-request floor below which
	// requests wait for the window reset.
	RateLimitThreshold int

	// RateLimitMinWait is the minimum wait after a 429 before the single
	// re-issue.
	RateLimitMinWait time.Duration

	// StaleMaxAge caps how old a cache entry may be to serve as a stale
	// fallback on rate limit or transport failures.
	StaleMaxAge time.Duration

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxRetries caps attempts for 5xx server errors.
	MaxRetries int

	// InitialBackoff is the first 5xx backoff delay; it doubles per retry.
	InitialBackoff time.Duration

	// MaxConcurrency is the GetMany worker pool size.
	MaxConcurrency int

	// Redis optionally shares rate limit state across processes.
	Redis *redis.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:              token,
		BaseURL:            "https://api.github.com",
		UserAgent:          "gitops-github-client/1.0",
		HotCapacity:        cache.DefaultHotCapacity,
		RateLimitThreshold: ratelimit.DefaultThreshold,
		RateLimitMinWait:   60 * time.Second,
		StaleMaxAge:        24 * time.Hour,
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxConcurrency:     5,
	}
}

// Client is the GitHub API client. It owns the tiered cache, the rate
// limiter, and the request metrics.
type Client struct {
	httpClient *http.Client
	cache      *cache.TieredCache
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger

	requestsMade   atomic.Int64
	cacheHits      atomic.Int64
	rateLimitWaits atomic.Int64
	retries        atomic.Int64
	errCount       atomic.Int64
}

// New creates a client. The cache and limiter are constructed here and
// released by Close; there is no ambient global state.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gitops-github-client/1.0"
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(home, ".gitops", "cache")
	}
	if cfg.RateLimitMinWait <= 0 {
		cfg.RateLimitMinWait = 60 * time.Second
	}
	if cfg.StaleMaxAge <= 0 {
		cfg.StaleMaxAge = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}

	logger := log.With().Str("component", "github-client").Logger()

	tiered, err := cache.New(cache.Config{
		Dir:         cfg.CacheDir,
		HotCapacity: cfg.HotCapacity,
		TTLs:        cfg.CacheTTLs,
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitThreshold, log.With().Str("component", "ratelimit").Logger())
	if cfg.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		limiter.AttachMirror(ctx, ratelimit.NewMirror(cfg.Redis))
		cancel()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      tiered,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}, nil
}

// RequestOptions tunes a single Get call.
type RequestOptions struct {
	// Params are the query parameters.
	Params url.Values

	// CacheTTL overrides the category TTL for the stored response.
	CacheTTL time.Duration

	// SkipCache bypasses cache reads and writes for this call.
	SkipCache bool
}

// Get performs a cached GET request. Fresh cache hits return immediately;
// otherwise the request carries If-None-Match from any cached ETag, and a
// 304 response is served from the cache without re-downloading the body.
func (c *Client) Get(ctx context.Context, endpoint string, opts *RequestOptions) (json.RawMessage, error) {
	var o RequestOptions
	if opts != nil {
		o = *opts
	}
	rawURL := c.buildURL(endpoint)
	useCache := !o.SkipCache

	var cached cache.Lookup
	if useCache {
		cached = c.cache.Get(rawURL, o.Params)
		if cached.Found && cached.Fresh {
			c.cacheHits.Add(1)
			c.logger.Debug().Str("endpoint", endpoint).Msg("Fresh cache hit")
			return json.RawMessage(cached.Payload), nil
		}
	}

	return c.fetch(ctx, endpoint, rawURL, o, useCache, cached)
}

// fetch issues the network request with the full failure policy: proactive
// rate limit wait, stale fallbacks, a single bounded 429 re-issue, and
// exponential backoff on 5xx. The loop terminates because every branch
// either returns or advances a bounded counter.
func (c *Client) fetch(ctx context.Context, endpoint, rawURL string, o RequestOptions, useCache bool, cached cache.Lookup) (json.RawMessage, error) {
	backoff := c.config.InitialBackoff
	serverAttempts := 0
	rateLimitRetried := false

	for {
		if waited, err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		} else if waited {
			c.rateLimitWaits.Add(1)
		}

		start := time.Now()
		resp, err := c.do(ctx, http.MethodGet, rawURL, o.Params, cached.ETag, nil)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()

			if useCache {
				if payload, _, ok := c.cache.GetStaleOk(rawURL, o.Params, c.config.StaleMaxAge); ok {
					c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Transport error - serving stale cache")
					return json.RawMessage(payload), nil
				}
			}
			c.errCount.Add(1)
			return nil, fmt.Errorf("request %s: %w", endpoint, err)
		}

		c.requestsMade.Add(1)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		c.limiter.UpdateFromHeaders(ctx, resp.Header)

		switch {
		case resp.StatusCode == http.StatusNotModified:
			resp.Body.Close()
			requestsTotal.WithLabelValues(endpoint, "304").Inc()
			c.cache.RecordConditionalHit(int64(len(cached.Payload)))

			// Revalidation confirmed freshness; extend the entry's TTL.
			if useCache && cached.Found {
				if err := c.cache.Set(rawURL, cached.Payload, cached.ETag, o.Params, o.CacheTTL); err != nil {
					c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to refresh cache entry")
				}
			}
			c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cached payload")
			return json.RawMessage(cached.Payload), nil

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			requestsTotal.WithLabelValues(endpoint, "429").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()

			if useCache {
				if payload, _, ok := c.cache.GetStaleOk(rawURL, o.Params, c.config.StaleMaxAge); ok {
					c.logger.Warn().Str("endpoint", endpoint).Msg("Rate limited - serving stale cache")
					return json.RawMessage(payload), nil
				}
			}
			if rateLimitRetried {
				c.errCount.Add(1)
				return nil, &HTTPError{StatusCode: resp.StatusCode, Class: ErrorClassRateLimit, Message: "rate limit exceeded"}
			}
			rateLimitRetried = true

			wait := c.config.RateLimitMinWait
			if until := c.limiter.State().TimeUntilReset(); until > wait {
				wait = until
			}
			c.rateLimitWaits.Add(1)
			c.logger.Warn().
				Str("endpoint", endpoint).
				Dur("wait", wait).
				Msg("Rate limited with no stale fallback - waiting for reset")
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()

			serverAttempts++
			if serverAttempts >= c.config.MaxRetries {
				retryExhaustedTotal.WithLabelValues(string(ErrorClassServer)).Inc()
				c.errCount.Add(1)
				return nil, &HTTPError{
					StatusCode: resp.StatusCode,
					Class:      ErrorClassServer,
					Message:    resp.Status,
					Err:        ErrRetryExhausted,
				}
			}

			c.retries.Add(1)
			retriesTotal.WithLabelValues(string(ErrorClassServer)).Inc()
			retryBackoffSeconds.WithLabelValues(string(ErrorClassServer)).Observe(backoff.Seconds())
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Int("attempt", serverAttempts).
				Dur("backoff", backoff).
				Msg("Server error - retrying after backoff")
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2

		case resp.StatusCode >= 400:
			resp.Body.Close()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
			c.errCount.Add(1)
			return nil, &HTTPError{StatusCode: resp.StatusCode, Class: ErrorClassClient, Message: resp.Status}

		default:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				c.errCount.Add(1)
				return nil, fmt.Errorf("read response body: %w", err)
			}
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			if useCache {
				if err := c.cache.Set(rawURL, body, resp.Header.Get("ETag"), o.Params, o.CacheTTL); err != nil {
					c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
				}
			}
			return json.RawMessage(body), nil
		}
	}
}

// Post performs an uncached POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPost, endpoint, body)
}

// Patch performs an uncached PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPatch, endpoint, body)
}

// mutate issues a mutation request. Mutations never consult or populate the
// cache, but still honor the rate limit check and a single wait-and-resend
// on 429.
func (c *Client) mutate(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	rawURL := c.buildURL(endpoint)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	retried := false
	for {
		if waited, err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		} else if waited {
			c.rateLimitWaits.Add(1)
		}

		resp, err := c.do(ctx, method, rawURL, nil, "", bytes.NewReader(payload))
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			c.errCount.Add(1)
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
		}

		c.requestsMade.Add(1)
		c.limiter.UpdateFromHeaders(ctx, resp.Header)

		if resp.StatusCode == http.StatusTooManyRequests && !retried {
			resp.Body.Close()
			retried = true

			wait := c.config.RateLimitMinWait
			if until := c.limiter.State().TimeUntilReset(); until > wait {
				wait = until
			}
			c.rateLimitWaits.Add(1)
			c.logger.Warn().
				Str("endpoint", endpoint).
				Dur("wait", wait).
				Msg("Mutation rate limited - waiting for reset")
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			class := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(class)).Inc()
			c.errCount.Add(1)
			return nil, &HTTPError{StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.errCount.Add(1)
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return json.RawMessage(data), nil
	}
}

// Request describes one GetMany entry.
type Request struct {
	Endpoint string
	Params   url.Values
	CacheTTL time.Duration
}

// Result is one GetMany slot. A failed request leaves Data nil and records
// the cause in Err; it never aborts sibling requests.
type Result struct {
	Data json.RawMessage
	Err  error
}

// Absent reports whether the slot resolved without a payload.
func (r Result) Absent() bool {
	return r.Data == nil
}

// GetMany issues the requests concurrently through a bounded worker pool and
// returns one result per request, in input order. Cancelling ctx stops
// issuing new requests; already in-flight requests run to completion.
func (c *Client) GetMany(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))
	if len(requests) == 0 {
		return results
	}

	workers := c.config.MaxConcurrency
	if workers > len(requests) {
		workers = len(requests)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				req := requests[idx]
				data, err := c.Get(ctx, req.Endpoint, &RequestOptions{Params: req.Params, CacheTTL: req.CacheTTL})
				if err != nil {
					c.logger.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("Batch request failed")
					results[idx] = Result{Err: err}
					continue
				}
				results[idx] = Result{Data: data}
			}
		}()
	}

feed:
	for i := range requests {
		select {
		case <-ctx.Done():
			for j := i; j < len(requests); j++ {
				results[j] = Result{Err: ctx.Err()}
			}
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// Paginate walks pages sequentially with a fixed page size of 100,
// concatenating items in page order. It stops on an empty page, a short
// page, or after maxPages (0 means DefaultMaxPages) - callers must not
// assume completeness beyond that bound. Each page is an independent cached
// Get; a run may mix cached and freshly fetched pages.
func (c *Client) Paginate(ctx context.Context, endpoint string, params url.Values, maxPages int) ([]json.RawMessage, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var items []json.RawMessage
	for page := 1; page <= maxPages; page++ {
		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		p.Set("per_page", strconv.Itoa(perPage))
		p.Set("page", strconv.Itoa(page))

		data, err := c.Get(ctx, endpoint, &RequestOptions{Params: p})
		if err != nil {
			return items, err
		}

		pageItems, err := extractItems(data)
		if err != nil {
			return items, fmt.Errorf("page %d: %w", page, err)
		}
		if len(pageItems) == 0 {
			break
		}
		items = append(items, pageItems...)
		if len(pageItems) < perPage {
			break
		}
	}

	return items, nil
}

// extractItems handles the two collection shapes: a bare JSON array, or an
// object carrying an "items" field (search endpoints).
func extractItems(data json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parse page: %w", err)
		}
		return list, nil
	}

	var wrapper struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return wrapper.Items, nil
}

// Metrics is a snapshot of client counters. All counters are monotonically
// non-decreasing within a process lifetime.
type Metrics struct {
	RequestsMade    int64
	CacheHits       int64
	ConditionalHits int64
	RateLimitWaits  int64
	Retries         int64
	Errors          int64
	CacheHitRate    float64
	APICallsSaved   int64
}

// Metrics returns the current client metrics. APICallsSaved counts hot-tier
// hits, fresh store-tier hits, and 304 revalidations.
func (c *Client) Metrics() Metrics {
	m := Metrics{
		RequestsMade:   c.requestsMade.Load(),
		CacheHits:      c.cacheHits.Load(),
		RateLimitWaits: c.rateLimitWaits.Load(),
		Retries:        c.retries.Load(),
		Errors:         c.errCount.Load(),
	}

	if stats, err := c.cache.Stats(); err == nil {
		m.ConditionalHits = stats.ConditionalHits
		m.CacheHitRate = stats.HitRate
		m.APICallsSaved = stats.HotHits + stats.StoreHits + stats.ConditionalHits
	}

	return m
}

// LogMetrics emits the current metrics at info level.
func (c *Client) LogMetrics() {
	m := c.Metrics()
	c.logger.Info().
		Int64("requests_made", m.RequestsMade).
		Int64("cache_hits", m.CacheHits).
		Int64("conditional_hits", m.ConditionalHits).
		Int64("rate_limit_waits", m.RateLimitWaits).
		Int64("retries", m.Retries).
		Int64("errors", m.Errors).
		Float64("cache_hit_rate_pct", m.CacheHitRate).
		Int64("api_calls_saved", m.APICallsSaved).
		Msg("Client metrics")
}

// Cache exposes the tiered cache for invalidation and cleanup.
func (c *Client) Cache() *cache.TieredCache {
	return c.cache
}

// RateLimit returns a snapshot of the rate limit state.
func (c *Client) RateLimit() ratelimit.State {
	return c.limiter.State()
}

// Close flushes statistics and releases the cache.
func (c *Client) Close() error {
	c.cache.LogStats()
	return c.cache.Close()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

func (c *Client) buildURL(endpoint string) string {
	base := c.config.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	for len(endpoint) > 0 && endpoint[0] == '/' {
		endpoint = endpoint[1:]
	}
	return base + "/" + endpoint
}

// do builds and executes one HTTP request with the standard headers.
func (c *Client) do(ctx context.Context, method, rawURL string, params url.Values, etag string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
