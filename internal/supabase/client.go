// Package supabase talks to the auth (GoTrue) API of a hosted Supabase
// project and persists the resulting session in a store.Store the way the
// browser SDK persists it in local storage.
package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var _ backend.Client = (*Client)(nil)

// Config holds the project connection settings.
type Config struct {
	// URL is the project URL, e.g. https://abcd.supabase.co
	URL string

	// AnonKey is the public anon API key sent as the apikey header.
	AnonKey string

	// StorageKey is the store key holding the session bundle.
	// Default: sb-<project ref>-auth-token
	StorageKey string

	// Timeout bounds every individual HTTP call.
	// Default: 10 seconds
	Timeout time.Duration

	// RefreshMargin is how long before expiry the access token is refreshed.
	// Default: 60 seconds
	RefreshMargin time.Duration

	// MaxRetries bounds attempts for idempotent reads.
	// Default: 3
	MaxRetries uint

	// HTTPClient is used for all calls except settings. Default: http.DefaultClient
	HTTPClient *http.Client

	// CacheDir enables a disk cache for the settings endpoint. Empty uses memory.
	CacheDir string
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.StorageKey == "" {
		c.StorageKey = defaultStorageKey(c.URL)
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RefreshMargin == 0 {
		c.RefreshMargin = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("project URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("project URL %q is not an absolute URL", c.URL)
	}
	if c.AnonKey == "" {
		return fmt.Errorf("anon key is required")
	}
	return nil
}

// defaultStorageKey mirrors the browser SDK: sb-<first host label>-auth-token.
func defaultStorageKey(projectURL string) string {
	ref := "local"
	if u, err := url.Parse(projectURL); err == nil && u.Hostname() != "" {
		ref, _, _ = strings.Cut(u.Hostname(), ".")
	}
	return "sb-" + ref + "-auth-token"
}

// Client implements backend.Client against the GoTrue REST API.
type Client struct {
	backend.Subscribers

	cfg         Config
	store       store.Store
	httpClient  *http.Client
	cacheClient *http.Client
	metrics     *telemetry.Metrics

	// serializes reads and refreshes of the persisted bundle so a refresh
	// token is never spent twice
	mu sync.Mutex
}

// New creates a client persisting its session in st.
func New(cfg Config, st store.Store) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supabase config: %w", err)
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg:         cfg,
		store:       st,
		httpClient:  cfg.HTTPClient,
		cacheClient: newCachingHTTPClient(cfg.CacheDir, cfg.HTTPClient.Transport),
		metrics:     telemetry.GetMetrics(),
	}, nil
}

// StorageKey returns the store key the session bundle is kept under.
func (c *Client) StorageKey() string {
	return c.cfg.StorageKey
}

// newCachingHTTPClient creates an HTTP client honouring Cache-Control for
// public endpoints. It must never be used for bearer authenticated calls.
func newCachingHTTPClient(cacheDir string, base http.RoundTripper) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = base

	return &http.Client{Transport: transport}
}

func (c *Client) endpoint(path string) string {
	return c.cfg.URL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *strings.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxRetries),
		backoff.WithMaxElapsedTime(c.cfg.Timeout * time.Duration(c.cfg.MaxRetries)),
	}
}

// observe records the duration and outcome of a backend call.
func (c *Client) observe(ctx context.Context, operation string, started time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	c.metrics.BackendCallDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)

	if err != nil {
		c.metrics.BackendErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Bool("network", backend.IsNetwork(err)),
		))
	}
}
