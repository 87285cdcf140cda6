// Package klaviyo is a small client for the Klaviyo REST API: it attaches the
// static credential and revision headers, retries transient failures, and walks
// cursor-paginated collections.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/klaviyo-relay/internal/config"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
)

const (
	// MaxPageSize is the largest page[size] Klaviyo accepts.
	MaxPageSize = 100

	defaultRevision = "2023-06-15"
	defaultTimeout  = 5 * time.Second
)

// Config is the explicit client configuration. Nothing is read from the environment.
type Config struct {
	BaseURL    string
	APIKey     string
	Revision   string
	Timeout    time.Duration
	PageSize   int
	MaxPages   int
	MaxRetries int
	WaitStep   time.Duration
}

// ConfigFrom maps the loaded service configuration onto a client Config.
func ConfigFrom(c config.KlaviyoConfig) Config {
	return Config{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Revision:   c.Revision,
		Timeout:    c.Timeout,
		PageSize:   c.PageSize,
		MaxPages:   c.MaxPages,
		MaxRetries: c.Retry.MaxRetries,
		WaitStep:   c.Retry.WaitStep,
	}
}

// Client talks to the Klaviyo API.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	logger   *logging.Logger
	newTimer func() backoff.Timer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimer supplies the timer used between retries.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// New creates a Client.
func New(cfg Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("klaviyo: api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("klaviyo: base url is required")
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("klaviyo: invalid base url: %w", err)
	}
	if cfg.Revision == "" {
		cfg.Revision = defaultRevision
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = logging.Default()
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PageSize is the configured page[size] for collection requests.
func (c *Client) PageSize() int { return c.cfg.PageSize }

// do sends one logical request, retrying transient failures with linear backoff.
// On success the response body is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	target := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	resource := resourceLabel(path)
	start := time.Now()
	defer func() {
		metrics.RemoteRequestDuration.WithLabelValues(method, resource).Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	operation := func() error {
		attempt++
		err := c.send(ctx, method, target.String(), path, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Transient() && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.RemoteRetriesTotal.WithLabelValues(resource).Inc()
		status := 0
		var apiErr *Error
		if errors.As(err, &apiErr) {
			status = apiErr.Status
		}
		c.logger.WarnContext(ctx, "retrying klaviyo request",
			logging.Attempt(attempt),
			logging.Status(status),
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("wait", wait),
			logging.Error(err),
		)
	}

	b := backoff.WithContext(newLinearBackOff(c.cfg.WaitStep, c.cfg.MaxRetries), ctx)
	if c.newTimer != nil {
		return backoff.RetryNotifyWithTimer(operation, b, notify, c.newTimer())
	}
	return backoff.RetryNotify(operation, b, notify)
}

func (c *Client) send(ctx context.Context, method, target, path string, payload []byte, out interface{}) error {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.cfg.APIKey)
	req.Header.Set("revision", c.cfg.Revision)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(method, resourceLabel(path), "error").Inc()
		return &Error{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()
	metrics.RemoteRequestsTotal.WithLabelValues(method, resourceLabel(path), strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Method: method, Path: path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Body: decodeBody(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeBody(raw []byte) interface{} {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err == nil {
		return doc
	}
	return string(raw)
}

func resourceLabel(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
