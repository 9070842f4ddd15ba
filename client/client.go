package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"pkt.systems/pslog"

	"github.com/n8lab/assetlock/internal/svcid"
)

const (
	// DefaultLockName is claimed when neither the caller nor the candidate
	// data supplies a resource name.
	DefaultLockName = "n8_etcd"
	// DefaultStatusPath is the lockable-resources structured listing endpoint.
	DefaultStatusPath = "/plugin/lockable-resources/api/json"
	// DefaultReservePath is the reserve endpoint; the resource name is
	// appended as the query value.
	DefaultReservePath = "/lockable-resources/reserve?resource="
	// DefaultUnreservePath is the unreserve endpoint.
	DefaultUnreservePath = "/lockable-resources/unreserve?resource="
	// DefaultWaitInterval is the fixed delay between free-status polls.
	DefaultWaitInterval = 5 * time.Second
	// DefaultHTTPTimeout bounds a single request to the lock service.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultLegacySuccessFragment is the page text the legacy verification
	// mode expects once a reservation consumed the last free slot.
	DefaultLegacySuccessFragment = "0 available"
)

// VerificationMode selects how a reserve call's outcome is confirmed.
type VerificationMode int

const (
	// VerifyStatus re-queries the structured status listing after reserving.
	VerifyStatus VerificationMode = iota
	// VerifyLegacyHTML scans the reserve response body for
	// DefaultLegacySuccessFragment. Kept for old service deployments that
	// answer 200 with a rendered page regardless of outcome.
	VerifyLegacyHTML
)

// Resource is one entry of the service's resource listing.
type Resource struct {
	Name     string `json:"name"`
	Reserved bool   `json:"reserved"`
}

type statusResponse struct {
	Resources []Resource `json:"resources"`
}

// Config carries the settings the client reads once at construction.
type Config struct {
	// EndpointURL is the base URL of the lock service. Required.
	EndpointURL string
	// LockName is the default resource claimed when no name is derived.
	LockName string
	// StatusPath overrides DefaultStatusPath.
	StatusPath string
	// TTL schedules an automatic background unreserve after a successful
	// claim. Zero disables the safety net.
	TTL time.Duration
	// WaitInterval is the fixed poll delay inside WaitForFree.
	WaitInterval time.Duration
	// WaitTimeout bounds WaitForFree. Zero waits indefinitely.
	WaitTimeout time.Duration
}

// Client talks to a lockable-resources service over HTTP. One instance is
// constructed per process and shared by reference between the finders and the
// allocator; there is no global controller singleton.
type Client struct {
	endpoint      string
	statusPath    string
	reservePath   string
	unreservePath string
	lockName      string
	ttl           time.Duration
	waitInterval  time.Duration
	waitTimeout   time.Duration
	verification  VerificationMode
	legacyOK      string
	httpClient    *http.Client
	logger        pslog.Base
	sleep         func(context.Context, time.Duration) error

	mu         sync.Mutex
	unreserved map[string]bool
}

// Option customises client construction.
type Option func(*Client)

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		c.logger = logger
	}
}

// WithHTTPClient supplies a custom HTTP client/transport stack.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithInstrumentedTransport wraps the HTTP transport with otelhttp so lock
// traffic shows up in distributed traces.
func WithInstrumentedTransport() Option {
	return func(c *Client) {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		cloned := *c.httpClient
		cloned.Transport = otelhttp.NewTransport(base)
		c.httpClient = &cloned
	}
}

// WithVerification selects the reserve confirmation strategy.
func WithVerification(mode VerificationMode) Option {
	return func(c *Client) {
		c.verification = mode
	}
}

// WithLegacySuccessFragment overrides the fragment matched by
// VerifyLegacyHTML.
func WithLegacySuccessFragment(fragment string) Option {
	return func(c *Client) {
		if fragment != "" {
			c.legacyOK = fragment
		}
	}
}

// WithSleeper replaces the poll sleep. Test seam; the default honours ctx
// cancellation via a timer.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a Client from cfg. EndpointURL is the only required field;
// everything else falls back to the package defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.EndpointURL), "/")
	if endpoint == "" {
		return nil, errors.New("endpoint URL required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse endpoint URL: %w", err)
	}
	c := &Client{
		endpoint:      endpoint,
		statusPath:    DefaultStatusPath,
		reservePath:   DefaultReservePath,
		unreservePath: DefaultUnreservePath,
		lockName:      DefaultLockName,
		waitInterval:  DefaultWaitInterval,
		verification:  VerifyStatus,
		legacyOK:      DefaultLegacySuccessFragment,
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		logger:        pslog.NoopLogger(),
		sleep:         sleepCtx,
		unreserved:    make(map[string]bool),
	}
	if cfg.LockName != "" {
		c.lockName = cfg.LockName
	}
	if cfg.StatusPath != "" {
		c.statusPath = cfg.StatusPath
	}
	if cfg.TTL > 0 {
		c.ttl = cfg.TTL
	}
	if cfg.WaitInterval > 0 {
		c.waitInterval = cfg.WaitInterval
	}
	if cfg.WaitTimeout > 0 {
		c.waitTimeout = cfg.WaitTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultLockName returns the configured fallback resource name.
func (c *Client) DefaultLockName() string {
	return c.lockName
}

// Resources fetches the service's resource listing.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	body, status, err := c.get(ctx, c.endpoint+c.statusPath)
	if err != nil {
		return nil, fmt.Errorf("query lock status: %w", err)
	}
	if status != http.StatusOK {
		return nil, &APIError{Status: status, Body: body}
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode lock status: %w", err)
	}
	return resp.Resources, nil
}

// IsLocked reports whether name is currently reserved. Absence from the
// listing and any transport or parse failure degrade to "available": missing
// information must never stall the whole fleet.
func (c *Client) IsLocked(ctx context.Context, name string) bool {
	resources, err := c.Resources(ctx)
	if err != nil {
		c.logger.Debug("client.status.degraded", "resource", name, "error", err)
		return false
	}
	for _, r := range resources {
		if r.Name == name {
			return r.Reserved
		}
	}
	return false
}

// WaitForFree polls IsLocked at the configured fixed interval until the
// resource frees up, ctx is cancelled, or the configured wait timeout
// elapses. No exponential backoff: contention windows are short and bounded
// by test-run durations.
func (c *Client) WaitForFree(ctx context.Context, name string) error {
	start := time.Now()
	for c.IsLocked(ctx, name) {
		c.logger.Trace("client.wait.poll", "resource", name, "interval", c.waitInterval)
		if err := c.sleep(ctx, c.waitInterval); err != nil {
			return err
		}
		if c.waitTimeout > 0 && time.Since(start) >= c.waitTimeout {
			return fmt.Errorf("resource %q still reserved after %s: %w", name, c.waitTimeout, ErrWaitTimeout)
		}
	}
	return nil
}

// Reserve claims name: wait until the resource is free, issue the reserve
// call, and confirm the outcome with the configured verification mode. A
// reserve that cannot be confirmed fails without marking any local state.
// When a TTL is configured, a successful claim schedules a detached
// background unreserve at the deadline as a safety net against leaked locks;
// the task needs no cancellation because unreserve is idempotent.
func (c *Client) Reserve(ctx context.Context, name string) error {
	if name == "" {
		name = c.lockName
	}
	if err := c.WaitForFree(ctx, name); err != nil {
		return err
	}
	c.logger.Debug("client.reserve.start", "resource", name)
	body, status, err := c.get(ctx, c.endpoint+c.reservePath+url.QueryEscape(name))
	if err != nil {
		return fmt.Errorf("reserve %q: %w", name, err)
	}
	switch {
	case status == http.StatusNotFound:
		// The service does not manage this resource; nothing to contend.
	case status < 200 || status > 299:
		return fmt.Errorf("reserve %q: %w", name, &APIError{Status: status, Body: body})
	}
	if err := c.verifyReserve(ctx, name, status, body); err != nil {
		return err
	}
	c.markReserved(name)
	c.logger.Info("client.reserve.ok", "resource", name, "ttl", c.ttl)
	if c.ttl > 0 {
		go c.unreserveAfterTTL(name)
	}
	return nil
}

func (c *Client) verifyReserve(ctx context.Context, name string, status int, body []byte) error {
	switch c.verification {
	case VerifyLegacyHTML:
		if status == http.StatusNotFound {
			return nil
		}
		if !strings.Contains(string(body), c.legacyOK) {
			return fmt.Errorf("reserve %q: %w", name, ErrStillReserved)
		}
	default:
		// The structured listing is authoritative: after our reserve the
		// entry must either be gone or reserved. Seeing it free means the
		// call did not take.
		resources, err := c.Resources(ctx)
		if err != nil {
			c.logger.Debug("client.reserve.verify_degraded", "resource", name, "error", err)
			return nil
		}
		for _, r := range resources {
			if r.Name == name && !r.Reserved {
				return fmt.Errorf("reserve %q: %w", name, ErrStillReserved)
			}
		}
	}
	return nil
}

// Unreserve releases name. It is idempotent per client instance: once a
// successful unreserve has been sent, later calls are no-ops, because the
// service may error on double-unreserve and callers release from multiple
// cleanup paths.
func (c *Client) Unreserve(ctx context.Context, name string) error {
	if name == "" {
		name = c.lockName
	}
	c.mu.Lock()
	if c.unreserved[name] {
		c.mu.Unlock()
		c.logger.Trace("client.unreserve.skip", "resource", name)
		return nil
	}
	c.mu.Unlock()
	body, status, err := c.get(ctx, c.endpoint+c.unreservePath+url.QueryEscape(name))
	if err != nil {
		return fmt.Errorf("unreserve %q: %w", name, err)
	}
	if status != http.StatusNotFound && (status < 200 || status > 299) {
		return fmt.Errorf("unreserve %q: %w", name, &APIError{Status: status, Body: body})
	}
	c.mu.Lock()
	c.unreserved[name] = true
	c.mu.Unlock()
	c.logger.Info("client.unreserve.ok", "resource", name)
	return nil
}

func (c *Client) markReserved(name string) {
	c.mu.Lock()
	delete(c.unreserved, name)
	c.mu.Unlock()
}

func (c *Client) unreserveAfterTTL(name string) {
	timer := time.NewTimer(c.ttl)
	defer timer.Stop()
	<-timer.C
	ctx, cancel := context.WithTimeout(context.Background(), DefaultHTTPTimeout)
	defer cancel()
	if err := c.Unreserve(ctx, name); err != nil {
		c.logger.Warn("client.ttl.unreserve_failed", "resource", name, "error", err)
		return
	}
	c.logger.Info("client.ttl.unreserved", "resource", name, "ttl", c.ttl)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json, text/html")
	req.Header.Set("X-Correlation-ID", correlationID(ctx))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type correlationContextKey struct{}

// WithCorrelationID annotates ctx with an identifier sent on subsequent
// requests as X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, id)
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationContextKey{}).(string); ok && v != "" {
		return v
	}
	return svcid.NewCorrelationID()
}
