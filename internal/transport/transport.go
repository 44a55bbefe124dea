// Package transport delivers a serialized bug report to the collection
// endpoint, composing auth header resolution, retry with backoff, a one-shot
// 401 token refresh, and offline queueing of network-level failures.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/auth"
	"github.com/BTreeMap/ReportPipe/internal/queue"
	"github.com/BTreeMap/ReportPipe/internal/retry"
)

// DefaultRequestTimeout bounds a single attempt when no HTTP client is
// supplied. Retries are driven by responses and errors, not wall time.
const DefaultRequestTimeout = 30 * time.Second

// Opts holds configuration options for the Transport.
type Opts struct {
	Auth       auth.Config
	Retry      retry.Config
	Offline    queue.Config
	Storage    queue.Storage
	Namespace  string
	HTTPClient *http.Client
	Classifier func(error) bool
}

// Option defines a configuration option for the Transport.
type Option func(*Opts)

// WithAuth sets the credential configuration used for every attempt.
func WithAuth(cfg auth.Config) Option {
	return func(o *Opts) {
		o.Auth = cfg
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(o *Opts) {
		o.Retry = cfg
	}
}

// WithOffline enables or configures offline queueing.
func WithOffline(cfg queue.Config) Option {
	return func(o *Opts) {
		o.Offline = cfg
	}
}

// WithStorage sets the storage adapter backing the offline queue.
func WithStorage(s queue.Storage) Option {
	return func(o *Opts) {
		o.Storage = s
	}
}

// WithNamespace sets the offline queue's storage key namespace.
func WithNamespace(ns string) Option {
	return func(o *Opts) {
		o.Namespace = ns
	}
}

// WithHTTPClient sets the HTTP client used for all sends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithClassifier overrides the network-error classification used to decide
// whether a failed submission is queued for later.
func WithClassifier(fn func(error) bool) Option {
	return func(o *Opts) {
		o.Classifier = fn
	}
}

// Transport orchestrates one submission: auth + retry + refresh + offline
// hand-off, plus an opportunistic background drain of previously failed
// requests on every new submission.
type Transport struct {
	client   *http.Client
	handler  *retry.Handler
	authCfg  auth.Config
	queue    *queue.OfflineQueue
	classify func(error) bool
}

// New creates a Transport, applying any provided options.
func New(opts ...Option) *Transport {
	cfg := Opts{
		Retry:   retry.DefaultConfig(),
		Offline: queue.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Transport.New: configuring transport",
		"auth_set", cfg.Auth != nil,
		"offline_enabled", cfg.Offline.Enabled,
		"max_retries", cfg.Retry.MaxRetries)

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	classify := cfg.Classifier
	if classify == nil {
		classify = IsNetworkError
	}

	t := &Transport{
		client:   client,
		handler:  retry.NewHandler(cfg.Retry),
		authCfg:  cfg.Auth,
		classify: classify,
	}

	if cfg.Offline.Enabled {
		storage := cfg.Storage
		if storage == nil {
			slog.Warn("Transport.New: offline mode enabled without storage, using in-memory store")
			storage = queue.NewInMemoryStorage()
		}
		var qopts []queue.Option
		if cfg.Namespace != "" {
			qopts = append(qopts, queue.WithNamespace(cfg.Namespace))
		}
		if name := auth.HeaderName(cfg.Auth); name != "" {
			qopts = append(qopts, queue.WithStrippedHeader(name))
		}
		t.queue = queue.New(storage, cfg.Offline, qopts...)
	}

	return t
}

// Queue exposes the offline queue, or nil when offline mode is disabled.
func (t *Transport) Queue() *queue.OfflineQueue {
	return t.queue
}

// Drain processes the offline queue once, synchronously, sending each due
// item with freshly resolved auth headers.
func (t *Transport) Drain(ctx context.Context) {
	if t.queue == nil {
		return
	}
	t.queue.Process(ctx, t.plainSend, t.handler.ShouldRetry)
}

// Submit delivers body to endpoint. The response is returned as-is for any
// terminal status (2xx and non-retried 4xx/5xx alike; callers interpret the
// status). A network-level failure that survives the retry budget is queued
// for later when offline mode is enabled, and returned as the error either
// way.
func (t *Transport) Submit(ctx context.Context, endpoint string, body []byte, contentHeaders map[string]string) (*http.Response, error) {
	// Opportunistic drain of previously failed requests. Detached from the
	// submission context so a fast-returning Submit cannot cancel it, and
	// never awaited so a slow drain cannot block this submission.
	if t.queue != nil {
		drainCtx := context.WithoutCancel(ctx)
		go t.Drain(drainCtx)
	}

	// One-shot refresh state shared across all retry attempts of this call.
	refreshed := false
	credentials := t.authCfg

	op := func(ctx context.Context) (*http.Response, error) {
		resp, err := t.send(ctx, endpoint, body, contentHeaders, credentials)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || refreshed {
			return resp, nil
		}
		refreshable, ok := credentials.(auth.Refreshable)
		if !ok || refreshable.RefreshFunc() == nil {
			return resp, nil
		}
		refreshed = true
		token, rerr := refreshable.RefreshFunc()(ctx)
		if rerr != nil {
			// Surface the original 401 so the caller still has a
			// well-formed response to inspect.
			slog.Warn("Transport.Submit: token refresh failed, returning original 401", "error", rerr)
			return resp, nil
		}
		slog.Debug("Transport.Submit: token refreshed after 401, retrying once")
		credentials = refreshable.RefreshWith(token)
		discard(resp)
		return t.send(ctx, endpoint, body, contentHeaders, credentials)
	}

	resp, err := t.handler.ExecuteWithRetry(ctx, op, t.handler.ShouldRetry)
	if err != nil {
		if t.queue != nil && t.classify(err) {
			slog.Info("Transport.Submit: network failure after retries, queueing for later", "endpoint", endpoint, "error", err)
			t.queue.Enqueue(endpoint, body, contentHeaders)
		} else {
			slog.Error("Transport.Submit: delivery failed", "endpoint", endpoint, "error", err)
		}
		return nil, err
	}
	return resp, nil
}

// send performs one POST with content headers plus auth headers resolved
// from the given credentials at send time.
func (t *Transport) send(ctx context.Context, endpoint string, body []byte, contentHeaders map[string]string, credentials auth.Config) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range contentHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range auth.ResolveHeaders(credentials) {
		req.Header.Set(k, v)
	}
	return t.client.Do(req)
}

// plainSend is the queue's drain callback: a single send with live auth and
// no retry (the original submission already exhausted its backoff budget).
func (t *Transport) plainSend(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
	return t.send(ctx, endpoint, body, headers, t.authCfg)
}

// discard drops a response that will not be returned to the caller.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
