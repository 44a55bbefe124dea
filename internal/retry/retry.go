// Package retry executes a single logical HTTP operation under a retry policy.
//
// The delay schedule is exponential backoff with symmetric jitter, bounded by
// a maximum delay, and overridden by a server-provided Retry-After hint when
// one is present on the response.
package retry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry policy values.
const (
	// DefaultMaxRetries is the number of retries after the initial attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay bounds any computed or server-provided delay.
	DefaultMaxDelay = 30 * time.Second
	// jitterFactor is the symmetric randomization applied to computed delays.
	jitterFactor = 0.1
)

// DefaultRetryableStatusCodes returns the status codes retried by default.
func DefaultRetryableStatusCodes() map[int]bool {
	return map[int]bool{
		http.StatusBadGateway:         true,
		http.StatusServiceUnavailable: true,
		http.StatusGatewayTimeout:     true,
		http.StatusTooManyRequests:    true,
	}
}

// Config holds the retry policy for one handler.
type Config struct {
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes map[int]bool
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           DefaultMaxRetries,
		BaseDelay:            DefaultBaseDelay,
		MaxDelay:             DefaultMaxDelay,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// normalized fills zero values with defaults and enforces BaseDelay <= MaxDelay.
func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.BaseDelay > c.MaxDelay {
		c.BaseDelay = c.MaxDelay
	}
	if c.RetryableStatusCodes == nil {
		c.RetryableStatusCodes = DefaultRetryableStatusCodes()
	}
	return c
}

// Operation performs one attempt of the underlying HTTP call. A returned
// error represents a network-level failure; a response is returned for any
// status code.
type Operation func(ctx context.Context) (*http.Response, error)

// Handler retries an Operation according to its Config. Attempts within one
// ExecuteWithRetry call are strictly sequential.
type Handler struct {
	cfg Config

	// sleep is replaced in tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHandler creates a Handler with the given policy.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg.normalized(), sleep: sleepCtx}
}

// Config returns the normalized policy the handler runs under.
func (h *Handler) Config() Config { return h.cfg }

// ShouldRetry reports whether status is configured as retryable.
func (h *Handler) ShouldRetry(status int) bool {
	return h.cfg.RetryableStatusCodes[status]
}

// ExecuteWithRetry runs op up to MaxRetries+1 times. A network error or a
// response whose status satisfies shouldRetry triggers a delayed retry while
// budget remains; any other response is returned immediately. Once the budget
// is exhausted the last response is returned, or the last error when no
// response exists. If shouldRetry is nil the handler's configured status set
// is used.
func (h *Handler) ExecuteWithRetry(ctx context.Context, op Operation, shouldRetry func(status int) bool) (*http.Response, error) {
	if shouldRetry == nil {
		shouldRetry = h.ShouldRetry
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.cfg.BaseDelay
	policy.RandomizationFactor = jitterFactor
	policy.Multiplier = 2
	policy.MaxInterval = h.cfg.MaxDelay

	for attempt := 0; ; attempt++ {
		resp, err := op(ctx)
		if err != nil {
			if attempt >= h.cfg.MaxRetries {
				slog.Debug("Handler.ExecuteWithRetry: budget exhausted on network error", "attempts", attempt+1, "error", err)
				return nil, err
			}
			delay := h.nextDelay(policy, nil)
			slog.Debug("Handler.ExecuteWithRetry: network error, retrying", "attempt", attempt, "delay", delay, "error", err)
			if serr := h.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}

		if shouldRetry(resp.StatusCode) && attempt < h.cfg.MaxRetries {
			delay := h.nextDelay(policy, resp)
			slog.Debug("Handler.ExecuteWithRetry: retryable status, retrying", "attempt", attempt, "status", resp.StatusCode, "delay", delay)
			drainBody(resp)
			if serr := h.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}

		// Success, non-retryable status, or a retryable status with no
		// budget left: the response itself is the outcome.
		return resp, nil
	}
}

// nextDelay computes the delay before the next attempt. A parseable integer
// Retry-After header takes precedence over the backoff schedule; either way
// the result is clamped to MaxDelay after jitter.
func (h *Handler) nextDelay(policy *backoff.ExponentialBackOff, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				// Advance the schedule so a later computed delay does not
				// restart from the base interval.
				policy.NextBackOff()
				d := time.Duration(secs) * time.Second
				if d > h.cfg.MaxDelay {
					d = h.cfg.MaxDelay
				}
				return d
			}
		}
	}
	d := policy.NextBackOff()
	if d == backoff.Stop || d > h.cfg.MaxDelay {
		d = h.cfg.MaxDelay
	}
	return d
}

// drainBody discards and closes a response body so the connection can be
// reused by the next attempt.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
