// Package reporter is the top-level client for delivering bug reports.
//
// It composes the deduplicator gate with the transport: a report is
// fingerprinted and checked before any network activity, marked in-progress
// for the duration of the submission, and recorded in the dedup window only
// after the server accepted it.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ReportPipe/internal/dedup"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/transport"
)

// Opts holds configuration options for the Reporter.
type Opts struct {
	Endpoint  string
	Transport *transport.Transport
	Dedup     dedup.Config
}

// Option defines a configuration option for the Reporter.
type Option func(*Opts)

// WithEndpoint sets the collection endpoint reports are delivered to.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) {
		o.Endpoint = endpoint
	}
}

// WithTransport injects the delivery transport.
func WithTransport(t *transport.Transport) Option {
	return func(o *Opts) {
		o.Transport = t
	}
}

// WithDedup sets the deduplication configuration.
func WithDedup(cfg dedup.Config) Option {
	return func(o *Opts) {
		o.Dedup = cfg
	}
}

// Reporter delivers bug reports exactly once per logical report.
type Reporter struct {
	endpoint  string
	transport *transport.Transport
	dedup     *dedup.Deduplicator
}

// New creates a Reporter and starts the deduplicator's sweep. Callers own
// the lifecycle and must call Close when done.
func New(opts ...Option) (*Reporter, error) {
	cfg := Opts{Dedup: dedup.DefaultConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("collection endpoint not set")
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.New()
	}
	d := dedup.New(cfg.Dedup)
	d.Start()
	slog.Debug("Reporter.New: reporter ready", "endpoint", cfg.Endpoint, "dedup_enabled", cfg.Dedup.Enabled)
	return &Reporter{
		endpoint:  cfg.Endpoint,
		transport: cfg.Transport,
		dedup:     d,
	}, nil
}

// Submit validates and delivers one bug report. A duplicate (identical
// report in flight, or recorded within the dedup window) returns
// models.ErrDuplicateReport without any network call. The returned response
// may carry a non-2xx status; callers decide how to interpret it.
func (r *Reporter) Submit(ctx context.Context, report *models.BugReport) (*http.Response, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	if r.dedup.IsDuplicate(report.Title, report.Description, report.ErrorDetails) {
		slog.Info("Reporter.Submit: duplicate report suppressed", "title", report.Title)
		return nil, models.ErrDuplicateReport
	}
	r.dedup.MarkInProgress(report.Title, report.Description, report.ErrorDetails)
	defer r.dedup.MarkComplete(report.Title, report.Description, report.ErrorDetails)

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize report: %w", err)
	}

	resp, err := r.transport.Submit(ctx, r.endpoint, payload, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		r.dedup.RecordSubmission(report.Title, report.Description, report.ErrorDetails)
	}
	return resp, nil
}

// Drain synchronously processes the offline queue, if one is configured.
func (r *Reporter) Drain(ctx context.Context) {
	r.transport.Drain(ctx)
}

// QueueSize returns the offline queue depth, or 0 when offline mode is off.
func (r *Reporter) QueueSize() int {
	if q := r.transport.Queue(); q != nil {
		return q.Size()
	}
	return 0
}

// Close tears down the deduplicator sweep and clears in-memory state.
func (r *Reporter) Close() {
	r.dedup.Destroy()
}
