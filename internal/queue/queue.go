// Package queue provides the durable offline queue for failed submissions.
//
// The queue is a bounded FIFO of requests that failed with a network-level
// error. It survives restarts through a Storage adapter and is drained
// opportunistically; persistence problems are recovered locally and never
// surfaced to the submission path.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Queue limits and defaults.
const (
	// MaxRetryAttempts is the number of drain attempts before an item is dropped.
	MaxRetryAttempts = 5
	// MaxItemAge is how long an item may wait in the queue before expiring.
	MaxItemAge = 7 * 24 * time.Hour
	// MaxItemBytes is the per-item body ceiling; larger bodies are not queued.
	MaxItemBytes = 100 * 1024
	// DefaultMaxQueueSize bounds the queue when no size is configured.
	DefaultMaxQueueSize = 10
	// DefaultNamespace prefixes the storage key when none is configured.
	DefaultNamespace = "reportpipe"
	// queueKeySuffix completes the storage key: "<namespace>_offline_queue".
	queueKeySuffix = "_offline_queue"
)

// alwaysStrippedHeaders are removed from every queued request regardless of
// configuration. Auth is regenerated from the live credential config at drain
// time, so credentials never reach durable storage.
var alwaysStrippedHeaders = []string{"Authorization", "X-API-Key", "Proxy-Authorization"}

// Config controls offline queueing.
type Config struct {
	Enabled      bool
	MaxQueueSize int
}

// DefaultConfig returns the default offline configuration (disabled).
func DefaultConfig() Config {
	return Config{Enabled: false, MaxQueueSize: DefaultMaxQueueSize}
}

// QueuedRequest is one persisted failed submission. Body is textual JSON;
// Headers carry content headers only.
type QueuedRequest struct {
	ID        string            `json:"id"`
	Endpoint  string            `json:"endpoint"`
	Body      string            `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp int64             `json:"timestamp"` // epoch milliseconds
	Attempts  int               `json:"attempts"`
}

// SendFunc performs one plain send of a queued request. The transport
// supplies a closure that attaches freshly resolved auth headers.
type SendFunc func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error)

// Option configures an OfflineQueue.
type Option func(*OfflineQueue)

// WithNamespace sets the storage key namespace.
func WithNamespace(ns string) Option {
	return func(q *OfflineQueue) {
		if ns != "" {
			q.namespace = ns
		}
	}
}

// WithStrippedHeader adds a header name removed from requests before they are
// persisted, on top of the standard auth headers. Used for custom auth
// header names.
func WithStrippedHeader(name string) Option {
	return func(q *OfflineQueue) {
		if name != "" {
			q.stripHeaders = append(q.stripHeaders, name)
		}
	}
}

// OfflineQueue is a bounded, persistent FIFO of failed requests.
type OfflineQueue struct {
	mu           sync.Mutex
	storage      Storage
	cfg          Config
	namespace    string
	stripHeaders []string
	draining     atomic.Bool
}

// New creates an OfflineQueue over the given storage adapter.
func New(storage Storage, cfg Config, opts ...Option) *OfflineQueue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	q := &OfflineQueue{
		storage:   storage,
		cfg:       cfg,
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// key returns the storage key the queue persists under.
func (q *OfflineQueue) key() string {
	return q.namespace + queueKeySuffix
}

// Enqueue stores a failed request for a later drain. Binary and oversized
// bodies are rejected at the boundary (logged, not queued, never an error);
// auth headers are stripped before the request is persisted. When the queue
// is full the oldest entry is evicted first.
func (q *OfflineQueue) Enqueue(endpoint string, body []byte, headers map[string]string) {
	if !utf8.Valid(body) {
		slog.Warn("OfflineQueue.Enqueue: rejecting binary body", "endpoint", endpoint, "bytes", len(body))
		return
	}
	if len(body) > MaxItemBytes {
		slog.Warn("OfflineQueue.Enqueue: rejecting oversized body", "endpoint", endpoint, "bytes", len(body), "limit", MaxItemBytes)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.load()
	for len(list) >= q.cfg.MaxQueueSize {
		slog.Debug("OfflineQueue.Enqueue: queue full, evicting oldest", "evictedID", list[0].ID)
		list = list[1:]
	}
	req := QueuedRequest{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		Body:      string(body),
		Headers:   q.sanitizeHeaders(headers),
		Timestamp: time.Now().UnixMilli(),
	}
	list = append(list, req)
	q.persist(list)
	slog.Debug("OfflineQueue.Enqueue: request queued", "id", req.ID, "endpoint", endpoint, "queueSize", len(list))
}

// Process drains the queue once: every due item gets a single plain send (the
// original submission already exhausted its backoff budget). Succeeded,
// expired, over-attempted, and permanently rejected items are dropped; the
// survivors are written back as one atomic replace. Overlapping Process
// calls collapse into one.
func (q *OfflineQueue) Process(ctx context.Context, send SendFunc, shouldRetry func(status int) bool) {
	if !q.draining.CompareAndSwap(false, true) {
		slog.Debug("OfflineQueue.Process: drain already running, skipping")
		return
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	list := q.load()
	q.mu.Unlock()
	if len(list) == 0 {
		return
	}
	slog.Debug("OfflineQueue.Process: draining queue", "size", len(list))

	now := time.Now()
	var survivors []QueuedRequest
	for _, item := range list {
		if item.Attempts >= MaxRetryAttempts {
			slog.Warn("OfflineQueue.Process: dropping item after max attempts", "id", item.ID, "attempts", item.Attempts)
			continue
		}
		if age := now.Sub(time.UnixMilli(item.Timestamp)); age > MaxItemAge {
			slog.Warn("OfflineQueue.Process: dropping expired item", "id", item.ID, "age", age)
			continue
		}

		resp, err := send(ctx, item.Endpoint, []byte(item.Body), item.Headers)
		if err != nil {
			item.Attempts++
			survivors = append(survivors, item)
			slog.Debug("OfflineQueue.Process: send failed, keeping item", "id", item.ID, "attempts", item.Attempts, "error", err)
			continue
		}
		status := resp.StatusCode
		closeBody(resp)
		switch {
		case status >= 200 && status < 300:
			slog.Info("OfflineQueue.Process: queued request delivered", "id", item.ID, "endpoint", item.Endpoint)
		case shouldRetry != nil && shouldRetry(status):
			item.Attempts++
			survivors = append(survivors, item)
			slog.Debug("OfflineQueue.Process: retryable status, keeping item", "id", item.ID, "status", status, "attempts", item.Attempts)
		default:
			slog.Warn("OfflineQueue.Process: dropping item on permanent failure", "id", item.ID, "status", status)
		}
	}

	q.mu.Lock()
	q.persist(survivors)
	q.mu.Unlock()
	slog.Debug("OfflineQueue.Process: drain complete", "remaining", len(survivors))
}

// Clear removes all queued requests.
func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.storage.Remove(q.key()); err != nil {
		slog.Error("OfflineQueue.Clear: remove failed", "error", err)
	}
}

// Size returns the number of queued requests.
func (q *OfflineQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load())
}

// load reads the persisted list. Corrupt or non-JSON data is treated as an
// empty queue and the entry is wiped so it does not fail on every read.
// Callers hold q.mu.
func (q *OfflineQueue) load() []QueuedRequest {
	raw, err := q.storage.Get(q.key())
	if err != nil {
		slog.Error("OfflineQueue.load: storage read failed", "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var list []QueuedRequest
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		slog.Warn("OfflineQueue.load: corrupt persisted queue, resetting", "error", err)
		if rerr := q.storage.Remove(q.key()); rerr != nil {
			slog.Error("OfflineQueue.load: failed to wipe corrupt entry", "error", rerr)
		}
		return nil
	}
	return list
}

// persist writes the whole list in one replace. A quota failure drops the
// oldest half and retries once; if that still fails the queue is cleared
// rather than left inconsistent. Callers hold q.mu.
func (q *OfflineQueue) persist(list []QueuedRequest) {
	if len(list) == 0 {
		if err := q.storage.Remove(q.key()); err != nil {
			slog.Error("OfflineQueue.persist: remove failed", "error", err)
		}
		return
	}
	if q.write(list) {
		return
	}
	half := list[len(list)/2:]
	slog.Warn("OfflineQueue.persist: storage quota exceeded, halving queue", "before", len(list), "after", len(half))
	if q.write(half) {
		return
	}
	slog.Error("OfflineQueue.persist: storage still exhausted after halving, clearing queue")
	if err := q.storage.Remove(q.key()); err != nil {
		slog.Error("OfflineQueue.persist: clear after quota failure also failed", "error", err)
	}
}

// write marshals and stores list, reporting success. Non-quota write errors
// are logged and reported as success to avoid a pointless halving loop.
func (q *OfflineQueue) write(list []QueuedRequest) bool {
	data, err := json.Marshal(list)
	if err != nil {
		slog.Error("OfflineQueue.write: marshal failed", "error", err)
		return true
	}
	err = q.storage.Set(q.key(), string(data))
	if err == nil {
		return true
	}
	if IsQuotaExceeded(err) {
		return false
	}
	slog.Error("OfflineQueue.write: storage write failed", "error", err)
	return true
}

// sanitizeHeaders copies headers minus auth headers and configured stripped
// names. Matching is case-insensitive.
func (q *OfflineQueue) sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	stripped := make(map[string]bool, len(alwaysStrippedHeaders)+len(q.stripHeaders))
	for _, name := range alwaysStrippedHeaders {
		stripped[strings.ToLower(name)] = true
	}
	for _, name := range q.stripHeaders {
		stripped[strings.ToLower(name)] = true
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if stripped[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// closeBody discards and closes a drain response body.
func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}
