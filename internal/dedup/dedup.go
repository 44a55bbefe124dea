// Package dedup suppresses duplicate bug report submissions.
//
// A fingerprint is derived from the normalized title and description plus a
// stable serialization of the error details. Two tiers block duplicates: an
// in-progress set catches concurrent submissions of the same report (a
// double-click firing twice before either call completes), and a sliding
// time-window cache catches resubmissions of a recently delivered report.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Default deduplication settings.
const (
	// DefaultWindow is how long a recorded submission blocks identical reports.
	DefaultWindow = 1 * time.Minute
	// DefaultMaxCacheSize bounds the fingerprint cache.
	DefaultMaxCacheSize = 100
)

// fieldSeparator keeps adjacent fields from colliding in the hash input.
const fieldSeparator = "\x1f"

// Config controls the deduplicator.
type Config struct {
	Enabled      bool
	Window       time.Duration
	MaxCacheSize int
}

// DefaultConfig returns the default deduplication configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, Window: DefaultWindow, MaxCacheSize: DefaultMaxCacheSize}
}

// Fingerprint derives the deduplication key for a report. Title and
// description are trimmed and case-folded; error details are folded in
// sequentially, so the order of an error array is significant: reports whose
// error lists differ only in order are treated as distinct failures.
func Fingerprint(title, description string, errorDetails []models.ErrorDetail) string {
	h := sha256.New()
	io.WriteString(h, normalize(title))
	io.WriteString(h, fieldSeparator)
	io.WriteString(h, normalize(description))
	for _, e := range errorDetails {
		io.WriteString(h, fieldSeparator)
		io.WriteString(h, e.Message)
		io.WriteString(h, fieldSeparator)
		io.WriteString(h, e.Stack)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Deduplicator holds the in-progress set and the time-windowed fingerprint
// cache. All methods are safe for concurrent use.
type Deduplicator struct {
	mu         sync.Mutex
	cfg        Config
	cache      map[string]time.Time
	order      []string // insertion order, oldest first
	inProgress map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Deduplicator. Call Start to run the periodic sweep and
// Destroy to tear it down.
func New(cfg Config) *Deduplicator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = DefaultMaxCacheSize
	}
	return &Deduplicator{
		cfg:        cfg,
		cache:      make(map[string]time.Time),
		inProgress: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the periodic sweep that expires cache entries older than
// the window. It returns immediately; the sweep stops on Destroy.
func (d *Deduplicator) Start() {
	if !d.cfg.Enabled {
		return
	}
	interval := d.cfg.Window / 2
	slog.Debug("Deduplicator.Start: starting sweep", "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.done:
				return
			case <-ticker.C:
				d.sweep()
			}
		}
	}()
}

// Destroy stops the sweep and clears all state. Safe to call more than once.
func (d *Deduplicator) Destroy() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	d.Clear()
}

// IsDuplicate reports whether a report with this fingerprint is currently
// in flight or was recorded within the window.
func (d *Deduplicator) IsDuplicate(title, description string, errorDetails []models.ErrorDetail) bool {
	if !d.cfg.Enabled {
		return false
	}
	key := Fingerprint(title, description, errorDetails)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inProgress[key]; ok {
		return true
	}
	recordedAt, ok := d.cache[key]
	if !ok {
		return false
	}
	if time.Since(recordedAt) >= d.cfg.Window {
		d.remove(key)
		return false
	}
	return true
}

// IsInProgress reports whether an identical submission is currently in flight.
func (d *Deduplicator) IsInProgress(title, description string, errorDetails []models.ErrorDetail) bool {
	if !d.cfg.Enabled {
		return false
	}
	key := Fingerprint(title, description, errorDetails)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inProgress[key]
	return ok
}

// MarkInProgress records that a submission with this fingerprint has started.
func (d *Deduplicator) MarkInProgress(title, description string, errorDetails []models.ErrorDetail) {
	if !d.cfg.Enabled {
		return
	}
	key := Fingerprint(title, description, errorDetails)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inProgress[key] = struct{}{}
}

// MarkComplete records that a submission with this fingerprint has finished,
// successfully or not.
func (d *Deduplicator) MarkComplete(title, description string, errorDetails []models.ErrorDetail) {
	if !d.cfg.Enabled {
		return
	}
	key := Fingerprint(title, description, errorDetails)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inProgress, key)
}

// RecordSubmission inserts the fingerprint into the time-window cache. When
// the cache is at capacity the single oldest entry is evicted first, so the
// size bound holds immediately after every insert.
func (d *Deduplicator) RecordSubmission(title, description string, errorDetails []models.ErrorDetail) {
	if !d.cfg.Enabled {
		return
	}
	key := Fingerprint(title, description, errorDetails)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache[key]; ok {
		d.remove(key)
	}
	if len(d.cache) >= d.cfg.MaxCacheSize && len(d.order) > 0 {
		oldest := d.order[0]
		d.remove(oldest)
		slog.Debug("Deduplicator.RecordSubmission: cache full, evicted oldest", "evicted", oldest[:8])
	}
	d.cache[key] = time.Now()
	d.order = append(d.order, key)
}

// Clear empties the cache and the in-progress set.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]time.Time)
	d.order = nil
	d.inProgress = make(map[string]struct{})
}

// CacheSize returns the number of fingerprints in the time-window cache.
func (d *Deduplicator) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// sweep removes entries older than the window.
func (d *Deduplicator) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, key := range append([]string(nil), d.order...) {
		recordedAt, ok := d.cache[key]
		if !ok {
			continue
		}
		if now.Sub(recordedAt) >= d.cfg.Window {
			d.remove(key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Deduplicator.sweep: expired entries removed", "count", removed, "remaining", len(d.cache))
	}
}

// remove deletes key from the cache and the order list. Callers hold d.mu.
func (d *Deduplicator) remove(key string) {
	delete(d.cache, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}
