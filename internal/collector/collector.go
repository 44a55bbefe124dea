// Package collector provides a development collection endpoint for ReportPipe.
//
// It receives bug reports over HTTP, keeps them in memory, and can inject
// failures (including Retry-After hints) so the delivery path's retry and
// offline behavior can be exercised end to end without a real backend.
package collector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Opts holds configuration options for the collector server.
type Opts struct {
	APIKey        string
	FailStatus    int
	FailCount     int
	RetryAfterSec int
}

// Option defines a configuration option for the collector server.
type Option func(*Opts)

// WithAPIKey requires submissions to carry this key (X-API-Key or bearer token).
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithFailures makes the next count submissions fail with status, optionally
// advertising a Retry-After hint in seconds.
func WithFailures(status, count, retryAfterSec int) Option {
	return func(o *Opts) {
		o.FailStatus = status
		o.FailCount = count
		o.RetryAfterSec = retryAfterSec
	}
}

// StoredReport is one received report with collector metadata.
type StoredReport struct {
	ID         string           `json:"id"`
	ReceivedAt time.Time        `json:"received_at"`
	Report     models.BugReport `json:"report"`
}

// Server is the in-memory collection endpoint.
type Server struct {
	apiKey string

	mu            sync.Mutex
	reports       []StoredReport
	failStatus    int
	failRemaining int
	retryAfterSec int
}

// NewServer creates a collector server, applying any provided options.
func NewServer(opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		apiKey:        cfg.APIKey,
		failStatus:    cfg.FailStatus,
		failRemaining: cfg.FailCount,
		retryAfterSec: cfg.RetryAfterSec,
	}
}

// Router returns the HTTP routes for the collector.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/reports", s.createReportHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/reports", s.listReportsHandler).Methods(http.MethodGet)
	return r
}

// Reports returns a copy of everything received so far.
func (s *Server) Reports() []StoredReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredReport(nil), s.reports...)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("collector up", nil))
}

func (s *Server) createReportHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		slog.Warn("Server.createReportHandler: unauthorized submission", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("invalid or missing credentials"))
		return
	}

	if status, retryAfter := s.takeInjectedFailure(); status != 0 {
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		slog.Debug("Server.createReportHandler: injecting failure", "status", status, "retryAfter", retryAfter)
		writeJSONResponse(w, status, models.Error("injected failure"))
		return
	}

	var report models.BugReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}
	if err := report.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	stored := StoredReport{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now(),
		Report:     report,
	}
	s.mu.Lock()
	s.reports = append(s.reports, stored)
	count := len(s.reports)
	s.mu.Unlock()

	slog.Info("Server.createReportHandler: report received", "id", stored.ID, "title", report.Title, "total", count)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"id": stored.ID}))
}

func (s *Server) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("invalid or missing credentials"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.Reports()))
}

// authorized checks the configured API key against X-API-Key or a bearer
// token. With no key configured, everything is allowed.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	if r.Header.Get("X-API-Key") == s.apiKey {
		return true
	}
	authz := r.Header.Get("Authorization")
	return strings.TrimPrefix(authz, "Bearer ") == s.apiKey && authz != ""
}

// takeInjectedFailure consumes one injected failure, returning (0, 0) when
// none remain.
func (s *Server) takeInjectedFailure() (status, retryAfter int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemaining <= 0 || s.failStatus == 0 {
		return 0, 0
	}
	s.failRemaining--
	return s.failStatus, s.retryAfterSec
}

// Run serves the collector on addr until the listener fails.
func (s *Server) Run(addr string) error {
	slog.Info("Server.Run: collector listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("collector server failed: %w", err)
	}
	return nil
}
