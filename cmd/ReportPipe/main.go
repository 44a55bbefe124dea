package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ReportPipe/internal/auth"
	"github.com/BTreeMap/ReportPipe/internal/dedup"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/queue"
	"github.com/BTreeMap/ReportPipe/internal/reporter"
	"github.com/BTreeMap/ReportPipe/internal/retry"
	"github.com/BTreeMap/ReportPipe/internal/transport"
	"github.com/BTreeMap/ReportPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReportPipe state data
	DefaultStateDir = "/var/lib/reportpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "reportpipe.db"
	// DefaultDrainInterval is how often -drain mode processes the offline queue
	DefaultDrainInterval = 30 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Build the delivery stack
	storage, err := buildStorage(flags)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	rep, err := reporter.New(
		reporter.WithEndpoint(*flags.endpoint),
		reporter.WithTransport(buildTransport(flags, storage)),
		reporter.WithDedup(buildDedupConfig(flags)),
	)
	if err != nil {
		slog.Error("Failed to initialize reporter", "error", err)
		os.Exit(1)
	}
	defer rep.Close()

	if *flags.drain {
		runDrainLoop(rep, *flags.drainInterval)
		return
	}

	if *flags.reportFile == "" {
		slog.Error("No report file specified; use -report <path> or -drain")
		os.Exit(1)
	}
	if err := submitReportFile(rep, *flags.reportFile); err != nil {
		slog.Error("Report submission failed", "error", err, "file", *flags.reportFile)
		os.Exit(1)
	}
	slog.Info("ReportPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Token         string
	StateDir      string
	DatabaseDSN   string
	Offline       bool
	MaxQueueSize  int
	DedupWindow   time.Duration
	DrainInterval time.Duration
}

// Flags holds command line flag values
type Flags struct {
	endpoint      *string
	reportFile    *string
	apiKey        *string
	token         *string
	stateDir      *string
	dbDSN         *string
	offline       *bool
	maxQueueSize  *int
	dedupWindow   *time.Duration
	drain         *bool
	drainInterval *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Endpoint:      os.Getenv("REPORTPIPE_ENDPOINT"),
		APIKey:        os.Getenv("REPORTPIPE_API_KEY"),
		Token:         os.Getenv("REPORTPIPE_TOKEN"),
		StateDir:      os.Getenv("REPORTPIPE_STATE_DIR"),
		DatabaseDSN:   os.Getenv("DATABASE_URL"),
		Offline:       util.ParseBoolEnv("REPORTPIPE_OFFLINE", false),
		MaxQueueSize:  util.ParseIntEnv("REPORTPIPE_MAX_QUEUE_SIZE", queue.DefaultMaxQueueSize),
		DedupWindow:   util.ParseDurationEnv("REPORTPIPE_DEDUP_WINDOW", dedup.DefaultWindow),
		DrainInterval: util.ParseDurationEnv("REPORTPIPE_DRAIN_INTERVAL", DefaultDrainInterval),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPORTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"REPORTPIPE_ENDPOINT", config.Endpoint,
		"REPORTPIPE_API_KEY_SET", config.APIKey != "",
		"REPORTPIPE_TOKEN_SET", config.Token != "",
		"REPORTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"REPORTPIPE_OFFLINE", config.Offline,
		"REPORTPIPE_MAX_QUEUE_SIZE", config.MaxQueueSize)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		endpoint:      flag.String("endpoint", config.Endpoint, "collection endpoint URL (overrides $REPORTPIPE_ENDPOINT)"),
		reportFile:    flag.String("report", "", "path to a bug report JSON file to submit"),
		apiKey:        flag.String("api-key", config.APIKey, "API key credential (overrides $REPORTPIPE_API_KEY)"),
		token:         flag.String("token", config.Token, "bearer token credential (overrides $REPORTPIPE_TOKEN)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for offline queue data (overrides $REPORTPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseDSN, "database DSN for offline queue storage (overrides $DATABASE_URL)"),
		offline:       flag.Bool("offline", config.Offline, "queue failed submissions for a later drain (overrides $REPORTPIPE_OFFLINE)"),
		maxQueueSize:  flag.Int("max-queue-size", config.MaxQueueSize, "maximum offline queue depth (overrides $REPORTPIPE_MAX_QUEUE_SIZE)"),
		dedupWindow:   flag.Duration("dedup-window", config.DedupWindow, "duplicate suppression window (overrides $REPORTPIPE_DEDUP_WINDOW)"),
		drain:         flag.Bool("drain", false, "run a periodic offline queue drain instead of submitting"),
		drainInterval: flag.Duration("drain-interval", config.DrainInterval, "interval between drains in -drain mode (overrides $REPORTPIPE_DRAIN_INTERVAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"endpoint", *flags.endpoint,
		"reportFile", *flags.reportFile,
		"apiKeySet", *flags.apiKey != "",
		"tokenSet", *flags.token != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"offline", *flags.offline,
		"drain", *flags.drain)

	return flags
}

// buildStorage selects the offline queue storage adapter from the DSN, or
// falls back to file storage in the state directory.
func buildStorage(flags Flags) (queue.Storage, error) {
	if !*flags.offline && !*flags.drain {
		return nil, nil
	}
	if *flags.dbDSN != "" {
		if queue.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL storage")
			return queue.NewPostgresStorage(queue.WithPostgresDSN(*flags.dbDSN))
		}
		slog.Debug("Detected SQLite DSN, configuring SQLite storage", "db_path", *flags.dbDSN)
		return queue.NewSQLiteStorage(queue.WithSQLiteDSN(*flags.dbDSN))
	}
	dbPath := filepath.Join(*flags.stateDir, DefaultDBFileName)
	slog.Debug("No database DSN provided, defaulting to SQLite in state directory", "sqlite_path", dbPath)
	return queue.NewSQLiteStorage(queue.WithSQLiteDSN(dbPath))
}

// buildAuthConfig constructs the credential configuration from flags.
func buildAuthConfig(flags Flags) auth.Config {
	if *flags.apiKey != "" {
		return auth.APIKey{Key: *flags.apiKey}
	}
	if *flags.token != "" {
		return auth.ParseLegacy(*flags.token)
	}
	return auth.None{}
}

// buildTransport constructs the delivery transport from flags.
func buildTransport(flags Flags, storage queue.Storage) *transport.Transport {
	opts := []transport.Option{
		transport.WithAuth(buildAuthConfig(flags)),
		transport.WithRetry(retry.DefaultConfig()),
	}
	if *flags.offline || *flags.drain {
		opts = append(opts,
			transport.WithOffline(queue.Config{Enabled: true, MaxQueueSize: *flags.maxQueueSize}),
			transport.WithStorage(storage),
		)
	}
	return transport.New(opts...)
}

// buildDedupConfig constructs the deduplication configuration from flags.
func buildDedupConfig(flags Flags) dedup.Config {
	cfg := dedup.DefaultConfig()
	cfg.Window = *flags.dedupWindow
	return cfg
}

// submitReportFile reads a bug report JSON file and delivers it.
func submitReportFile(rep *reporter.Reporter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var report models.BugReport
	if err := json.Unmarshal(data, &report); err != nil {
		return err
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	resp, err := rep.Submit(context.Background(), &report)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	slog.Info("Report delivered", "status", resp.StatusCode, "title", report.Title)
	return nil
}

// runDrainLoop periodically processes the offline queue until interrupted.
func runDrainLoop(rep *reporter.Reporter, interval time.Duration) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting offline queue drain loop", "interval", interval, "queued", rep.QueueSize())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Drain once immediately so a restart delivers backlog without waiting.
	rep.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Drain loop stopping", "queued", rep.QueueSize())
			return
		case <-ticker.C:
			rep.Drain(ctx)
		}
	}
}
