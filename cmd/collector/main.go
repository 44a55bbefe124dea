package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ReportPipe/internal/collector"
	"github.com/BTreeMap/ReportPipe/internal/util"
)

// DefaultAddr is the default listen address for the development collector.
const DefaultAddr = ":8080"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	addr := flag.String("addr", envOr("COLLECTOR_ADDR", DefaultAddr), "listen address (overrides $COLLECTOR_ADDR)")
	apiKey := flag.String("api-key", os.Getenv("COLLECTOR_API_KEY"), "require this API key on submissions (overrides $COLLECTOR_API_KEY)")
	failStatus := flag.Int("fail-status", util.ParseIntEnv("COLLECTOR_FAIL_STATUS", 0), "inject this status code on submissions")
	failCount := flag.Int("fail-count", util.ParseIntEnv("COLLECTOR_FAIL_COUNT", 0), "number of submissions to fail before accepting")
	retryAfter := flag.Int("retry-after", util.ParseIntEnv("COLLECTOR_RETRY_AFTER", 0), "Retry-After seconds advertised on injected failures")
	flag.Parse()

	var opts []collector.Option
	if *apiKey != "" {
		opts = append(opts, collector.WithAPIKey(*apiKey))
	}
	if *failStatus != 0 && *failCount > 0 {
		opts = append(opts, collector.WithFailures(*failStatus, *failCount, *retryAfter))
	}

	srv := collector.NewServer(opts...)
	if err := srv.Run(*addr); err != nil {
		slog.Error("Collector failed to run", "error", err)
		os.Exit(1)
	}
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
