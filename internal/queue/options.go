// Package queue provides the durable offline queue for failed submissions.
//
// This file holds the shared configuration options for the database-backed
// storage adapters.
package queue

import "strings"

// Opts holds configuration options for the storage adapters.
type Opts struct {
	SQLiteDSN   string // file path of the SQLite database
	PostgresDSN string // PostgreSQL connection string
}

// StorageOption defines a configuration option for a storage adapter.
type StorageOption func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) StorageOption {
	return func(o *Opts) {
		o.SQLiteDSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) StorageOption {
	return func(o *Opts) {
		o.PostgresDSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" so callers can
// pick the matching adapter. File paths are assumed to be SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
