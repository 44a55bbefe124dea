// Package models defines the core data structures for ReportPipe.
//
// It includes the bug report payload assembled by capture producers and the
// response envelope shared between the reporter client and the collector.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxTitleLength defines the maximum allowed length for a report title
	MaxTitleLength = 512
	// MaxDescriptionLength defines the maximum allowed length for a report description
	MaxDescriptionLength = 16384
	// MaxErrorDetails defines the maximum number of error entries carried per report
	MaxErrorDetails = 50
)

// Error variables for better error handling and testability
var (
	ErrEmptyTitle         = errors.New("report title cannot be empty")
	ErrTitleTooLong       = errors.New("report title exceeds maximum length")
	ErrDescriptionTooLong = errors.New("report description exceeds maximum length")
	ErrTooManyErrors      = errors.New("report carries too many error entries")
	ErrDuplicateReport    = errors.New("duplicate report suppressed")
)

// ErrorDetail captures one recorded error from the host application.
// Stack may be empty when the runtime did not provide one.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ConsoleEntry is a single captured console line.
type ConsoleEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    int64  `json:"time"` // epoch milliseconds
}

// NetworkEntry summarizes one captured network request.
type NetworkEntry struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
}

// BugReport is the payload delivered to the collection endpoint. Replay events
// and the screenshot reference are produced by external capture collaborators
// and carried opaquely.
type BugReport struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	ErrorDetails   []ErrorDetail     `json:"error_details,omitempty"`
	ConsoleEntries []ConsoleEntry    `json:"console_entries,omitempty"`
	NetworkEntries []NetworkEntry    `json:"network_entries,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReplayEvents   json.RawMessage   `json:"replay_events,omitempty"`
	ScreenshotRef  string            `json:"screenshot_ref,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Validate performs validation on a BugReport structure.
func (r *BugReport) Validate() error {
	if r.Title == "" {
		return ErrEmptyTitle
	}
	if len(r.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if len(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if len(r.ErrorDetails) > MaxErrorDetails {
		return ErrTooManyErrors
	}
	return nil
}
