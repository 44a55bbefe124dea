// Package queue provides the durable offline queue for failed submissions.
//
// This file defines the Storage interface the queue persists through, the
// in-memory adapter, and quota-exceeded detection shared by all adapters.
package queue

import (
	"errors"
	"strings"
	"sync"
	"syscall"
)

// ErrQuotaExceeded is wrapped by storage adapters when the backing store is
// out of space. The queue reacts by trimming itself and retrying the write.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// quotaErrorCode is the legacy numeric code some stores report for quota
// exhaustion (DOMException.QUOTA_EXCEEDED_ERR).
const quotaErrorCode = 22

// coder is implemented by storage errors that expose a numeric error code.
type coder interface {
	Code() int
}

// quotaKeywords are matched case-insensitively against error text as a
// portability fallback for stores that do not wrap ErrQuotaExceeded.
var quotaKeywords = []string{
	"quota",
	"disk is full",
	"no space left",
	"database or disk is full",
}

// IsQuotaExceeded reports whether err indicates storage exhaustion, by
// sentinel, syscall errno, numeric code, or message keyword.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, syscall.ENOSPC) {
		return true
	}
	var c coder
	if errors.As(err, &c) && c.Code() == quotaErrorCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range quotaKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Storage is the narrow key-value capability the queue persists through.
// Get returns an empty string for an absent key.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// InMemoryStorage is a process-local Storage, used as the default backend and
// in tests. An optional byte quota makes it exercise the queue's
// quota-recovery path.
type InMemoryStorage struct {
	mu       sync.Mutex
	data     map[string]string
	maxBytes int
}

// MemoryOption configures an InMemoryStorage.
type MemoryOption func(*InMemoryStorage)

// WithMaxBytes caps the total value bytes the store accepts; writes beyond
// the cap fail with ErrQuotaExceeded.
func WithMaxBytes(n int) MemoryOption {
	return func(s *InMemoryStorage) {
		s.maxBytes = n
	}
}

// NewInMemoryStorage creates an empty in-memory store.
func NewInMemoryStorage(opts ...MemoryOption) *InMemoryStorage {
	s := &InMemoryStorage{data: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStorage) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *InMemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes > 0 {
		total := len(value)
		for k, v := range s.data {
			if k != key {
				total += len(v)
			}
		}
		if total > s.maxBytes {
			return ErrQuotaExceeded
		}
	}
	s.data[key] = value
	return nil
}

func (s *InMemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
