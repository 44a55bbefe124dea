// Package transport delivers a serialized bug report to the collection
// endpoint.
//
// This file classifies errors as network-level or not. The classification
// decides whether a failed submission is worth queueing for a later drain;
// it is deliberately conservative, so ambiguous errors are not queued rather
// than sitting in the queue forever as malformed requests.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// networkErrorKeywords are matched against error text as a fallback for
// errors that do not expose a typed cause.
var networkErrorKeywords = []string{
	"connection refused",
	"connection reset",
	"connection aborted",
	"no such host",
	"network is unreachable",
	"host is unreachable",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"server closed",
}

// networkErrnos are the syscall-level failures treated as network errors.
var networkErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
}

// IsNetworkError reports whether err represents a network-level delivery
// failure (as opposed to a malformed request or a caller bug). It is the
// default classifier; WithClassifier replaces it.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	for _, errno := range networkErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range networkErrorKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
