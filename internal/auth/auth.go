// Package auth resolves outbound request headers from a credential configuration.
//
// Exactly one credential kind is active per submission. Headers are never
// persisted; they are recomputed from the live configuration at send time,
// including when a queued request is drained later.
package auth

import (
	"context"
	"strings"
)

// Header names emitted by the resolver.
const (
	// HeaderAPIKey carries api-key credentials.
	HeaderAPIKey = "X-API-Key"
	// HeaderAuthorization carries bearer and JWT credentials.
	HeaderAuthorization = "Authorization"
)

// RefreshFunc obtains a fresh token after the server rejects the current one.
// It is supplied by the host application and invoked at most once per 401 per
// submission.
type RefreshFunc func(ctx context.Context) (string, error)

// Config is the credential configuration for one submission. Implementations
// are the credential variants below; using an interface keeps "exactly one
// credential kind is active" structural rather than a field convention.
type Config interface {
	// headers returns the authentication headers for one attempt. A missing
	// or empty credential degrades to no headers rather than erroring.
	headers() map[string]string
}

// Refreshable is implemented by credential variants that can obtain a fresh
// token after a 401. The returned variant carries the new token.
type Refreshable interface {
	Config
	RefreshWith(token string) Config
	RefreshFunc() RefreshFunc
}

// APIKey authenticates with an X-API-Key header.
type APIKey struct {
	Key string
}

func (c APIKey) headers() map[string]string {
	if c.Key == "" {
		return map[string]string{}
	}
	return map[string]string{HeaderAPIKey: c.Key}
}

// Bearer authenticates with an Authorization: Bearer header. Refresh, when
// non-nil, is the host-supplied token refresh capability.
type Bearer struct {
	Token   string
	Refresh RefreshFunc
}

func (c Bearer) headers() map[string]string {
	if c.Token == "" {
		return map[string]string{}
	}
	return map[string]string{HeaderAuthorization: "Bearer " + c.Token}
}

// RefreshWith returns a Bearer carrying the refreshed token.
func (c Bearer) RefreshWith(token string) Config {
	return Bearer{Token: token, Refresh: c.Refresh}
}

// RefreshFunc returns the host-supplied refresh capability, or nil.
func (c Bearer) RefreshFunc() RefreshFunc { return c.Refresh }

// JWT authenticates with an Authorization: Bearer header carrying a JWT.
// It is wire-identical to Bearer but kept as its own variant so callers can
// state which credential kind the host handed them.
type JWT struct {
	Token   string
	Refresh RefreshFunc
}

func (c JWT) headers() map[string]string {
	if c.Token == "" {
		return map[string]string{}
	}
	return map[string]string{HeaderAuthorization: "Bearer " + c.Token}
}

// RefreshWith returns a JWT carrying the refreshed token.
func (c JWT) RefreshWith(token string) Config {
	return JWT{Token: token, Refresh: c.Refresh}
}

// RefreshFunc returns the host-supplied refresh capability, or nil.
func (c JWT) RefreshFunc() RefreshFunc { return c.Refresh }

// Custom authenticates with a single caller-named header.
type Custom struct {
	HeaderName  string
	HeaderValue string
}

func (c Custom) headers() map[string]string {
	if c.HeaderName == "" || c.HeaderValue == "" {
		return map[string]string{}
	}
	return map[string]string{c.HeaderName: c.HeaderValue}
}

// None sends no authentication headers.
type None struct{}

func (None) headers() map[string]string { return map[string]string{} }

// ResolveHeaders returns the authentication headers for one attempt. It is
// pure and total: a nil config resolves to no headers.
func ResolveHeaders(cfg Config) map[string]string {
	if cfg == nil {
		return map[string]string{}
	}
	return cfg.headers()
}

// ParseLegacy interprets a bare token string (the legacy configuration form)
// as a bearer token. An empty string resolves to no authentication.
func ParseLegacy(token string) Config {
	token = strings.TrimSpace(token)
	if token == "" {
		return None{}
	}
	return Bearer{Token: token}
}

// HeaderName returns the custom auth header name when cfg is a Custom
// variant, or empty. The offline queue uses it to strip configured custom
// auth headers before persisting a request.
func HeaderName(cfg Config) string {
	if c, ok := cfg.(Custom); ok {
		return c.HeaderName
	}
	return ""
}
