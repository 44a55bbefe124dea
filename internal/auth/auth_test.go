package auth

import (
	"context"
	"testing"
)

func TestResolveHeadersAPIKey(t *testing.T) {
	headers := ResolveHeaders(APIKey{Key: "secret-key"})
	if len(headers) != 1 || headers[HeaderAPIKey] != "secret-key" {
		t.Errorf("expected X-API-Key header, got %v", headers)
	}
}

func TestResolveHeadersBearer(t *testing.T) {
	headers := ResolveHeaders(Bearer{Token: "tok123"})
	if headers[HeaderAuthorization] != "Bearer tok123" {
		t.Errorf("expected bearer Authorization header, got %v", headers)
	}
}

func TestResolveHeadersJWT(t *testing.T) {
	headers := ResolveHeaders(JWT{Token: "eyJ.abc.def"})
	if headers[HeaderAuthorization] != "Bearer eyJ.abc.def" {
		t.Errorf("expected bearer Authorization header for JWT, got %v", headers)
	}
}

func TestResolveHeadersCustom(t *testing.T) {
	headers := ResolveHeaders(Custom{HeaderName: "X-Session", HeaderValue: "abc"})
	if len(headers) != 1 || headers["X-Session"] != "abc" {
		t.Errorf("expected custom header, got %v", headers)
	}
}

func TestResolveHeadersNone(t *testing.T) {
	if headers := ResolveHeaders(None{}); len(headers) != 0 {
		t.Errorf("expected no headers, got %v", headers)
	}
}

func TestResolveHeadersNilConfig(t *testing.T) {
	if headers := ResolveHeaders(nil); len(headers) != 0 {
		t.Errorf("expected no headers for nil config, got %v", headers)
	}
}

func TestResolveHeadersDegradesOnMissingCredential(t *testing.T) {
	cases := []Config{
		APIKey{},
		Bearer{},
		JWT{},
		Custom{HeaderName: "X-Thing"},
		Custom{HeaderValue: "value-only"},
	}
	for _, cfg := range cases {
		if headers := ResolveHeaders(cfg); len(headers) != 0 {
			t.Errorf("config %#v: expected empty headers, got %v", cfg, headers)
		}
	}
}

func TestParseLegacy(t *testing.T) {
	cfg := ParseLegacy("  raw-token  ")
	headers := ResolveHeaders(cfg)
	if headers[HeaderAuthorization] != "Bearer raw-token" {
		t.Errorf("legacy string should resolve as bearer token, got %v", headers)
	}

	if _, ok := ParseLegacy("").(None); !ok {
		t.Error("empty legacy string should resolve to None")
	}
}

func TestRefreshWithPreservesCallback(t *testing.T) {
	called := false
	refresh := func(ctx context.Context) (string, error) {
		called = true
		return "new", nil
	}

	var cfg Config = Bearer{Token: "old", Refresh: refresh}
	refreshable, ok := cfg.(Refreshable)
	if !ok {
		t.Fatal("Bearer should be Refreshable")
	}
	next := refreshable.RefreshWith("new")
	if ResolveHeaders(next)[HeaderAuthorization] != "Bearer new" {
		t.Errorf("refreshed config should carry the new token, got %v", ResolveHeaders(next))
	}
	nextRefreshable, ok := next.(Refreshable)
	if !ok || nextRefreshable.RefreshFunc() == nil {
		t.Fatal("refreshed config should keep the refresh capability")
	}
	if _, err := nextRefreshable.RefreshFunc()(context.Background()); err != nil || !called {
		t.Error("refresh callback should survive RefreshWith")
	}
}

func TestHeaderName(t *testing.T) {
	if name := HeaderName(Custom{HeaderName: "X-Session", HeaderValue: "v"}); name != "X-Session" {
		t.Errorf("expected custom header name, got %q", name)
	}
	if name := HeaderName(APIKey{Key: "k"}); name != "" {
		t.Errorf("expected empty name for non-custom config, got %q", name)
	}
}
