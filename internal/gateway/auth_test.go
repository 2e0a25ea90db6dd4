package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/querydesk/internal/config"
)

// --- safeEqual tests ---

func TestSafeEqual_Match(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
}

func TestSafeEqual_Mismatch(t *testing.T) {
	assert.False(t, safeEqual("secret", "wrong"))
}

func TestSafeEqual_DifferentLengths(t *testing.T) {
	assert.False(t, safeEqual("short", "longer-string"))
}

func TestSafeEqual_BothEmpty(t *testing.T) {
	assert.True(t, safeEqual("", ""))
}

func TestSafeEqual_OneEmpty(t *testing.T) {
	assert.False(t, safeEqual("secret", ""))
	assert.False(t, safeEqual("", "secret"))
}

// --- ResolveAuth tests ---

func TestResolveAuth_TokenFromConfig(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Mode:  "token",
		Token: "config-token",
	})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "config-token", auth.Token)
}

func TestResolveAuth_PasswordFromConfig(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Mode:     "password",
		Password: "config-pass",
	})
	assert.Equal(t, "password", auth.Mode)
	assert.Equal(t, "config-pass", auth.Password)
}

func TestResolveAuth_DefaultsToTokenMode(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Token: "my-token",
	})
	assert.Equal(t, "token", auth.Mode)
}

func TestResolveAuth_DefaultsToPasswordModeWhenPasswordSet(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{
		Password: "my-pass",
	})
	assert.Equal(t, "password", auth.Mode)
}

func TestResolveAuth_TokenFromEnv(t *testing.T) {
	t.Setenv("QUERYDESK_GATEWAY_TOKEN", "env-token")
	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
}

func TestResolveAuth_PasswordFromEnv(t *testing.T) {
	t.Setenv("QUERYDESK_GATEWAY_PASSWORD", "env-pass")
	auth := ResolveAuth(config.GatewayAuth{Mode: "password"})
	assert.Equal(t, "env-pass", auth.Password)
}

func TestResolveAuth_ConfigOverridesEnv(t *testing.T) {
	t.Setenv("QUERYDESK_GATEWAY_TOKEN", "env-token")
	auth := ResolveAuth(config.GatewayAuth{
		Mode:  "token",
		Token: "config-token",
	})
	assert.Equal(t, "config-token", auth.Token)
}

func TestResolveAuth_EmptyFallsToEnv(t *testing.T) {
	t.Setenv("QUERYDESK_GATEWAY_TOKEN", "env-token")
	t.Setenv("QUERYDESK_GATEWAY_PASSWORD", "env-pass")
	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
	assert.Equal(t, "env-pass", auth.Password)
}

// --- Authorize tests ---

func TestAuthorize_TokenSuccess(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		&ConnectAuth{Token: "secret"},
	)
	assert.True(t, result.OK)
	assert.Equal(t, "token", result.Method)
	assert.Empty(t, result.Reason)
}

func TestAuthorize_TokenMismatch(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		&ConnectAuth{Token: "wrong"},
	)
	assert.False(t, result.OK)
	assert.Equal(t, "token_mismatch", result.Reason)
}

func TestAuthorize_TokenEmpty(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		&ConnectAuth{Token: ""},
	)
	assert.False(t, result.OK)
	assert.Equal(t, "token required", result.Reason)
}

func TestAuthorize_ServerTokenNotConfigured(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: ""},
		&ConnectAuth{Token: "client-token"},
	)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "server token not configured")
}

func TestAuthorize_PasswordSuccess(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "password", Password: "pass123"},
		&ConnectAuth{Password: "pass123"},
	)
	assert.True(t, result.OK)
	assert.Equal(t, "password", result.Method)
}

func TestAuthorize_PasswordMismatch(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "password", Password: "pass123"},
		&ConnectAuth{Password: "wrong"},
	)
	assert.False(t, result.OK)
	assert.Equal(t, "password_mismatch", result.Reason)
}

func TestAuthorize_PasswordEmpty(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "password", Password: "pass123"},
		&ConnectAuth{Password: ""},
	)
	assert.False(t, result.OK)
	assert.Equal(t, "password required", result.Reason)
}

func TestAuthorize_ServerPasswordNotConfigured(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "password", Password: ""},
		&ConnectAuth{Password: "client-pass"},
	)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "server password not configured")
}

func TestAuthorize_NilCredentials(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "token", Token: "secret"},
		nil,
	)
	assert.False(t, result.OK)
	assert.Equal(t, "no credentials provided", result.Reason)
}

func TestAuthorize_UnknownAuthMode(t *testing.T) {
	result := Authorize(
		ResolvedAuth{Mode: "oauth"},
		&ConnectAuth{Token: "whatever"},
	)
	assert.False(t, result.OK)
	assert.Contains(t, result.Reason, "unknown auth mode")
}

func TestAuthorize_NoneModeAllowsAnyone(t *testing.T) {
	result := Authorize(ResolvedAuth{Mode: "none"}, nil)
	assert.True(t, result.OK)
	assert.Equal(t, "none", result.Method)
}

// --- HTTP credentials and identity ---

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/tools/sql", nil)
	assert.Nil(t, credentialsFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Nil(t, credentialsFromRequest(req))

	req.Header.Set("Authorization", "Bearer  s3cret ")
	creds := credentialsFromRequest(req)
	if assert.NotNil(t, creds) {
		assert.Equal(t, "s3cret", creds.Token)
		assert.Equal(t, "s3cret", creds.Password)
	}
}

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/tools/sql", nil)
	id := identityFromRequest(req, "X-User-Id", "X-User-Roles")
	assert.Equal(t, AnonymousUser, id.UserID)
	assert.Empty(t, id.Roles)

	req.Header.Set("X-User-Id", " alice ")
	req.Header.Set("X-User-Roles", "analyst, ,admin")
	id = identityFromRequest(req, "X-User-Id", "X-User-Roles")
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, []string{"analyst", "admin"}, id.Roles)
}

func TestIdentityFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?user=bob", nil)
	id := identityFromRequest(req, "X-User-Id", "X-User-Roles")
	assert.Equal(t, "bob", id.UserID)

	req.Header.Set("X-User-Id", "carol")
	assert.Equal(t, "carol", identityFromRequest(req, "X-User-Id", "X-User-Roles").UserID)
}

// --- authRateLimiter tests ---

func TestAuthRateLimiter_AllowInitial(t *testing.T) {
	limiter := newAuthRateLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_AllowAfterFewFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	for i := 0; i < 5; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_BlockAfterMaxFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_DifferentIPs(t *testing.T) {
	limiter := newAuthRateLimiter()

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}

	// Different IP should still be allowed
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_ExpiredFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	// Add old failures (before the window)
	limiter.mu.Lock()
	host := "192.168.1.1"
	oldTime := time.Now().Add(-authRateWindow - time.Minute)
	for i := 0; i < authRateMaxFails; i++ {
		limiter.failures[host] = append(limiter.failures[host], oldTime)
	}
	limiter.mu.Unlock()

	// Old failures should be cleaned up, so allow should return true
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_Sweep(t *testing.T) {
	limiter := newAuthRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.recordFailure("10.0.0.1:1")
	limiter.recordFailure("10.0.0.2:1")
	now = now.Add(authRateWindow + time.Second)
	limiter.recordFailure("10.0.0.2:1")

	limiter.sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.failures, "10.0.0.1")
	assert.Len(t, limiter.failures["10.0.0.2"], 1)
}

// --- checkWebSocketOrigin tests ---

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckWebSocketOrigin_NoOriginHeader(t *testing.T) {
	check := checkWebSocketOrigin(nil)
	assert.True(t, check(originRequest("")))
}

func TestCheckWebSocketOrigin_EmptyAllowedList(t *testing.T) {
	check := checkWebSocketOrigin(nil)
	assert.False(t, check(originRequest("http://evil.com")))
}

func TestCheckWebSocketOrigin_Wildcard(t *testing.T) {
	check := checkWebSocketOrigin([]string{"*"})
	assert.True(t, check(originRequest("http://anything.com")))
}

func TestCheckWebSocketOrigin_SpecificMatch(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://allowed.com"})
	assert.True(t, check(originRequest("http://allowed.com")))
}

func TestCheckWebSocketOrigin_SpecificNoMatch(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://allowed.com"})
	assert.False(t, check(originRequest("http://evil.com")))
}

func TestCheckWebSocketOrigin_MultipleAllowed(t *testing.T) {
	check := checkWebSocketOrigin([]string{"http://one.com", "http://two.com"})
	assert.True(t, check(originRequest("http://one.com")))
	assert.True(t, check(originRequest("http://two.com")))
	assert.False(t, check(originRequest("http://three.com")))
}
