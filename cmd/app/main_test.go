package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/olexisomar/ai-visibility/internal/automation"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("TEST_ENV_KEY", "value")
	assert.Equal(t, "value", getEnvWithDefault("TEST_ENV_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvWithDefault("TEST_ENV_KEY_MISSING", "fallback"))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("STUCK_RUN_TIMEOUT", "3600")
	assert.Equal(t, time.Hour, getEnvDuration("STUCK_RUN_TIMEOUT", automation.DefaultStuckRunTimeout))

	t.Setenv("STUCK_RUN_TIMEOUT", "not-a-number")
	assert.Equal(t, automation.DefaultStuckRunTimeout, getEnvDuration("STUCK_RUN_TIMEOUT", automation.DefaultStuckRunTimeout))

	t.Setenv("STUCK_RUN_TIMEOUT", "-5")
	assert.Equal(t, automation.DefaultStuckRunTimeout, getEnvDuration("STUCK_RUN_TIMEOUT", automation.DefaultStuckRunTimeout))
}

func TestParseOTLPHeaders(t *testing.T) {
	headers := parseOTLPHeaders("authorization=Bearer abc, x-team=visibility")
	assert.Equal(t, "Bearer abc", headers["authorization"])
	assert.Equal(t, "visibility", headers["x-team"])

	assert.Empty(t, parseOTLPHeaders(""))
	assert.Empty(t, parseOTLPHeaders("malformed-pair"))
}

func TestGetClientIP(t *testing.T) {
	t.Run("uses X-Forwarded-For when present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", getClientIP(req))
	})

	t.Run("falls back to RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "198.51.100.4:52100"
		assert.Equal(t, "198.51.100.4", getClientIP(req))
	})
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := newRateLimiter()

	// Same IP gets the same limiter, different IPs get their own
	first := limiter.getLimiter("203.0.113.7")
	assert.Same(t, first, limiter.getLimiter("203.0.113.7"))
	assert.NotSame(t, first, limiter.getLimiter("203.0.113.8"))

	// Burst capacity allows immediate requests then throttles
	allowed := 0
	for range 50 {
		if limiter.getLimiter("203.0.113.9").Allow() {
			allowed++
		}
	}
	assert.Greater(t, allowed, 0)
	assert.Less(t, allowed, 50)
}
