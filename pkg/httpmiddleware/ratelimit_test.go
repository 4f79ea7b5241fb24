package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	return req
}

func TestRateLimit_UnderLimit(t *testing.T) {
	handler := RateLimit(t.Context(), RateLimitConfig{RPS: 1, Burst: 5})(okHandler())

	for i := range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.168.1.1:12345"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	handler := RateLimit(t.Context(), RateLimitConfig{RPS: 0.1, Burst: 2})(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:9999"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:9999"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_DifferentClients(t *testing.T) {
	handler := RateLimit(t.Context(), RateLimitConfig{RPS: 0.1, Burst: 1})(okHandler())

	for _, remote := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom(remote))
		assert.Equal(t, http.StatusOK, w.Code, remote)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := RateLimit(t.Context(), RateLimitConfig{})(okHandler())
	for range 100 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1"))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Idle: time.Minute})
	now := time.Now()
	rl.reserve("a", now)
	rl.reserve("b", now.Add(30*time.Second))

	rl.evict(now.Add(time.Minute))
	assert.Equal(t, 1, rl.len())
}

func TestClientIP(t *testing.T) {
	for _, tt := range []struct {
		name   string
		header http.Header
		remote string
		want   string
	}{
		{"forwarded list", http.Header{"X-Forwarded-For": {"1.1.1.1, 2.2.2.2"}}, "3.3.3.3:1", "1.1.1.1"},
		{"real ip", http.Header{"X-Real-Ip": {"4.4.4.4"}}, "3.3.3.3:1", "4.4.4.4"},
		{"remote", nil, "3.3.3.3:1", "3.3.3.3"},
		{"remote without port", nil, "pipe", "pipe"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/", nil)
			req.Header = tt.header
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.RemoteAddr = tt.remote
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
