package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/redis"
)

func TestSenderKeyFunc(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"from body", `{"from_pub_key":"ABCD"}`, "sender:abcd"},
		{"missing key", `{"signature":"x"}`, ""},
		{"not json", `from_pub_key=abcd`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/send/x", bytes.NewBufferString(tt.body))

			if got := SenderKeyFunc(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}

			rest, _ := io.ReadAll(req.Body)
			if string(rest) != tt.body {
				t.Errorf("body not restored: %q", rest)
			}
		})
	}
}

func TestSenderKeyFunc_OversizedBodyIsRestored(t *testing.T) {
	body := `{"from_pub_key":"abcd","pad":"` + strings.Repeat("x", maxKeyBody) + `"}`
	req := httptest.NewRequest("POST", "/send/x", strings.NewReader(body))

	if got := SenderKeyFunc(req); got != "" {
		t.Errorf("expected no key for an oversized body, got %q", got)
	}

	rest, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if len(rest) != len(body) || string(rest) != body {
		t.Errorf("body truncated: got %d bytes, want %d", len(rest), len(body))
	}
	if err := req.Body.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RateLimitMiddleware(nil, zap.NewNop(), "send", SenderKeyFunc)
	wrapped := middleware(handler)

	req := httptest.NewRequest("POST", "/send/x", bytes.NewBufferString(`{"from_pub_key":"a"}`))
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func newTestLimiter(t *testing.T, limit int) *redis.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())

	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  limit,
		Window: time.Minute,
		Prefix: "send",
	})
}

func TestRateLimitMiddleware_ThrottlesPerSender(t *testing.T) {
	limiter := newTestLimiter(t, 2)

	var seen []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, string(body))
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), "send", SenderKeyFunc)(handler)

	send := func(from string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/send/x", bytes.NewBufferString(`{"from_pub_key":"`+from+`"}`))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("alice"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := send("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected limit header 2, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	if rec := send("bob"); rec.Code != http.StatusOK {
		t.Errorf("other senders must not be throttled, got %d", rec.Code)
	}

	if seen[0] != `{"from_pub_key":"alice"}` {
		t.Errorf("handler did not see the full body: %q", seen[0])
	}
}
