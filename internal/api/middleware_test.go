package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/redis"
)

func newMiniredisClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("failed to parse miniredis address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	client, err := redis.New(context.Background(), redis.Config{Host: host, Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}

	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRateLimitMiddlewareBlocksOverLimit(t *testing.T) {
	client, cleanup := newMiniredisClient(t)
	defer cleanup()

	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})

	handler := RateLimitMiddleware(limiter, zap.NewNop(), DeviceKeyFunc)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/sos", nil)
		req.Header.Set("X-Device-ID", "device-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sos", nil)
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitMiddlewarePassesWithoutLimiter(t *testing.T) {
	handler := RateLimitMiddleware(nil, zap.NewNop(), DeviceKeyFunc)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/sos", nil)
	req.Header.Set("X-Device-ID", "device-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddlewareSkipsUnkeyedRequests(t *testing.T) {
	client, cleanup := newMiniredisClient(t)
	defer cleanup()

	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
	})

	handler := RateLimitMiddleware(limiter, zap.NewNop(), DeviceKeyFunc)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	// No device ID anywhere: the limiter has nothing to key on.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestDeviceKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/sos", nil)
	req.Header.Set("X-Device-ID", "device-1")
	if key := DeviceKeyFunc(req); key != "device:device-1" {
		t.Errorf("key = %q", key)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/alerts?device_id=device-2", nil)
	if key := DeviceKeyFunc(req); key != "device:device-2" {
		t.Errorf("key = %q", key)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	if key := DeviceKeyFunc(req); key != "" {
		t.Errorf("key = %q, want empty", key)
	}
}
