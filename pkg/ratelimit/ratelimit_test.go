// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
	})
	defer limiter.Stop()

	if !limiter.enabled {
		t.Error("Expected limiter to be enabled")
	}

	stats := limiter.Stats()
	if stats["enabled"] != true {
		t.Error("Expected enabled to be true in stats")
	}
	if stats["burst"] != 10 {
		t.Errorf("Expected burst 10, got %v", stats["burst"])
	}
}

func TestNew_NilConfig(t *testing.T) {
	limiter := New(nil)

	if limiter.enabled {
		t.Error("Nil config should produce a disabled limiter")
	}
	if !limiter.Allow("anyone") {
		t.Error("Disabled limiter should allow all requests")
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             5,
	})
	defer limiter.Stop()

	clientID := "10.0.0.1"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(clientID) {
			t.Errorf("Request %d should be allowed within burst", i+1)
		}
	}

	if limiter.Allow(clientID) {
		t.Error("Request should be denied after burst exhausted")
	}
}

func TestAllow_Disabled(t *testing.T) {
	limiter := New(&Config{
		Enabled:           false,
		RequestsPerMinute: 1,
	})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Error("Disabled limiter should allow all requests")
		}
	}
}

func TestAllow_PerClient(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})
	defer limiter.Stop()

	// Exhaust the first client's budget
	if !limiter.Allow("10.0.0.1") {
		t.Error("First request should be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("Second request should be denied")
	}

	// An unrelated client is unaffected
	if !limiter.Allow("10.0.0.2") {
		t.Error("Other client should have its own budget")
	}
}

func TestCleanup(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		CleanupInterval:   50 * time.Millisecond,
		MaxIdle:           100 * time.Millisecond,
	})
	defer limiter.Stop()

	limiter.Allow("10.0.0.1")

	limiter.mu.RLock()
	tracked := len(limiter.limiters)
	limiter.mu.RUnlock()
	if tracked != 1 {
		t.Fatalf("Expected 1 tracked client, got %d", tracked)
	}

	time.Sleep(300 * time.Millisecond)

	limiter.mu.RLock()
	tracked = len(limiter.limiters)
	limiter.mu.RUnlock()
	if tracked != 0 {
		t.Errorf("Expected idle client to be reaped, %d remain", tracked)
	}
}

func TestMiddleware(t *testing.T) {
	limiter := New(&Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})
	defer limiter.Stop()

	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/registration/options", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(); code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i+1, code)
		}
	}

	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %d", code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For single",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.0.2.1:1234",
			expected:   "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For chain",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"},
			remoteAddr: "192.0.2.1:1234",
			expected:   "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			remoteAddr: "192.0.2.1:1234",
			expected:   "203.0.113.7",
		},
		{
			name:       "RemoteAddr fallback",
			headers:    map[string]string{},
			remoteAddr: "192.0.2.1:1234",
			expected:   "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if ip := getClientIP(req); ip != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, ip)
			}
		})
	}
}
