package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func hit(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit_Disabled(t *testing.T) {
	t.Parallel()
	h := RateLimit(0)(okHandler())
	for range 3 {
		if rr := hit(h, http.MethodPost, "/api/v1/jobs", "1.1.1.1:1"); rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	}
}

func TestRateLimit_SecondSubmitBlocked(t *testing.T) {
	t.Parallel()
	h := RateLimit(1)(okHandler())

	if rr := hit(h, http.MethodPost, "/api/v1/jobs", "5.6.7.8:1234"); rr.Code != http.StatusOK {
		t.Errorf("first: status = %d, want 200", rr.Code)
	}
	rr := hit(h, http.MethodPost, "/api/v1/jobs", "5.6.7.8:4321")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second: status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	// A different client has its own bucket.
	if rr := hit(h, http.MethodPost, "/api/v1/jobs", "9.8.7.6:1"); rr.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", rr.Code)
	}
}

func TestRateLimit_ReadsNotLimited(t *testing.T) {
	t.Parallel()
	h := RateLimit(1)(okHandler())
	for i := range 5 {
		if rr := hit(h, http.MethodGet, "/api/v1/jobs", "9.9.9.9:9999"); rr.Code != http.StatusOK {
			t.Errorf("GET %d: status = %d, want 200", i+1, rr.Code)
		}
	}
	for i := range 3 {
		if rr := hit(h, http.MethodPost, "/api/v1/search", "9.9.9.9:9999"); rr.Code != http.StatusOK {
			t.Errorf("search %d: status = %d, want 200", i+1, rr.Code)
		}
	}
}

func TestRateLimit_CoversSyncProcessAndUploads(t *testing.T) {
	t.Parallel()
	h := RateLimit(1)(okHandler())
	for i, path := range []string{"/api/v1/process", "/api/v1/uploads"} {
		remote := []string{"7.7.7.7:1000", "8.8.8.8:1000"}[i]
		first := hit(h, http.MethodPost, path, remote).Code
		second := hit(h, http.MethodPost, path, remote).Code
		if first != http.StatusOK || second != http.StatusTooManyRequests {
			t.Errorf("%s: codes = [%d %d], want [200 429]", path, first, second)
		}
	}
}

func TestClientLimits_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newClientLimits(1)
	c.now = func() time.Time { return now }

	c.allow("a")
	c.allow("b")
	if len(c.buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(c.buckets))
	}
	now = now.Add(clientIdle + time.Second)
	c.allow("b")
	if _, ok := c.buckets["a"]; ok {
		t.Error("idle client was not swept")
	}
	if len(c.buckets) != 1 {
		t.Errorf("buckets = %d, want 1", len(c.buckets))
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, remote, fwd, want string
	}{
		{"remote addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"no port", "10.0.0.1", "", "10.0.0.1"},
		{"forwarded single", "10.0.0.1:5555", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain", "10.0.0.1:5555", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.fwd != "" {
			req.Header.Set("X-Forwarded-For", tt.fwd)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("%s: clientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}
