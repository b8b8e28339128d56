package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	n := New()
	n.resolve = func(host string) ([]string, error) { return []string{host}, nil }

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid public IP", "http://93.184.216.34/hook", false},
		{"https public IP", "https://93.184.216.34/hook", false},
		{"invalid scheme ftp", "ftp://example.com/hook", true},
		{"loopback IP blocked", "http://127.0.0.1/hook", true},
		{"private IP blocked", "http://192.168.1.1/hook", true},
		{"link-local IP blocked (cloud metadata)", "http://169.254.169.254/hook", true},
		{"unspecified blocked", "http://0.0.0.0/hook", true},
		{"missing host", "http:///hook", true},
		{"garbled URL", "://not a valid url%%", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := n.Validate(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidate_AllowPrivate(t *testing.T) {
	t.Parallel()
	n := New(WithAllowPrivate(true))
	if err := n.Validate("http://127.0.0.1:9999/hook"); err != nil {
		t.Errorf("Validate(loopback) with AllowPrivate = %v", err)
	}
	if err := n.Validate("file:///etc/passwd"); err == nil {
		t.Error("AllowPrivate must still reject non-HTTP schemes")
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()
	n := New(WithRetry(8, time.Second, 5*time.Minute))
	for attempt := 1; attempt <= 12; attempt++ {
		limit := min(5*time.Minute, time.Second<<attempt)
		for range 50 {
			if d := n.jitter(attempt); d < 0 || d >= limit {
				t.Fatalf("jitter(%d) = %v, want [0, %v)", attempt, d, limit)
			}
		}
	}
}

func TestSend_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(WithAllowPrivate(true), WithRetry(5, time.Millisecond, 5*time.Millisecond))
	n.Send(context.Background(), srv.URL, map[string]string{"job_id": "abc", "status": "completed"})
	n.Wait()

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if got["job_id"] != "abc" {
		t.Errorf("payload = %v", got)
	}
}

func TestSend_GivesUp(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(WithAllowPrivate(true), WithRetry(3, time.Millisecond, 2*time.Millisecond))
	n.Send(context.Background(), srv.URL, map[string]string{})
	n.Wait()

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSend_RejectedURLNeverPosts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := New(WithRetry(1, time.Millisecond, time.Millisecond))
	n.Send(context.Background(), srv.URL, map[string]string{})
	n.Wait()

	if calls.Load() != 0 {
		t.Errorf("loopback callback received %d calls", calls.Load())
	}
}

func TestSend_StopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := New(WithAllowPrivate(true), WithRetry(100, time.Hour, time.Hour))
	n.Send(ctx, srv.URL, map[string]string{})
	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() { n.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not stop after cancel")
	}
}
