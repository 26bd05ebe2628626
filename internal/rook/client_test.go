package rook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func setupTestClient(t *testing.T, handler http.Handler, retries int) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{
		BaseURL:    server.URL,
		ClientUUID: "test-client-uuid",
		SecretKey:  "test-secret",
		Timeout:    200 * time.Millisecond,
		MaxRetries: retries,
	})
}

func TestPhysicalSummary(t *testing.T) {
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != physicalSummaryPath {
			t.Errorf("Expected path %s, got %s", physicalSummaryPath, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-client-uuid" || pass != "test-secret" {
			t.Errorf("Expected basic auth credentials, got %q %q", user, pass)
		}
		if r.URL.Query().Get("user_id") != "rook-1" || r.URL.Query().Get("date") != "2025-01-02" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"physical_health":{"summary":{"physical_summary":{"distance":{"steps_int":1200}}}}}`))
	}), 0)

	payload, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02")
	if err != nil {
		t.Fatalf("Failed to get physical summary: %v", err)
	}
	if _, ok := payload["physical_health"]; !ok {
		t.Errorf("Expected physical_health in payload, got %v", payload)
	}
}

func TestNoContentIsNoData(t *testing.T) {
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), 2)

	_, err := client.SleepSummary(context.Background(), "rook-1", "2025-01-02")
	if !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"sleep_health":{"summary":{"duration":27000}}}`))
	}), 2)

	if _, err := client.SleepSummary(context.Background(), "rook-1", "2025-01-02"); err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown user", http.StatusNotFound)
	}), 3)

	_, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 HTTPError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestTimeoutFailsCall(t *testing.T) {
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), 0)

	start := time.Now()
	_, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02")
	if err == nil || errors.Is(err, ErrNoData) {
		t.Errorf("Expected upstream failure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected the call to be bounded by the timeout, took %v", elapsed)
	}
}

func TestTooManyRequestsThrottles(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"physical_health":{"summary":{"steps":10}}}`))
	}), 1)

	if _, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02"); err != nil {
		t.Fatalf("Expected success after 429, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestHTTPError_Helpers(t *testing.T) {
	unauthorizedErr := &HTTPError{StatusCode: 401, Body: "Unauthorized"}
	if !IsUnauthorized(unauthorizedErr) {
		t.Error("Expected IsUnauthorized to return true for 401")
	}

	rateLimitErr := &HTTPError{StatusCode: 429, Body: "Too Many Requests"}
	if !IsTooManyRequests(rateLimitErr) {
		t.Error("Expected IsTooManyRequests to return true for 429")
	}
	if !IsTooManyRequests(fmt.Errorf("failed to get physical_summary: %w", ErrThrottled)) {
		t.Error("Expected IsTooManyRequests to return true for a paused call")
	}
	if IsTooManyRequests(&HTTPError{StatusCode: 500}) {
		t.Error("Expected IsTooManyRequests to return false for 500")
	}
}

func TestPausedClientFailsFast(t *testing.T) {
	var throttle atomic.Bool
	throttle.Store(true)
	var calls atomic.Int32
	client := setupTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if throttle.Load() {
			w.Header().Set("Retry-After", "4")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"physical_health":{"summary":{"steps":10,"active_calories":5}}}`))
	}), 0)

	if _, err := client.FetchDay(context.Background(), "rook-1", "2025-01-02"); !errors.Is(err, ErrAllCallsFailed) {
		t.Fatalf("Expected all calls to fail on 429, got %v", err)
	}
	throttle.Store(false)
	before := calls.Load()

	start := time.Now()
	_, err := client.FetchDay(context.Background(), "rook-1", "2025-01-02")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected paused client to answer within the call timeout, took %v", elapsed)
	}
	if !errors.Is(err, ErrAllCallsFailed) || !IsTooManyRequests(err) {
		t.Errorf("Expected throttled failure, got %v", err)
	}
	if calls.Load() != before {
		t.Errorf("Expected no calls while paused, got %d", calls.Load()-before)
	}
	if client.GetRateLimitStatus().Throttled == 0 {
		t.Error("Expected the 429 to be recorded in the rate limit status")
	}
}

func TestWaitOutPausesHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"physical_health":{"summary":{"steps":10}}}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Options{
		BaseURL:       server.URL,
		Timeout:       200 * time.Millisecond,
		WaitOutPauses: true,
	})

	if _, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02"); !IsTooManyRequests(err) {
		t.Fatalf("Expected 429, got %v", err)
	}

	start := time.Now()
	if _, err := client.PhysicalSummary(context.Background(), "rook-1", "2025-01-02"); err != nil {
		t.Fatalf("Expected success after the pause, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Expected the call to wait out the pause, took %v", elapsed)
	}
}
