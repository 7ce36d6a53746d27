package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func buildGet(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest("GET", url, nil)
	}
}

func TestSendWithRetry_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := sendWithRetry(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestSendWithRetry_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := sendWithRetry(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry the status: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("401 must not be retried, got %d attempts", got)
	}
}

func TestSendWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := sendWithRetry(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if got := calls.Load(); got != maxSendAttempts {
		t.Errorf("expected %d attempts, got %d", maxSendAttempts, got)
	}
}

func TestSendWithRetry_ContextCancelStopsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sendWithRetry(ctx, srv.Client(), buildGet(srv.URL), testLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled context should cut the backoff short, took %v", elapsed)
	}
}

func TestBackoffDelay(t *testing.T) {
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		d := backoffDelay(attempt, 0)
		if d < baseBackoff || d > maxBackoff+maxBackoff/2 {
			t.Errorf("attempt %d: delay %v outside expected range", attempt, d)
		}
	}

	if d := backoffDelay(1, 3*time.Second); d != 3*time.Second {
		t.Errorf("server hint should win, got %v", d)
	}
	if d := backoffDelay(1, time.Hour); d == time.Hour {
		t.Error("hint above the cap must be ignored")
	}
}
