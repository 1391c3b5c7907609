package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// testOptions disables all delays so tests run instantly.
func testOptions(maxAttempts int) Options {
	return Options{MaxAttempts: maxAttempts, Timeout: 5 * time.Second}
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(testOptions(3))
	page, err := c.Do(context.Background(), &Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(page.Body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", page.Body)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", page.StatusCode)
	}
	if c.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", c.CallCount())
	}
}

func TestDoRetryExhaustion(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testOptions(3))
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Kind != KindExhausted {
		t.Errorf("expected kind %s, got %s", KindExhausted, fe.Kind)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	// The last underlying cause is carried.
	var inner *FetchError
	if !errors.As(fe.Err, &inner) || inner.Status != http.StatusServiceUnavailable {
		t.Errorf("expected wrapped 503 cause, got %v", fe.Err)
	}
}

func TestDoNonRetryable4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testOptions(3))
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Kind != KindHTTPStatus || fe.Status != http.StatusNotFound {
		t.Errorf("expected HTTPStatus/404, got %s/%d", fe.Kind, fe.Status)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("404 must not be retried, got %d attempts", got)
	}
}

func TestDo429IsRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(3))
	page, err := c.Do(context.Background(), &Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(page.Body) != "ok" {
		t.Errorf("unexpected body %q", page.Body)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDoSendsIdentityFromPool(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(1))
	if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, candidate := range userAgents {
		if ua == candidate {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("user agent %q not from the identity pool", ua)
	}
}

func TestDoPostJSONAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("unexpected content type %q", ct)
		}
		if r.URL.Query().Get("response") != "json" {
			t.Errorf("missing query param, got %s", r.URL.RawQuery)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(1))
	q := url.Values{"response": {"json"}}
	_, err := c.Do(context.Background(), &Request{
		Method:   http.MethodPost,
		URL:      srv.URL,
		Query:    q,
		JSONBody: map[string]string{"FundID": "00980A"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDoContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := testOptions(3)
	opts.BackoffBase = time.Hour // the retry sleep would block forever
	c := NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{URL: srv.URL})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Kind != KindTimeout {
		t.Errorf("expected timeout kind on cancellation, got %s", fe.Kind)
	}
}

func TestDoInFlightAttemptFinishesAfterDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testOptions(1))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// The deadline expires while the request is in flight; the attempt
	// still runs to completion under the per-request timeout.
	page, err := c.Do(ctx, &Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("in-flight attempt must finish, got %v", err)
	}
	if string(page.Body) != "ok" {
		t.Errorf("unexpected body %q", page.Body)
	}
}

func TestDoDeadlineStopsRetriesBetweenAttempts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testOptions(3))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{URL: srv.URL})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Kind != KindTimeout {
		t.Errorf("expected timeout kind, got %s", fe.Kind)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("no new attempt may start after the deadline, got %d", got)
	}
	if !errors.Is(fe.Err, context.DeadlineExceeded) {
		t.Errorf("the deadline cause must be carried, got %v", fe.Err)
	}
}

func TestBatchDelayCounting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions(1)
	opts.BatchEvery = 2
	opts.BatchDelayMin = 10 * time.Millisecond
	opts.BatchDelayMax = 20 * time.Millisecond
	c := NewClient(opts)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err != nil {
			t.Fatal(err)
		}
	}
	// Calls 2 and 4 each incur a batch delay of at least 10ms.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected batch delays to apply, elapsed %v", elapsed)
	}
	if c.CallCount() != 4 {
		t.Errorf("expected 4 calls, got %d", c.CallCount())
	}
}
