// Package fetch implements the resilient HTTP retrieval primitive every
// source adapter is built on. It owns transport-level concerns only:
// request throttling, identity rotation, retry with backoff, and error
// classification. It knows nothing about payload shapes.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindTimeout    ErrorKind = "timeout"
	KindExhausted  ErrorKind = "exhausted"
)

// FetchError is the transport-level failure surfaced to adapters. Callers
// must not swallow it — it propagates to the orchestrator as a
// per-instrument failure.
type FetchError struct {
	Kind     ErrorKind
	URL      string
	Status   int // HTTP status for KindHTTPStatus, 0 otherwise
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	case KindExhausted:
		return fmt.Sprintf("fetch %s: retries exhausted after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// RawPage is the unparsed response handed to an adapter's Parse.
type RawPage struct {
	Body       []byte
	StatusCode int
	FinalURL   string
	FetchedAt  time.Time
}

// Request describes one outbound retrieval. JSONBody, when non-nil, is
// marshaled and sent with an application/json content type (several
// issuer endpoints are POST-JSON even for reads).
type Request struct {
	Method   string
	URL      string
	Query    url.Values
	Header   map[string]string
	JSONBody any
}

// userAgents is the fixed identity pool rotated across calls. One entry
// is selected pseudo-randomly per outbound call, independent of the
// retry attempt.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
}

// Options configures a Client's throttle and retry policy.
type Options struct {
	DelayMin      time.Duration // uniform pre-call delay window
	DelayMax      time.Duration
	BatchEvery    int // every Nth call gets an extra delay; 0 disables
	BatchDelayMin time.Duration
	BatchDelayMax time.Duration
	MaxAttempts   int           // total attempts per Do, including the first
	BackoffBase   time.Duration // first retry delay, doubled each retry
	Timeout       time.Duration // per-request HTTP timeout
	UserAgents    []string      // identity pool; defaults to the built-in browser pool
}

// DefaultOptions mirrors the issuer-friendly production policy.
func DefaultOptions() Options {
	return Options{
		DelayMin:      1 * time.Second,
		DelayMax:      3 * time.Second,
		BatchEvery:    10,
		BatchDelayMin: 5 * time.Second,
		BatchDelayMax: 10 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   1 * time.Second,
		Timeout:       30 * time.Second,
	}
}

// Client is the resilient fetcher. It carries the session state (call
// counter, rng) explicitly rather than in package globals so that one
// run's burst throttling is isolated and testable.
type Client struct {
	httpc *http.Client
	opts  Options

	mu    sync.Mutex
	calls int
	rng   *rand.Rand
}

// NewClient creates a fetcher with the given policy. Zero-valued option
// fields keep their meaning (e.g. a zero delay window disables jitter),
// except MaxAttempts which is floored at 1.
func NewClient(opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = userAgents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		httpc: &http.Client{Timeout: opts.Timeout},
		opts:  opts,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CallCount returns how many network calls this client has issued.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Do retrieves the requested page, applying the full delay, identity
// rotation, and retry policy. Transient failures (timeouts, connection
// errors, 5xx, 429) are retried with exponential backoff up to
// MaxAttempts; other 4xx statuses fail immediately without consuming the
// retry budget.
func (c *Client) Do(ctx context.Context, req *Request) (*RawPage, error) {
	fullURL := req.URL
	if len(req.Query) > 0 {
		fullURL = req.URL + "?" + req.Query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff: base, 2*base, 4*base, ...
			backoff := c.opts.BackoffBase << (attempt - 2)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, &FetchError{Kind: KindTimeout, URL: fullURL, Attempts: attempt - 1, Err: err}
			}
		}
		if err := c.throttle(ctx); err != nil {
			return nil, &FetchError{Kind: KindTimeout, URL: fullURL, Attempts: attempt - 1, Err: err}
		}

		// The attempt itself runs detached from the caller's deadline:
		// an in-flight call finishes under the per-request timeout, and
		// the deadline is honored between attempts. Aborting mid-flight
		// would discard work the issuer already did for us.
		page, err := c.once(context.WithoutCancel(ctx), req, fullURL)
		if err == nil {
			return page, nil
		}

		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == KindHTTPStatus && !retryableStatus(fe.Status) {
			fe.Attempts = attempt
			return nil, fe
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &FetchError{Kind: KindTimeout, URL: fullURL, Attempts: attempt, Err: ctxErr}
		}
	}

	return nil, &FetchError{Kind: KindExhausted, URL: fullURL, Attempts: c.opts.MaxAttempts, Err: lastErr}
}

// once issues a single HTTP call.
func (c *Client) once(ctx context.Context, req *Request, fullURL string) (*RawPage, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.JSONBody != nil {
		buf, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.pickUserAgent())
	httpReq.Header.Set("Accept", "application/json, text/html, */*")
	httpReq.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	if req.JSONBody != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &FetchError{Kind: kind, URL: fullURL, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little context for diagnostics, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Kind:   KindHTTPStatus,
			URL:    fullURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("HTTP %s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: fullURL, Err: err}
	}

	return &RawPage{
		Body:       data,
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		FetchedAt:  time.Now(),
	}, nil
}

// throttle applies the per-call jitter delay and, every Nth call, the
// longer batch delay that breaks up request bursts.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	delay := c.randDuration(c.opts.DelayMin, c.opts.DelayMax)
	var batch time.Duration
	if c.opts.BatchEvery > 0 && calls%c.opts.BatchEvery == 0 {
		batch = c.randDuration(c.opts.BatchDelayMin, c.opts.BatchDelayMax)
	}
	c.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return err
	}
	return sleepCtx(ctx, batch)
}

func (c *Client) pickUserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.UserAgents[c.rng.Intn(len(c.opts.UserAgents))]
}

// randDuration returns a uniform duration in [min, max]. Must be called
// with mu held (rng is not goroutine-safe).
func (c *Client) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryableStatus reports whether a status code is worth retrying:
// server errors and explicit rate limiting.
func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
