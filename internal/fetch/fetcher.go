package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/material-scraper/internal/ratelimit"
)

const (
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMaxBodySize    = 10 << 20
	defaultAcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.8"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	UserAgents     []string
	MaxBodySize    int64
	AcceptLanguage string
}

// Request is one page to fetch together with its retry budget.
// MaxRetries is the total number of attempts; values below 1 mean one.
type Request struct {
	URL        string
	Supplier   string
	Limiter    ratelimit.RateLimiter
	MaxRetries int
	Timeout    time.Duration
}

type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Attempts   int
}

// Fetcher performs paced, retried GET requests. It keeps no per-request
// state; pacing lives in the limiter passed with each Request.
type Fetcher struct {
	client         Doer
	agents         *UserAgentRotator
	observer       Observer
	logger         *slog.Logger
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxBodySize    int64
	acceptLanguage string
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient returns a client that does not follow redirects, so a 3xx
// reaches the classifier as is.
func NewHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func New(client Doer, opts Options, observer Observer, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaultAcceptLanguage
	}
	if observer == nil {
		observer = NewLogObserver(logger)
	}

	return &Fetcher{
		client:         client,
		agents:         NewUserAgentRotator(opts.UserAgents),
		observer:       observer,
		logger:         logger.With("component", "fetcher"),
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		maxBodySize:    opts.MaxBodySize,
		acceptLanguage: opts.AcceptLanguage,
		sleep:          sleepContext,
	}
}

type state int

const (
	stateAttempting state = iota
	stateRetrying
	stateSuccess
	stateRejected
	stateExhausted
)

type attemptResult struct {
	resp      *Response
	status    int
	err       error
	retryable bool
}

// Fetch runs the attempt state machine:
//
//	attempting -> success
//	attempting -> rejected
//	attempting -> retrying(delay) -> attempting
//	attempting -> exhausted
//
// Every failure is returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	budget := req.MaxRetries
	if budget < 1 {
		budget = 1
	}

	var (
		st      = stateAttempting
		attempt int
		last    attemptResult
	)

	for {
		switch st {
		case stateAttempting:
			attempt++
			last = f.attempt(ctx, req, attempt)
			switch {
			case last.err == nil:
				st = stateSuccess
			case ctx.Err() != nil:
				st = stateExhausted
			case !last.retryable:
				st = stateRejected
			case attempt >= budget:
				st = stateExhausted
			default:
				st = stateRetrying
			}

		case stateRetrying:
			delay := f.backoff(attempt - 1)
			f.logger.Warn("fetch attempt failed, retrying",
				"supplier", req.Supplier,
				"url", req.URL,
				"attempt", attempt,
				"delay", delay,
				"error", last.err)
			if err := f.sleep(ctx, delay); err != nil {
				last.err = err
				st = stateExhausted
				continue
			}
			st = stateAttempting

		case stateSuccess:
			last.resp.Attempts = attempt
			return last.resp, nil

		case stateRejected:
			f.logger.Error("fetch rejected", "supplier", req.Supplier, "url", req.URL, "status", last.status, "error", last.err)
			return nil, &Error{Kind: KindRejected, URL: req.URL, Attempts: attempt, StatusCode: last.status, Err: last.err}

		case stateExhausted:
			f.logger.Error("fetch retries exhausted", "supplier", req.Supplier, "url", req.URL, "attempts", attempt, "error", last.err)
			return nil, &Error{Kind: KindExhausted, URL: req.URL, Attempts: attempt, StatusCode: last.status, Err: last.err}
		}
	}
}

// backoff returns base * 2^retry, capped at the configured maximum.
func (f *Fetcher) backoff(retry int) time.Duration {
	delay := f.baseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= f.maxDelay {
			return f.maxDelay
		}
	}
	if delay > f.maxDelay {
		return f.maxDelay
	}
	return delay
}

func (f *Fetcher) attempt(ctx context.Context, req Request, n int) attemptResult {
	if req.Limiter != nil {
		if err := req.Limiter.Wait(ctx); err != nil {
			return attemptResult{err: fmt.Errorf("waiting for pacing gate: %w", err), retryable: true}
		}
	}

	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		res := attemptResult{err: fmt.Errorf("%w: %v", ErrMalformedRequest, err)}
		f.report(req, n, 0, 0, res)
		return res
	}
	httpReq.Header.Set("User-Agent", f.agents.Next())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", f.acceptLanguage)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		res := attemptResult{err: err, retryable: true}
		f.report(req, n, 0, time.Since(start), res)
		return res
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	latency := time.Since(start)

	res := classify(resp.StatusCode, readErr)
	if res.err == nil {
		finalURL := req.URL
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}
		res.resp = &Response{URL: finalURL, StatusCode: resp.StatusCode, Body: body}
	}

	f.report(req, n, resp.StatusCode, latency, res)
	return res
}

func classify(status int, readErr error) attemptResult {
	res := attemptResult{status: status}

	switch {
	case status >= 200 && status < 300:
		if readErr != nil {
			res.err = fmt.Errorf("reading body: %w", readErr)
			res.retryable = true
		}
	case status == http.StatusTooManyRequests:
		res.err = ErrRateLimited
		res.retryable = true
	case status >= 500:
		res.err = fmt.Errorf("%w: status %d", ErrServerError, status)
		res.retryable = true
	case status >= 400:
		res.err = fmt.Errorf("%w: status %d", ErrClientError, status)
	default:
		res.err = fmt.Errorf("%w: status %d", ErrUnexpectedResponse, status)
	}

	return res
}

func (f *Fetcher) report(req Request, n, status int, latency time.Duration, res attemptResult) {
	outcome := OutcomeSuccess
	switch {
	case res.err != nil && res.retryable:
		outcome = OutcomeTransient
	case res.err != nil:
		outcome = OutcomeRejected
	}

	if fb, ok := req.Limiter.(ratelimit.Feedback); ok {
		switch {
		case errors.Is(res.err, ErrRateLimited):
			fb.RecordError()
		case res.err == nil:
			fb.RecordSuccess()
		}
	}

	f.observer.ObserveAttempt(Attempt{
		Supplier:   req.Supplier,
		URL:        req.URL,
		Number:     n,
		StatusCode: status,
		Latency:    latency,
		Outcome:    outcome,
		Err:        res.err,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
