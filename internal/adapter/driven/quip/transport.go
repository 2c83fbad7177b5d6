// Package quip implements the UserDirectory and IdentityProbe ports against
// the Quip REST API. Every call goes through a Transport that enforces the
// server's rate limits and retries transient failures.
package quip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gregjones/httpcache"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

const (
	defaultMaxAttempts   = 4
	defaultBackoffBase   = 500 * time.Millisecond
	defaultBackoffMax    = 30 * time.Second
	defaultBackoffJitter = 0.5
	retryAfterPad        = time.Second
	maxResponseBytes     = 16 << 20
	lowQuotaThreshold    = 10
)

// CredentialSource supplies the credential to authenticate each attempt
// with. Reading it per attempt lets a renewed token take effect mid-batch.
type CredentialSource interface {
	Credential() model.Credential
}

// Options tunes a Transport. Zero values select defaults.
type Options struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64 // Randomization factor; negative disables jitter.
	Clock         clock.Clock
	Observers     []driven.TransportObserver
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.BackoffJitter == 0 {
		o.BackoffJitter = defaultBackoffJitter
	}
	if o.BackoffJitter < 0 {
		o.BackoffJitter = 0
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Request describes one logical API call. Endpoint is a route label used in
// events and logs in place of the concrete path, which may carry addresses.
type Request struct {
	Method   string
	Path     string
	Endpoint string
	Query    url.Values
	Form     url.Values
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues authenticated requests with quota tracking, 429 and 401
// handling, and exponential backoff for 5xx and network failures.
type Transport struct {
	httpClient *http.Client
	baseURL    *url.URL
	state      *RateLimitState
	creds      CredentialSource
	checker    driven.CredentialChecker
	opts       Options
}

// NewHTTPClient returns the HTTP client stack used in production: an
// in-memory httpcache layer over a transport with a 10s connect timeout.
// timeout bounds a whole request including reading the body.
func NewHTTPClient(timeout time.Duration, cache bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	base.TLSHandshakeTimeout = 10 * time.Second

	var rt http.RoundTripper = base
	if cache {
		ct := httpcache.NewMemoryCacheTransport()
		ct.Transport = base
		rt = ct
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

// NewTransport creates a Transport. checker is consulted once after a 401.
func NewTransport(httpClient *http.Client, baseURL string, state *RateLimitState, creds CredentialSource, checker driven.CredentialChecker, opts Options) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", baseURL)
	}

	return &Transport{
		httpClient: httpClient,
		baseURL:    u,
		state:      state,
		creds:      creds,
		checker:    checker,
		opts:       opts.withDefaults(),
	}, nil
}

// State returns the shared rate-limit state.
func (t *Transport) State() *RateLimitState {
	return t.state
}

// Do runs req to completion. On success it returns the 2xx response. Every
// failure is a *model.Error except context cancellation, which wraps
// ctx.Err().
func (t *Transport) Do(ctx context.Context, req Request) (*Response, error) {
	op := req.Method + " " + req.Endpoint
	bo := t.newBackOff()

	var (
		attempt      int
		failures     int
		lastErr      error
		lastStatus   int
		throttled    bool
		reauthorized bool
	)

	for {
		err := t.state.Reserve(ctx, func(d time.Duration, reason model.WaitReason) {
			t.emit(model.TransportEvent{Kind: model.EventWait, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt + 1, Wait: d, Reason: reason})
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		attempt++
		cred := t.creds.Credential()
		t.emit(model.TransportEvent{Kind: model.EventSend, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt})

		resp, err := t.send(ctx, req, cred.Token)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", op, ctxErr)
			}
			failures++
			lastErr, lastStatus = err, 0
			t.emit(model.TransportEvent{Kind: model.EventResponse, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt, Err: err.Error(), Remaining: t.state.Snapshot().RemainingOrUnknown()})
			if failures >= t.opts.MaxAttempts {
				return nil, t.fail(req, &model.Error{Kind: model.KindTransient, Op: op, Attempts: attempt, Err: lastErr})
			}
			if err := t.backoff(ctx, req, attempt, bo); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			continue
		}

		t.state.Update(resp.Header)
		snap := t.state.Snapshot()
		t.emit(model.TransportEvent{Kind: model.EventResponse, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt, Status: resp.StatusCode, Remaining: snap.RemainingOrUnknown()})
		t.logQuota(req, resp.StatusCode, snap)

		switch status := resp.StatusCode; {
		case status >= 200 && status < 300:
			t.emit(model.TransportEvent{Kind: model.EventOutcome, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt, Status: status, Outcome: "success", Remaining: snap.RemainingOrUnknown()})
			return resp, nil

		case status == http.StatusTooManyRequests:
			now := t.opts.Clock.Now()
			retryAfter := parseRetryAfter(resp.Header, now)
			wait := retryAfter
			if !snap.Reset.IsZero() && snap.Reset.Sub(now) > wait {
				wait = snap.Reset.Sub(now)
			}
			wait += retryAfterPad
			t.state.Exhaust(now.Add(wait), retryAfter)

			if throttled {
				return nil, t.fail(req, &model.Error{Kind: model.KindRateLimited, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})
			}
			throttled = true
			t.emit(model.TransportEvent{Kind: model.EventWait, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt, Status: status, Wait: wait, Reason: model.WaitRetryAfter})
			if err := clock.Sleep(ctx, t.opts.Clock, wait); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}

		case status == http.StatusUnauthorized:
			if reauthorized || t.checker == nil {
				return nil, t.fail(req, &model.Error{Kind: model.KindExpired, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})
			}
			v := t.checker.Validate(ctx, cred)
			switch {
			case v.IsValid():
				reauthorized = true
				t.opts.Logger.Warn("quip rejected a credential that still validates, retrying once", "endpoint", req.Endpoint)
			case v.Status == model.ValidationTransient:
				return nil, t.fail(req, &model.Error{Kind: model.KindTransient, Op: op, Status: status, Attempts: attempt, Err: v.Err})
			case v.Reason == model.ReasonForbidden:
				return nil, t.fail(req, &model.Error{Kind: model.KindForbidden, Op: op, Status: status, Attempts: attempt, Err: v.Err})
			default:
				return nil, t.fail(req, &model.Error{Kind: model.KindExpired, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})
			}

		case status == http.StatusForbidden:
			return nil, t.fail(req, &model.Error{Kind: model.KindForbidden, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})

		case status == http.StatusNotFound:
			return nil, t.fail(req, &model.Error{Kind: model.KindNotFound, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})

		case status >= 500:
			failures++
			lastErr, lastStatus = errorFromBody(resp), status
			if failures >= t.opts.MaxAttempts {
				return nil, t.fail(req, &model.Error{Kind: model.KindTransient, Op: op, Status: lastStatus, Attempts: attempt, Err: lastErr})
			}
			if err := t.backoff(ctx, req, attempt, bo); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}

		default:
			return nil, t.fail(req, &model.Error{Kind: model.KindRejected, Op: op, Status: status, Attempts: attempt, Err: errorFromBody(resp)})
		}
	}
}

func (t *Transport) send(ctx context.Context, req Request, token string) (*Response, error) {
	u := *t.baseURL
	u.Path = u.Path + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (t *Transport) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     t.opts.BackoffBase,
		RandomizationFactor: t.opts.BackoffJitter,
		Multiplier:          2,
		MaxInterval:         t.opts.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (t *Transport) backoff(ctx context.Context, req Request, attempt int, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	t.emit(model.TransportEvent{Kind: model.EventWait, Method: req.Method, Endpoint: req.Endpoint, Attempt: attempt, Wait: d, Reason: model.WaitBackoff})
	return clock.Sleep(ctx, t.opts.Clock, d)
}

func (t *Transport) fail(req Request, err *model.Error) error {
	t.emit(model.TransportEvent{
		Kind:      model.EventOutcome,
		Method:    req.Method,
		Endpoint:  req.Endpoint,
		Attempt:   err.Attempts,
		Status:    err.Status,
		Outcome:   err.Kind.String(),
		Err:       err.Error(),
		Remaining: t.state.Snapshot().RemainingOrUnknown(),
	})
	return err
}

func (t *Transport) emit(ev model.TransportEvent) {
	if ev.At.IsZero() {
		ev.At = t.opts.Clock.Now()
	}
	if ev.Kind != model.EventResponse && ev.Kind != model.EventOutcome {
		ev.Remaining = t.state.Snapshot().RemainingOrUnknown()
	}
	for _, o := range t.opts.Observers {
		o.Observe(ev)
	}
}

// logQuota logs the rate limit status after each response.
func (t *Transport) logQuota(req Request, status int, snap RateLimitSnapshot) {
	t.opts.Logger.Debug("quip api call",
		"endpoint", req.Endpoint,
		"status", status,
		"rate_remaining", snap.RemainingOrUnknown(),
		"rate_limit", snap.Limit,
	)

	if snap.Known && snap.Remaining < lowQuotaThreshold {
		t.opts.Logger.Warn("quip rate limit low",
			"remaining", snap.Remaining,
			"reset_in", snap.Reset.Sub(t.opts.Clock.Now()).Round(time.Second),
		)
	}
}

// errorFromBody extracts a short error from a Quip error response.
func errorFromBody(resp *Response) error {
	desc := describeError(resp.Body)
	if desc == "" {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return errors.New(desc)
}

func describeError(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var e apiError
	if err := decodeJSON(body, &e); err == nil {
		switch {
		case e.ErrorDescription != "":
			return e.ErrorDescription
		case e.Message != "":
			return e.Message
		case e.Error != "":
			return e.Error
		}
	}
	const maxLen = 200
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return string(body)
}
