package quip

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/platform/clock"
)

// Quip rate-limit response headers.
const (
	HeaderLimit      = "X-Ratelimit-Limit"
	HeaderRemaining  = "X-Ratelimit-Remaining"
	HeaderReset      = "X-Ratelimit-Reset"
	HeaderRetryAfter = "Retry-After"

	// headerFromCache is set by httpcache on responses served from cache.
	headerFromCache = "X-From-Cache"
)

// RateLimitState is the process-local estimate of the server quota. It is
// shared by every request issued through one Transport or Probe.
//
// Reserve serializes the "read remaining, decide to wait, reserve" step with
// a context-aware lock so concurrent workers never overdraw the estimate.
type RateLimitState struct {
	sem    chan struct{}
	clock  clock.Clock
	margin time.Duration

	mu         sync.Mutex
	known      bool
	remaining  int
	limit      int
	reset      time.Time
	retryAfter time.Duration
	hint       model.WaitReason
}

// RateLimitSnapshot is a point-in-time copy of RateLimitState.
type RateLimitSnapshot struct {
	Known      bool
	Remaining  int
	Limit      int
	Reset      time.Time
	RetryAfter time.Duration
}

// RemainingOrUnknown returns Remaining, or -1 while the quota is unknown.
func (s RateLimitSnapshot) RemainingOrUnknown() int {
	if !s.Known {
		return -1
	}
	return s.Remaining
}

// NewRateLimitState creates an empty state. safetyMargin is added to every
// quota wait so that requests land after the server has rolled its window.
func NewRateLimitState(clk clock.Clock, safetyMargin time.Duration) *RateLimitState {
	return &RateLimitState{
		sem:    make(chan struct{}, 1),
		clock:  clk,
		margin: safetyMargin,
	}
}

// Snapshot returns a copy of the current estimate.
func (s *RateLimitState) Snapshot() RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RateLimitSnapshot{
		Known:      s.known,
		Remaining:  s.remaining,
		Limit:      s.limit,
		Reset:      s.reset,
		RetryAfter: s.retryAfter,
	}
}

// Reserve blocks until one request may be sent and consumes one unit of the
// estimated quota. onWait, if non-nil, is called before every suspension.
// Returns ctx.Err() if the context ends while waiting.
func (s *RateLimitState) Reserve(ctx context.Context, onWait func(d time.Duration, reason model.WaitReason)) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, reason, ok := s.tryReserve()
		if ok {
			return nil
		}
		if onWait != nil {
			onWait(d, reason)
		}
		if err := clock.Sleep(ctx, s.clock, d); err != nil {
			return err
		}
	}
}

func (s *RateLimitState) tryReserve() (time.Duration, model.WaitReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.known && !s.reset.IsZero() && !now.Before(s.reset) {
		s.rollWindow()
	}

	if s.known && s.remaining <= 0 && !s.reset.IsZero() {
		reason := s.hint
		if reason == "" {
			reason = model.WaitQuota
		}
		return s.reset.Sub(now) + s.margin, reason, false
	}

	if s.known && s.remaining > 0 {
		s.remaining--
	}
	return 0, "", true
}

// rollWindow starts a fresh window after the reset time has passed. The
// new window's end is unknown until the next response reports it.
func (s *RateLimitState) rollWindow() {
	s.reset = time.Time{}
	s.hint = ""
	s.retryAfter = 0
	if s.limit > 0 {
		s.remaining = s.limit
		return
	}
	s.known = false
}

// Update folds rate-limit headers into the estimate. Missing headers leave
// the estimate unchanged and cached responses are ignored. Within the same
// window the lower of the reported and locally reserved remaining wins.
func (s *RateLimitState) Update(h http.Header) {
	if h.Get(headerFromCache) != "" {
		return
	}

	remaining, okRemaining := headerInt(h, HeaderRemaining)
	limit, okLimit := headerInt(h, HeaderLimit)
	resetEpoch, okReset := headerInt(h, HeaderReset)
	if !okRemaining && !okLimit && !okReset {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if okLimit {
		s.limit = limit
	}

	newReset := s.reset
	if okReset {
		newReset = time.Unix(int64(resetEpoch), 0)
	}

	// A late response from before a 429 must not lift the hold.
	if s.hint == model.WaitRetryAfter && newReset.Before(s.reset) {
		return
	}

	if okRemaining {
		if s.known && newReset.Equal(s.reset) {
			s.remaining = min(s.remaining, remaining)
		} else {
			s.remaining = remaining
		}
		s.known = true
	}

	if okReset && !newReset.Equal(s.reset) {
		s.reset = newReset
		s.hint = ""
	}
}

// Exhaust marks the quota as spent until at least until. Used after a 429
// so that every worker holds off, not only the one that was rejected.
func (s *RateLimitState) Exhaust(until time.Time, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.known = true
	s.remaining = 0
	s.retryAfter = retryAfter
	if until.After(s.reset) {
		s.reset = until
	}
	s.hint = model.WaitRetryAfter
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false
		}
		n = int(f)
	}
	return n, true
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
