package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// ResolverOptions tunes the BulkResolver. Zero values fall back to defaults.
type ResolverOptions struct {
	LookupBatchSize     int
	LookupConcurrency   int
	FallbackConcurrency int
	FallbackDomains     []string
}

// Resolver defaults.
const (
	DefaultLookupBatchSize     = 100
	DefaultLookupConcurrency   = 2
	DefaultFallbackConcurrency = 4
)

// DefaultFallbackDomains are the alternate domains tried, in order, when an
// address has no exact match.
var DefaultFallbackDomains = []string{
	"amazon.com",
	"amazon.co.jp",
	"amazon.fr",
	"amazon.co.uk",
	"amazon.com.au",
	"amazon.de",
	"amazon.es",
	"amazon.it",
}

func (o ResolverOptions) withDefaults() ResolverOptions {
	if o.LookupBatchSize <= 0 {
		o.LookupBatchSize = DefaultLookupBatchSize
	}
	if o.LookupConcurrency <= 0 {
		o.LookupConcurrency = DefaultLookupConcurrency
	}
	if o.FallbackConcurrency <= 0 {
		o.FallbackConcurrency = DefaultFallbackConcurrency
	}
	if o.FallbackDomains == nil {
		o.FallbackDomains = DefaultFallbackDomains
	}
	return o
}

// BulkResolver maps candidate addresses to member IDs in two phases: chunked
// exact lookups, then per-candidate lookups against alternate domains.
type BulkResolver struct {
	dir    driven.UserDirectory
	opts   ResolverOptions
	logger *slog.Logger
}

// NewBulkResolver creates a BulkResolver backed by dir.
func NewBulkResolver(dir driven.UserDirectory, opts ResolverOptions, logger *slog.Logger) *BulkResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkResolver{dir: dir, opts: opts.withDefaults(), logger: logger}
}

// resolution is the working state for one distinct normalized candidate.
type resolution struct {
	address string
	user    *model.UserInfo
	domain  string
	phase   model.ResolutionPhase
	cause   error
}

// Resolve returns one result per candidate, in input order. Failures of a
// single chunk or fallback lookup only affect their own candidates. An
// expired or forbidden credential, or cancellation of ctx, stops the run;
// the partial report is still returned alongside the error, with every
// unfinished candidate reported unresolved.
func (r *BulkResolver) Resolve(ctx context.Context, candidates []string, existingMemberIDs []string) (model.ResolutionReport, error) {
	existing := make(map[string]struct{}, len(existingMemberIDs))
	for _, id := range existingMemberIDs {
		existing[id] = struct{}{}
	}

	// Distinct addresses are looked up once; duplicates share the result.
	index := make(map[string]int, len(candidates))
	work := make([]*resolution, 0, len(candidates))
	slots := make([]int, len(candidates))
	for i, c := range candidates {
		addr := normalizeAddress(c)
		n, ok := index[addr]
		if !ok {
			n = len(work)
			index[addr] = n
			work = append(work, &resolution{address: addr})
		}
		slots[i] = n
	}

	err := r.exactPhase(ctx, work)
	if err == nil {
		err = r.fallbackPhase(ctx, work)
	}

	report := model.ResolutionReport{Results: make([]model.ResolutionResult, len(candidates))}
	for i, c := range candidates {
		w := work[slots[i]]
		res := model.ResolutionResult{Candidate: c}
		switch {
		case w.user == nil:
			res.Outcome = model.OutcomeUnresolved
			res.Cause = w.cause
			if res.Cause == nil && err != nil {
				res.Cause = err
			}
		default:
			res.MemberID = w.user.ID
			res.Phase = w.phase
			res.MatchedDomain = w.domain
			res.Outcome = model.OutcomeResolved
			if _, ok := existing[w.user.ID]; ok {
				res.Outcome = model.OutcomeAlreadyMember
			}
		}
		report.Results[i] = res
	}

	resolved, already, unresolved := report.Counts()
	r.logger.Info("candidates resolved",
		"candidates", len(candidates),
		"resolved", resolved,
		"already_member", already,
		"unresolved", unresolved,
	)

	if err != nil {
		return report, fmt.Errorf("resolve candidates: %w", err)
	}
	return report, nil
}

// exactPhase issues one bulk lookup per chunk, with bounded concurrency.
// Each goroutine writes only to the entries of its own chunk.
func (r *BulkResolver) exactPhase(ctx context.Context, work []*resolution) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.LookupConcurrency)

	for start := 0; start < len(work); start += r.opts.LookupBatchSize {
		chunk := work[start:min(start+r.opts.LookupBatchSize, len(work))]
		g.Go(func() error {
			return r.lookupChunk(gctx, chunk)
		})
	}
	return g.Wait()
}

func (r *BulkResolver) lookupChunk(ctx context.Context, chunk []*resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]string, 0, len(chunk))
	for _, w := range chunk {
		ids = append(ids, w.address)
	}

	found, err := r.dir.LookupUsers(ctx, ids)
	if err != nil {
		if isFatal(err) {
			return err
		}
		r.logger.Warn("bulk lookup failed, candidates carried to fallback",
			"candidates", len(chunk),
			"error", err,
		)
		for _, w := range chunk {
			w.cause = err
		}
		return nil
	}

	for _, w := range chunk {
		if u, ok := found[w.address]; ok {
			w.user = &u
			w.phase = model.PhaseExact
		}
	}
	return nil
}

// fallbackPhase retries every unresolved candidate on its own. Candidates
// whose chunk failed are retried verbatim first.
func (r *BulkResolver) fallbackPhase(ctx context.Context, work []*resolution) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FallbackConcurrency)

	for _, w := range work {
		if w.user != nil {
			continue
		}
		g.Go(func() error {
			return r.fallback(gctx, w)
		})
	}
	return g.Wait()
}

func (r *BulkResolver) fallback(ctx context.Context, w *resolution) error {
	local, domain, ok := splitAddress(w.address)
	if !ok {
		return nil
	}

	type attempt struct {
		address string
		domain  string
		phase   model.ResolutionPhase
	}
	var attempts []attempt
	if w.cause != nil {
		attempts = append(attempts, attempt{address: w.address, phase: model.PhaseExact})
	}
	for _, d := range r.opts.FallbackDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || d == domain {
			continue
		}
		attempts = append(attempts, attempt{address: local + "@" + d, domain: d, phase: model.PhaseFallback})
	}

	w.cause = nil
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		u, err := r.dir.LookupUser(ctx, a.address)
		switch {
		case err == nil:
			w.user = &u
			w.domain = a.domain
			w.phase = a.phase
			return nil
		case isFatal(err):
			return err
		case exhaustedRetries(err):
			r.logger.Warn("fallback lookup failed", "domain", a.domain, "error", err)
			w.cause = err
			return nil
		default:
			// NotFound and Rejected both mean this domain does not know the user.
			if !errors.Is(err, model.ErrNotFound) {
				r.logger.Debug("fallback lookup missed", "domain", a.domain, "error", err)
			}
			continue
		}
	}
	return nil
}

// isFatal reports whether err must stop the whole run rather than a
// single candidate.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch model.KindOf(err) {
	case model.KindExpired, model.KindMalformed, model.KindForbidden:
		return true
	default:
		return false
	}
}

// exhaustedRetries reports whether err is a failure the transport already
// retried. Such a candidate stops instead of trying further domains.
func exhaustedRetries(err error) bool {
	switch model.KindOf(err) {
	case model.KindTransient, model.KindRateLimited:
		return true
	default:
		return false
	}
}

func normalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// splitAddress splits at the last '@'.
func splitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}
