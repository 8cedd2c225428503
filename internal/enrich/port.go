// Package enrich defines the optional log-enrichment port: a pluggable
// hook the ingestion writer can call before persisting a batch, for
// capabilities like GeoIP/IP-reputation lookups that live outside this
// core. No concrete provider is implemented here, only the port and a
// no-op adapter.
package enrich

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/models"
)

// Enricher adds or corrects attributes on a log before it's persisted.
// Implementations must not block indefinitely; the writer calls Enrich
// per-record on the ingestion path.
type Enricher interface {
	Enrich(ctx context.Context, tenant, project string, log *models.LogInput) error
}

// NoopEnricher implements Enricher as a pass-through. It's the default
// wired by the composition root until a real provider exists.
type NoopEnricher struct{}

func (NoopEnricher) Enrich(ctx context.Context, tenant, project string, log *models.LogInput) error {
	return nil
}

// DefaultRateLimit caps a real Enricher implementation's outbound call
// budget absent an explicit WithRateLimit, matching the teacher client
// packages' own default.
const DefaultRateLimit = 10 // requests per second

// Option configures a RateLimitedEnricher.
type Option func(*RateLimitedEnricher)

// WithRateLimit overrides the enrichment call budget.
func WithRateLimit(requestsPerSecond int) Option {
	return func(e *RateLimitedEnricher) {
		e.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithLogger attaches a logger used to report throttling waits.
func WithLogger(logger *common.Logger) Option {
	return func(e *RateLimitedEnricher) {
		e.logger = logger
	}
}

// RateLimitedEnricher wraps another Enricher with an x/time/rate budget,
// so a future concrete provider (GeoIP, IP-reputation) can be dropped in
// as the Next field without re-deriving throttling.
type RateLimitedEnricher struct {
	Next    Enricher
	limiter *rate.Limiter
	logger  *common.Logger
}

// NewRateLimitedEnricher wraps next with a token-bucket limiter, functional-
// options style matching the teacher's API client constructors.
func NewRateLimitedEnricher(next Enricher, opts ...Option) *RateLimitedEnricher {
	e := &RateLimitedEnricher{
		Next:    next,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RateLimitedEnricher) Enrich(ctx context.Context, tenant, project string, log *models.LogInput) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	return e.Next.Enrich(ctx, tenant, project, log)
}

var (
	_ Enricher = NoopEnricher{}
	_ Enricher = (*RateLimitedEnricher)(nil)
)
