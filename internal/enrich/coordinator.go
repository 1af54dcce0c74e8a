// Package enrich fans an IP or domain lookup out to independent
// threat-intelligence providers and merges their contributions. Enrichment
// is best-effort augmentation: a provider failure, timeout, or panic yields
// a neutral contribution, and even a total failure of every provider
// returns the neutral baseline rather than an error.
package enrich

import (
	"context"
	"sort"
	"time"

	"FlowSentry/internal/metrics"
	"FlowSentry/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxScore caps the merged score: corroborating signals compound but
// cannot exceed the scale ceiling.
const maxScore = 100

// Coordinator owns no persistent state; it is a pure async computation
// over the configured providers.
type Coordinator struct {
	ipProviders     []model.Provider
	domainProviders []model.Provider
	perCall         time.Duration
	overall         time.Duration
	cache           *lru.Cache[string, model.EnrichmentResult]
	limiters        map[string]*rate.Limiter
	log             *zap.SugaredLogger
}

// New creates a Coordinator. cacheSize <= 0 disables caching;
// ratePerSecond <= 0 disables per-provider rate limiting.
func New(ipProviders, domainProviders []model.Provider, perCall, overall time.Duration, cacheSize int, ratePerSecond float64, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		ipProviders:     ipProviders,
		domainProviders: domainProviders,
		perCall:         perCall,
		overall:         overall,
		limiters:        make(map[string]*rate.Limiter),
		log:             log,
	}
	if cacheSize > 0 {
		c.cache, _ = lru.New[string, model.EnrichmentResult](cacheSize)
	}
	if ratePerSecond > 0 {
		for _, p := range append(append([]model.Provider{}, ipProviders...), domainProviders...) {
			c.limiters[p.Name()] = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
		}
	}
	return c
}

// EnrichIP looks up an IP against every IP provider.
func (c *Coordinator) EnrichIP(ctx context.Context, ip string) model.EnrichmentResult {
	return c.enrich(ctx, "ip:"+ip, ip, c.ipProviders)
}

// EnrichDomain looks up a domain against every domain provider.
func (c *Coordinator) EnrichDomain(ctx context.Context, domain string) model.EnrichmentResult {
	return c.enrich(ctx, "domain:"+domain, domain, c.domainProviders)
}

// outcome is the discriminated per-provider result: a contribution or a
// named failure, never inspected by shape.
type outcome struct {
	provider string
	res      model.ProviderResult
	failed   bool
}

func (c *Coordinator) enrich(ctx context.Context, cacheKey, identifier string, providers []model.Provider) model.EnrichmentResult {
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKey); ok {
			return cached
		}
	}

	merged := model.EnrichmentResult{Identifier: identifier, Tags: []string{}}
	if len(providers) == 0 {
		return merged
	}

	ctx, cancel := context.WithTimeout(ctx, c.overall)
	defer cancel()

	results := make(chan outcome, len(providers))
	for _, p := range providers {
		go c.lookupOne(ctx, p, identifier, results)
	}

	tags := make(map[string]struct{})
	score := 0.0
collect:
	for range providers {
		select {
		case out := <-results:
			if out.failed {
				metrics.ProviderFailures.WithLabelValues(out.provider).Inc()
				continue
			}
			for _, t := range out.res.Tags {
				tags[t] = struct{}{}
			}
			score += out.res.Score
			if out.res.Geo != nil && merged.Geo == nil {
				merged.Geo = out.res.Geo
			}
		case <-ctx.Done():
			// Aggregate deadline: abandon the providers still running and
			// merge what arrived in time.
			break collect
		}
	}

	for t := range tags {
		merged.Tags = append(merged.Tags, t)
	}
	sort.Strings(merged.Tags)
	if score > maxScore {
		score = maxScore
	}
	merged.Score = score

	if c.cache != nil {
		c.cache.Add(cacheKey, merged)
	}
	return merged
}

// lookupOne wraps a single provider call so that any error, timeout, or
// panic becomes a neutral outcome instead of poisoning the batch.
func (c *Coordinator) lookupOne(ctx context.Context, p model.Provider, identifier string, results chan<- outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("enrichment provider panicked", "provider", p.Name(), "panic", r)
			results <- outcome{provider: p.Name(), failed: true}
		}
	}()

	if lim, ok := c.limiters[p.Name()]; ok {
		if err := lim.Wait(ctx); err != nil {
			results <- outcome{provider: p.Name(), failed: true}
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.perCall)
	defer cancel()

	res, err := p.Lookup(callCtx, identifier)
	if err != nil {
		c.log.Debugw("enrichment provider failed", "provider", p.Name(), "err", err)
		results <- outcome{provider: p.Name(), failed: true}
		return
	}
	results <- outcome{provider: p.Name(), res: res}
}
