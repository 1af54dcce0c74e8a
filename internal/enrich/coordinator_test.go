package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

type stubProvider struct {
	name  string
	res   model.ProviderResult
	err   error
	delay time.Duration
	panic bool
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Lookup(ctx context.Context, _ string) (model.ProviderResult, error) {
	p.calls++
	if p.panic {
		panic("provider bug")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return model.ProviderResult{}, ctx.Err()
		}
	}
	return p.res, p.err
}

func newCoordinator(providers ...model.Provider) *Coordinator {
	return New(providers, nil, 100*time.Millisecond, 500*time.Millisecond, 0, 0, logging.NewNop())
}

func TestEnrichIP_MergesProviderResults(t *testing.T) {
	c := newCoordinator(
		&stubProvider{name: "a", res: model.ProviderResult{Score: 40, Tags: []string{"a"}}},
		&stubProvider{name: "b", res: model.ProviderResult{Score: 30, Tags: []string{"a", "b"}}},
		&stubProvider{name: "c", res: model.ProviderResult{Score: 0, Tags: []string{}}},
	)

	got := c.EnrichIP(context.Background(), "1.2.3.4")
	if got.Score != 70 {
		t.Errorf("score = %v, want 70", got.Score)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "a" || got.Tags[1] != "b" {
		t.Errorf("tags = %v, want [a b]", got.Tags)
	}
}

func TestEnrichIP_ScoreCappedAt100(t *testing.T) {
	c := newCoordinator(
		&stubProvider{name: "a", res: model.ProviderResult{Score: 40}},
		&stubProvider{name: "b", res: model.ProviderResult{Score: 40}},
		&stubProvider{name: "c", res: model.ProviderResult{Score: 40}},
	)
	if got := c.EnrichIP(context.Background(), "1.2.3.4"); got.Score != 100 {
		t.Errorf("score = %v, want capped 100", got.Score)
	}
}

func TestEnrichIP_AllProvidersFailing(t *testing.T) {
	c := newCoordinator(
		&stubProvider{name: "a", err: errors.New("connection refused")},
		&stubProvider{name: "b", delay: time.Minute}, // will hit the deadline
		&stubProvider{name: "c", panic: true},
	)

	got := c.EnrichIP(context.Background(), "1.2.3.4")
	if got.Score != 0 {
		t.Errorf("score = %v, want neutral 0", got.Score)
	}
	if len(got.Tags) != 0 {
		t.Errorf("tags = %v, want empty", got.Tags)
	}
}

func TestEnrichIP_SlowProviderDoesNotBlockOthers(t *testing.T) {
	fast := &stubProvider{name: "fast", res: model.ProviderResult{Score: 30, Tags: []string{"fast"}}}
	slow := &stubProvider{name: "slow", delay: time.Minute, res: model.ProviderResult{Score: 99}}
	c := newCoordinator(fast, slow)

	start := time.Now()
	got := c.EnrichIP(context.Background(), "1.2.3.4")
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("enrichment took %v, should be bounded by the aggregate deadline", elapsed)
	}
	if got.Score != 30 || len(got.Tags) != 1 {
		t.Errorf("fast provider's signal lost: %+v", got)
	}
}

func TestEnrichIP_GeoAttachedVerbatim(t *testing.T) {
	geo := &model.GeoInfo{City: "Copenhagen", Country: "Denmark", Lat: 55.7, Lon: 12.6}
	c := newCoordinator(
		&stubProvider{name: "geo", res: model.ProviderResult{Geo: geo}},
		&stubProvider{name: "rep", res: model.ProviderResult{Score: 40, Tags: []string{"bad"}}},
	)

	got := c.EnrichIP(context.Background(), "1.2.3.4")
	if got.Geo == nil || got.Geo.Country != "Denmark" || got.Geo.Lat != 55.7 {
		t.Errorf("geo not attached verbatim: %+v", got.Geo)
	}
	if got.Score != 40 {
		t.Errorf("geo provider must not affect the score, got %v", got.Score)
	}
}

func TestEnrich_CacheAvoidsRepeatLookups(t *testing.T) {
	p := &stubProvider{name: "a", res: model.ProviderResult{Score: 10}}
	c := New([]model.Provider{p}, nil, 100*time.Millisecond, time.Second, 8, 0, logging.NewNop())

	c.EnrichIP(context.Background(), "1.2.3.4")
	c.EnrichIP(context.Background(), "1.2.3.4")

	if p.calls != 1 {
		t.Errorf("expected 1 provider call with a warm cache, got %d", p.calls)
	}
}

func TestEnrichDomain_UsesDomainProviders(t *testing.T) {
	ipProv := &stubProvider{name: "ip", res: model.ProviderResult{Score: 40}}
	domProv := &stubProvider{name: "dom", res: model.ProviderResult{Score: 10, Tags: []string{"whois_found"}}}
	c := New([]model.Provider{ipProv}, []model.Provider{domProv},
		100*time.Millisecond, time.Second, 0, 0, logging.NewNop())

	got := c.EnrichDomain(context.Background(), "example.com")
	if got.Score != 10 || len(got.Tags) != 1 {
		t.Errorf("domain result wrong: %+v", got)
	}
	if ipProv.calls != 0 {
		t.Error("domain enrichment must not invoke IP providers")
	}
}
