package model

import "context"

// ProviderResult is the contribution of a single intelligence provider.
type ProviderResult struct {
	Tags  []string
	Score float64
	Geo   *GeoInfo
}

// Provider is a single external threat-intelligence source. Lookups are
// invoked with a bounded timeout by the enrichment coordinator; a failed or
// slow provider is treated as a neutral contribution, never an error for
// the whole lookup.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, identifier string) (ProviderResult, error)
}
