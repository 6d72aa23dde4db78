package hooks

import "context"

// StaticProvider is a fixture-backed Provider for local development and testing:
// configuration supplies a fixed document set, and every incremental call returns
// whatever was configured for it regardless of sinceVersion (there is no underlying
// data source to diff against).
type StaticProvider struct {
	FullDocuments        []string
	IncrementalDocuments []string
}

// NewStaticProvider builds a StaticProvider from its two fixed document sets.
func NewStaticProvider(full, incremental []string) *StaticProvider {
	return &StaticProvider{FullDocuments: full, IncrementalDocuments: incremental}
}

// FetchFull returns the configured full-build fixture.
func (p *StaticProvider) FetchFull(_ context.Context) ([]string, error) {
	return p.FullDocuments, nil
}

// FetchIncremental returns the configured incremental fixture, ignoring
// sinceVersion.
func (p *StaticProvider) FetchIncremental(_ context.Context, _ string) ([]string, error) {
	return p.IncrementalDocuments, nil
}
