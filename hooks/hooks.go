// Package hooks resolves the source-data provider the build pipeline pulls raw
// text from (C7). This is a Go-native substitute for the Python reference's
// dynamic module loading (original_source/server/utils/hooks.py's
// importlib.import_module/getattr on an arbitrary configured module path): Go has
// no equivalent runtime import story, so providers are selected by a "kind" string
// among built-in implementations instead.
package hooks

import "context"

// Provider supplies the raw text documents a build or update pulls from. FetchFull
// returns every document that should seed a full rebuild. FetchIncremental returns
// only documents observed since sinceVersion, mirroring get_full_data()/
// get_incremental_data(since_version) from the reference hooks module.
type Provider interface {
	FetchFull(ctx context.Context) ([]string, error)
	FetchIncremental(ctx context.Context, sinceVersion string) ([]string, error)
}
