package hooks

import (
	"fmt"

	"kgraphsvc.evalgo.org/config"
)

// New selects and constructs a Provider from cfg.Kind ("static" or "http"), the
// two built-ins named in the component design's Open Question decision on hook
// loading.
func New(cfg config.HooksConfig) (Provider, error) {
	switch cfg.Kind {
	case "", "static":
		return NewStaticProvider(nil, nil), nil
	case "http":
		if cfg.FullURL == "" || cfg.IncrementalURL == "" {
			return nil, fmt.Errorf("hooks.kind=http requires hooks.full_url and hooks.incremental_url")
		}
		return NewHTTPProvider(cfg.FullURL, cfg.IncrementalURL, 2), nil
	default:
		return nil, fmt.Errorf("unknown hooks.kind %q", cfg.Kind)
	}
}
