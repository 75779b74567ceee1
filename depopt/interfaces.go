package depopt

import "context"

// Bundler runs one bundling pass over a fixed snapshot of dependencies
// (spec.md 6). Implementations wrap whatever actual bundler toolchain the
// host embeds (esbuild, a roll-your-own bundler, a fixture in tests).
// order lists newDeps' keys in registration order -- spec.md 4.6 step 3
// requires "insertion order is preserved to keep the resulting bundle
// graph stable run-to-run," which a bare Go map cannot carry on its own.
type Bundler interface {
	Run(ctx context.Context, cfg *Config, newDeps map[string]OptimizedDepInfo, order []string) (BundleResult, error)
}

// Scanner performs the optional upfront dependency discovery pass
// (spec.md 2's "discover -- scans source for bare imports"). A nil
// Scanner means the optimizer relies entirely on register_missing_import
// calls arriving from the host's module graph.
type Scanner interface {
	Discover(ctx context.Context, cfg *Config, sessionToken string) (map[string]*OptimizedDepInfo, error)
}

// ServerHooks notifies the host dev server of cache-busting events
// (spec.md 4.6 steps 9-10).
type ServerHooks interface {
	InvalidateAll()
	FullReload(ctx context.Context)
}

// ExportsExtractor summarizes a resolved module's exports for the host
// (spec.md 4.3 step 3: "exports_data extracted from resolved_src"). The
// optimizer treats the result as opaque.
type ExportsExtractor interface {
	Extract(resolvedSrc string) interface{}
}

// noopHooks is used when the caller doesn't supply ServerHooks, so the
// control loop never needs a nil check on the hot path.
type noopHooks struct{}

func (noopHooks) InvalidateAll()            {}
func (noopHooks) FullReload(context.Context) {}

type noopExtractor struct{}

func (noopExtractor) Extract(string) interface{} { return nil }
