package depopt

import "context"

// bootstrapSSR implements spec.md 4.7's startup step: "if the config
// enables SSR, invoke the bundler once with the SSR flag; hold the
// resulting metadata in a separate slot." Runs synchronously before the
// control loop starts and never runs again -- the SSR slot does not
// participate in reruns.
func (o *Optimizer) bootstrapSSR() {
	newDeps := make(map[string]OptimizedDepInfo, len(o.manualIncludes))
	order := make([]string, 0, len(o.manualIncludes))
	for id, src := range o.manualIncludes {
		newDeps[id] = OptimizedDepInfo{
			ID:           id,
			Src:          src,
			File:         o.deterministicPath(id),
			NeedsInterop: TriUnknown,
			ExportsData:  o.exports.Extract(src),
			Kind:         KindOptimized,
		}
		order = append(order, id)
	}

	result, err := o.bundler.Run(context.Background(), o.cfg, newDeps, order)
	if err != nil {
		o.log.Errorf("ssr bootstrap bundle failed: %v", wrapBundlerErr(err))
		return
	}
	if err := result.Commit(); err != nil {
		o.log.Errorf("ssr bootstrap commit failed: %v", err)
		return
	}
	o.ssrMeta = result.Metadata()
}

// RegisterMissingImportSSR implements the SSR variant of
// register_missing_import (spec.md 4.7): server-side rendering bundles
// must be fully known upfront, so an id that wasn't already seeded via
// WithManualIncludes is rejected rather than triggering a new discovery +
// rerun cycle.
func (o *Optimizer) RegisterMissingImportSSR(ctx context.Context, id string) (*OptimizedDepInfo, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if !o.cfg.SSR {
		return o.RegisterMissingImport(ctx, id, "")
	}
	if _, ok := o.manualIncludes[id]; !ok {
		o.log.Errorf("ssr import %q: %v", id, ErrSSRNotIncluded)
		return nil, ErrSSRNotIncluded
	}

	type ssrResult struct {
		info *OptimizedDepInfo
		err  error
	}
	reply := make(chan ssrResult, 1)
	o.submit(func() {
		meta := o.meta.get()
		if info, ok := meta.Optimized[id]; ok {
			reply <- ssrResult{info: info}
			return
		}
		if info, ok := meta.Discovered[id]; ok {
			reply <- ssrResult{info: info}
			return
		}
		reply <- ssrResult{err: ErrSSRNotIncluded}
	})

	select {
	case r := <-reply:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
