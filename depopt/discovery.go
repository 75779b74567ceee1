package depopt

// registerMissingImport implements spec.md 4.3's five-step algorithm. It
// runs exclusively on the run-loop goroutine, the same way
// ec/manager.go's xaction lookups run under its single dispatch point
// rather than behind a lock taken from arbitrary callers.
func (o *Optimizer) registerMissingImport(id, src string) *OptimizedDepInfo {
	meta := o.meta.get()
	if info, ok := meta.Optimized[id]; ok {
		return info
	}
	if info, ok := meta.Chunks[id]; ok {
		return info
	}
	if info, ok := meta.Discovered[id]; ok {
		return info
	}

	if o.state.scanInFlight {
		o.log.Warnf("register_missing_import(%s) raced with an in-flight dependency scan", id)
	}

	optimizedIDs := idsOf(meta.Optimized)
	discoveredIDs := append(idsOf(meta.Discovered), id)

	info := &OptimizedDepInfo{
		ID:           id,
		Src:          src,
		File:         o.deterministicPath(id),
		BrowserHash:  computeBrowserHash(meta.Hash, optimizedIDs, discoveredIDs, o.state.sessionToken),
		NeedsInterop: TriUnknown,
		ExportsData:  o.exports.Extract(src),
		Processing:   o.state.barrier,
		Kind:         KindDiscovered,
	}

	// Disjointness was already checked by the three lookups above, so
	// this insertion cannot fail.
	_ = o.meta.add(KindDiscovered, info)
	o.recordOrder(id)
	o.state.newDepsDiscovered = true
	o.metrics.discoveries.Inc()

	if o.state.firstRunTriggered || o.scanner != nil {
		o.armDebounce()
	}
	return info
}

// recordOrder appends id to the registration-order ledger the rerun
// executor uses to build a stable new_deps ordering (spec.md 4.6 step 3:
// "insertion order is preserved"). Go maps carry no order of their own,
// so this is tracked alongside them.
func (o *Optimizer) recordOrder(id string) {
	if _, ok := o.state.orderSeen[id]; ok {
		return
	}
	o.state.orderSeen[id] = struct{}{}
	o.state.order = append(o.state.order, id)
}

func (o *Optimizer) deterministicPath(id string) string {
	name := hashStrings(id)
	if o.cfg.SSR {
		return o.cfg.CacheDir + "/ssr/" + name + ".mjs"
	}
	return o.cfg.CacheDir + "/" + name + ".js"
}
