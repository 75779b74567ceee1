package depopt

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// onDebounceFired is the scheduler callback armed by armDebounce. It
// either starts a rerun immediately or, if one is already in flight,
// leaves a single rerun enqueued for when the current one finishes
// (spec.md 4.4).
func (o *Optimizer) onDebounceFired() {
	if o.state.currentlyProcessing {
		o.state.enqueuedRerun = true
		return
	}
	o.startRerun()
}

// startRerun implements the first half of spec.md 4.6's rerun executor:
// steps 1-5, ending with the asynchronous Bundler.Run call. The second
// half (steps 6-10) resumes on the run loop in onBundleDone once the
// bundler returns.
func (o *Optimizer) startRerun() {
	o.state.currentlyProcessing = true
	o.sched.CancelRerun()

	startMeta := o.meta.get()
	if len(startMeta.Discovered) == 0 {
		o.finishRerunCycle()
		return
	}

	newDeps, order := o.buildNewDeps(startMeta)

	o.state.newDepsDiscovered = false
	o.state.rq.enqueue(o.state.barrier)
	o.state.barrier = newBarrier()

	o.metrics.rerunsStarted.Inc()

	go func() {
		ctx := context.Background()
		var result BundleResult
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					result, err = nil, errors.Errorf("bundler panic: %v", r)
				}
			}()
			result, err = o.bundler.Run(ctx, o.cfg, newDeps, order)
		}()
		o.submit(func() { o.onBundleDone(startMeta, result, err) })
	}()
}

// buildNewDeps unions optimized and discovered into the snapshot passed
// to the bundler, stripping Processing barriers (spec.md 4.6 step 3), and
// returns alongside it the ids in registration order -- the order slice
// is what actually preserves "insertion order" for the bundler, since the
// map itself carries none.
func (o *Optimizer) buildNewDeps(meta *Metadata) (map[string]OptimizedDepInfo, []string) {
	newDeps := make(map[string]OptimizedDepInfo, len(meta.Optimized)+len(meta.Discovered))
	order := make([]string, 0, len(o.state.order))
	for _, id := range o.state.order {
		if info, ok := meta.Optimized[id]; ok {
			newDeps[id] = *info.clone()
			order = append(order, id)
			continue
		}
		if info, ok := meta.Discovered[id]; ok {
			newDeps[id] = *info.clone()
			order = append(order, id)
		}
	}
	return newDeps, order
}

// onBundleDone implements spec.md 4.6 steps 6-10: compute whether a
// browser reload is needed, then branch on whether more deps surfaced
// while the bundler was running.
func (o *Optimizer) onBundleDone(startMeta *Metadata, result BundleResult, err error) {
	defer o.finishRerunCycle()

	if err != nil {
		o.log.Errorf("rerun failed: %v", wrapBundlerErr(err))
		o.metrics.rerunsFailed.Inc()
		o.state.rq.drain()
		o.clearDiscovered()
		return
	}

	newMeta := result.Metadata()
	mismatched := interopMismatches(startMeta.Discovered, newMeta.Optimized)
	needsReload := len(mismatched) > 0 ||
		startMeta.Hash != newMeta.Hash ||
		fileHashesChanged(startMeta.Optimized, newMeta.Optimized)

	switch {
	case !needsReload:
		if !o.commitProcessing(result, newMeta, needsReload) {
			return
		}
		o.sched.DebounceLog(o.cfg.LogSummaryDelay, func() {
			o.submit(func() { o.logNewDepsSummary(startMeta, newMeta) })
		})

	case o.state.newDepsDiscovered:
		// More imports surfaced mid-rerun: the bundled result is already
		// stale, so discard it and let the follow-up rerun (already
		// armed or about to be, via the enqueued slot) supersede it.
		if cerr := result.Cancel(); cerr != nil {
			o.log.Warnf("rerun cancel failed: %v", cerr)
		}
		o.metrics.rerunsCanceled.Inc()

	default:
		if !o.commitProcessing(result, newMeta, needsReload) {
			return
		}
		o.hooks.InvalidateAll()
		o.hooks.FullReload(context.Background())
		for _, id := range mismatched {
			o.log.Warnf("dependency %q changed module interop shape; browser needs a full reload", id)
		}
	}
}

// commitProcessing implements spec.md 4.6's commit_processing: make the
// bundler's side effects durable, carry forward anything discovered
// mid-rerun that the bundler didn't see, write committed values back onto
// still-referenced discovered entries, then publish the new snapshot and
// drain waiters. Returns false if the commit itself failed, in which case
// the caller must not proceed (state has already been cleaned up here).
func (o *Optimizer) commitProcessing(result BundleResult, newMeta *Metadata, needsReload bool) bool {
	if err := result.Commit(); err != nil {
		o.log.Errorf("commit failed: %v", err)
		o.metrics.rerunsFailed.Inc()
		o.state.rq.drain()
		o.clearDiscovered()
		return false
	}

	live := o.meta.get()

	for id, info := range live.Discovered {
		if _, ok := newMeta.Optimized[id]; ok {
			continue
		}
		if _, ok := newMeta.Discovered[id]; ok {
			continue
		}
		carried := info.clone()
		carried.Kind = KindDiscovered
		carried.Processing = o.state.barrier
		newMeta.Discovered[id] = carried
	}

	if !needsReload {
		newMeta.BrowserHash = live.BrowserHash
		for _, info := range newMeta.Optimized {
			info.BrowserHash = live.BrowserHash
		}
		for _, info := range newMeta.Discovered {
			info.BrowserHash = live.BrowserHash
		}
	}

	for id, oldInfo := range live.Discovered {
		newInfo, ok := newMeta.Optimized[id]
		if !ok {
			continue
		}
		oldInfo.BrowserHash = newInfo.BrowserHash
		oldInfo.FileHash = newInfo.FileHash
		oldInfo.NeedsInterop = newInfo.NeedsInterop
		oldInfo.Processing = nil
	}

	o.meta.replace(newMeta)
	o.idx.rebuild(newMeta)
	o.state.rq.drain()
	o.metrics.rerunsCommitted.Inc()
	return true
}

// clearDiscovered drops every discovered entry from the live snapshot
// after a failed rerun, so those ids are registered afresh the next time
// the host reports them. Optimized and Chunks are kept as they were.
func (o *Optimizer) clearDiscovered() {
	cur := o.meta.get()
	o.meta.replace(&Metadata{
		Hash:        cur.Hash,
		BrowserHash: cur.BrowserHash,
		Optimized:   cur.Optimized,
		Chunks:      cur.Chunks,
		Discovered:  make(map[string]*OptimizedDepInfo),
	})
}

// finishRerunCycle clears the in-flight marker and, if a rerun was
// enqueued while this one ran, starts it immediately.
func (o *Optimizer) finishRerunCycle() {
	o.state.currentlyProcessing = false
	if o.state.enqueuedRerun {
		o.state.enqueuedRerun = false
		o.startRerun()
	}
}

// interopMismatches returns, in a deterministic order, the ids present in
// both oldDiscovered and newOptimized whose NeedsInterop flag disagrees
// (spec.md 4.6 step 6).
func interopMismatches(oldDiscovered, newOptimized map[string]*OptimizedDepInfo) []string {
	var out []string
	for id, oldInfo := range oldDiscovered {
		newInfo, ok := newOptimized[id]
		if !ok {
			continue
		}
		if oldInfo.NeedsInterop != newInfo.NeedsInterop {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// fileHashesChanged reports whether any id common to both maps has a
// different FileHash, which alone forces a reload even with no interop
// mismatch (spec.md 4.6 step 6).
func fileHashesChanged(oldOptimized, newOptimized map[string]*OptimizedDepInfo) bool {
	for id, oldInfo := range oldOptimized {
		newInfo, ok := newOptimized[id]
		if !ok {
			continue
		}
		if oldInfo.FileHash != newInfo.FileHash {
			return true
		}
	}
	return false
}

func (o *Optimizer) logNewDepsSummary(oldMeta, newMeta *Metadata) {
	var ids []string
	for id := range newMeta.Optimized {
		if _, ok := oldMeta.Optimized[id]; !ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	o.log.Infof("new dependencies pre-bundled: %v", ids)
}
