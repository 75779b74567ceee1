package depopt

import (
	"context"

	"github.com/pkg/errors"
)

// runScan kicks off the optional upfront Scanner pass (spec.md 2, 7).
// Discovered entries are merged into the metadata store as they complete
// scanning; a scan failure resolves the in-flight barrier so waiters
// unblock and skips the automatic first rerun, matching spec.md 7's
// "the next register_missing_import will arm the scheduler normally."
func (o *Optimizer) runScan() {
	o.submit(func() { o.state.scanInFlight = true })

	go func() {
		ctx := context.Background()
		var found map[string]*OptimizedDepInfo
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					found, err = nil, errors.Errorf("scanner panic: %v", r)
				}
			}()
			found, err = o.scanner.Discover(ctx, o.cfg, o.state.sessionToken)
		}()
		o.submit(func() { o.onScanDone(found, err) })
	}()
}

func (o *Optimizer) onScanDone(found map[string]*OptimizedDepInfo, err error) {
	o.state.scanInFlight = false

	if err != nil {
		o.log.Errorf("dependency scan failed: %v", wrapScanErr(err))
		o.state.barrier.resolve()
		o.state.barrier = newBarrier()
		return
	}

	for id, info := range found {
		if id2kind(o.meta.get(), id) != -1 {
			continue
		}
		cp := *info
		cp.Kind = KindDiscovered
		cp.Processing = o.state.barrier
		if cp.ExportsData == nil {
			cp.ExportsData = o.exports.Extract(cp.Src)
		}
		_ = o.meta.add(KindDiscovered, &cp)
		o.recordOrder(id)
	}

	if len(found) > 0 {
		o.state.newDepsDiscovered = true
	}
	o.triggerRun()
}
