package depopt

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/aistore-labs/depopt/hkreg"
)

// loopState is every piece of mutable control-loop state. It is touched
// exclusively from inside Optimizer.loop -- no field here is ever read or
// written from another goroutine, so none of it needs synchronization of
// its own. This mirrors the teacher's xaction manager (ec/manager.go),
// which keeps all of its bookkeeping behind a single dispatch goroutine
// rather than a lock taken by arbitrary callers.
type loopState struct {
	barrier             *barrier
	rq                  resolveQueue
	currentlyProcessing bool
	enqueuedRerun       bool
	newDepsDiscovered   bool
	scanInFlight        bool
	firstRunTriggered   bool

	idle *idleTracker

	order     []string
	orderSeen map[string]struct{}

	sessionToken string
}

// Optimizer is the dependency pre-bundling control loop: it owns the
// current Metadata snapshot, tracks in-flight discovery, and serializes
// every state transition through a single run-loop goroutine reached only
// through the public methods below (spec.md 1, 5).
type Optimizer struct {
	cfg     *Config
	bundler Bundler
	scanner Scanner
	hooks   ServerHooks
	exports ExportsExtractor
	log     logrus.FieldLogger
	metrics *metrics

	meta  *metaOwner
	sched *hkreg.Scheduler
	idx   *index

	// ssrMeta is the SSR variant's side slot (spec.md 4.7): populated once,
	// synchronously, at New() if cfg.SSR is set, and never touched by the
	// control loop afterward.
	ssrMeta *Metadata

	cachedSnapshot *Metadata
	manualIncludes map[string]string

	state loopState

	cmdCh  chan func()
	doneCh chan struct{}
	closed atomic.Bool
	stopWG sync.WaitGroup
}

// Option configures an Optimizer at construction time.
type Option func(*Optimizer)

func WithScanner(s Scanner) Option { return func(o *Optimizer) { o.scanner = s } }
func WithServerHooks(h ServerHooks) Option { return func(o *Optimizer) { o.hooks = h } }
func WithExportsExtractor(e ExportsExtractor) Option { return func(o *Optimizer) { o.exports = e } }
func WithLogger(l logrus.FieldLogger) Option { return func(o *Optimizer) { o.log = l } }
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *Optimizer) { o.metrics = newMetrics(r) }
}

// WithCachedSnapshot seeds the optimizer from a previously persisted
// Metadata (depcache.Load). If snapshot.Hash matches cfg.Hash, this is
// the spec.md 8 "cold start, cache hit" scenario: the first run is
// considered already satisfied and no bundler call happens until new
// deps are registered.
func WithCachedSnapshot(snapshot *Metadata) Option {
	return func(o *Optimizer) { o.cachedSnapshot = snapshot }
}

// WithManualIncludes seeds the discovered set with a caller-specified
// id -> resolved source path map, used for optimizeDeps.include-style
// configuration and required for every id an SSR request serves.
func WithManualIncludes(includes map[string]string) Option {
	return func(o *Optimizer) { o.manualIncludes = includes }
}

// New constructs and starts an Optimizer. cfg must already be validated.
func New(cfg *Config, bundler Bundler, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:     cfg,
		bundler: bundler,
		hooks:   noopHooks{},
		exports: noopExtractor{},
		log:     logrus.StandardLogger(),
		metrics: newMetrics(nil),
		sched:   hkreg.New(),
		idx:     newIndex(),
		cmdCh:   make(chan func()),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.state.barrier = newBarrier()
	o.state.idle = newIdleTracker()
	o.state.orderSeen = make(map[string]struct{})
	if token, err := shortid.Generate(); err == nil {
		o.state.sessionToken = token
	} else {
		o.state.sessionToken = strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	var meta *Metadata
	if o.cachedSnapshot != nil && o.cachedSnapshot.Hash == cfg.Hash {
		meta = o.cachedSnapshot
		o.state.firstRunTriggered = true
		for id := range meta.Optimized {
			o.state.orderSeen[id] = struct{}{}
			o.state.order = append(o.state.order, id)
		}
		for id := range meta.Discovered {
			o.state.orderSeen[id] = struct{}{}
			o.state.order = append(o.state.order, id)
		}
	} else {
		meta = newEmptyMetadata(cfg.Hash, computeBrowserHash(cfg.Hash, nil, nil, o.state.sessionToken))
		for id, src := range o.manualIncludes {
			info := &OptimizedDepInfo{
				ID:           id,
				Src:          src,
				File:         o.deterministicPath(id),
				BrowserHash:  meta.BrowserHash,
				NeedsInterop: TriUnknown,
				ExportsData:  o.exports.Extract(src),
				Processing:   o.state.barrier,
				Kind:         KindDiscovered,
			}
			meta.Discovered[id] = info
			o.state.orderSeen[id] = struct{}{}
			o.state.order = append(o.state.order, id)
		}
	}
	o.meta = newMetaOwner(meta)
	o.idx.rebuild(meta)

	if cfg.SSR {
		o.bootstrapSSR()
	}

	o.stopWG.Add(1)
	go o.loop()

	if o.scanner != nil {
		o.runScan()
	}

	return o
}

func (o *Optimizer) loop() {
	defer o.stopWG.Done()
	for {
		select {
		case fn := <-o.cmdCh:
			fn()
		case <-o.doneCh:
			return
		}
	}
}

// submit queues fn to run on the loop goroutine, or drops it silently if
// the optimizer has already closed.
func (o *Optimizer) submit(fn func()) {
	select {
	case o.cmdCh <- fn:
	case <-o.doneCh:
	}
}

// Metadata implements spec.md 6's metadata({ssr}) query. With ssr=false
// it returns the current committed control-loop snapshot; with ssr=true
// it returns the side slot populated once at New() (spec.md 4.7), which
// may be nil if cfg.SSR was false. Safe for concurrent use from any
// goroutine; never blocks on the control loop.
func (o *Optimizer) Metadata(ssr bool) *Metadata {
	if ssr {
		return o.ssrMeta
	}
	return o.meta.get()
}

// RegisterMissingImport implements spec.md 4.3: register_missing_import.
func (o *Optimizer) RegisterMissingImport(ctx context.Context, id, src string) (*OptimizedDepInfo, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	reply := make(chan *OptimizedDepInfo, 1)
	o.submit(func() { reply <- o.registerMissingImport(id, src) })
	select {
	case info := <-reply:
		return info, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run forces an immediate scheduler tick, the public run() operation
// (spec.md 2). It marks the first run as triggered so that later
// register_missing_import calls are free to arm the debounce timer on
// their own.
func (o *Optimizer) Run() {
	if o.closed.Load() {
		return
	}
	o.submit(o.triggerRun)
}

func (o *Optimizer) triggerRun() {
	o.state.firstRunTriggered = true
	o.armDebounce0()
}

func (o *Optimizer) armDebounce() {
	o.sched.Debounce(o.cfg.DebounceTimeout, func() { o.submit(o.onDebounceFired) })
}

func (o *Optimizer) armDebounce0() {
	o.sched.Debounce(0, func() { o.submit(o.onDebounceFired) })
}

// EnsureFirstRun arms a one-shot fallback: if nothing has triggered the
// first run within cfg.FirstRunFallback, force one (spec.md 4.5's
// fallback for a cold start with no worker-source registrations).
func (o *Optimizer) EnsureFirstRun() {
	if o.closed.Load() {
		return
	}
	time.AfterFunc(o.cfg.FirstRunFallback, func() {
		o.submit(func() {
			if !o.state.firstRunTriggered {
				o.triggerRun()
			}
		})
	})
}

// DelayUntil registers id as a worker source the idle tracker should
// wait on before considering the control loop idle (spec.md 4.5).
func (o *Optimizer) DelayUntil(id string, done <-chan struct{}) {
	if o.closed.Load() {
		return
	}
	o.submit(func() { o.delayUntil(id, done) })
}

func (o *Optimizer) delayUntil(id string, done <-chan struct{}) {
	meta := o.meta.get()
	if _, ok := meta.Optimized[id]; ok {
		return
	}
	if !o.state.idle.push(id, done) {
		return
	}
	if w, ok := o.state.idle.popNext(); ok {
		o.waitOnIdle(w)
	}
}

func (o *Optimizer) waitOnIdle(w pendingWait) {
	go func() {
		<-w.done
		o.submit(o.onIdleWaitDone)
	}()
}

func (o *Optimizer) onIdleWaitDone() {
	o.state.idle.waitDone()
	grace := o.cfg.IdleGraceIdle
	if !o.state.idle.isEmpty() {
		grace = DefaultIdleGraceBusy
	}
	time.AfterFunc(grace, func() { o.submit(o.afterIdleGrace) })
}

func (o *Optimizer) afterIdleGrace() {
	if w, ok := o.state.idle.popNext(); ok {
		o.waitOnIdle(w)
		return
	}
	if !o.state.firstRunTriggered {
		o.triggerRun()
	}
}

// RegisterWorkersSource removes id from the idle tracker's pending stack
// (spec.md 4.5: register_workers_source).
func (o *Optimizer) RegisterWorkersSource(id string) {
	if o.closed.Load() {
		return
	}
	o.submit(func() { o.state.idle.removeWorkersSource(id) })
}

// ResetRegisteredIDs clears the idle tracker entirely, used after a full
// reload when the host wants to re-track a fresh set of worker sources.
func (o *Optimizer) ResetRegisteredIDs() {
	if o.closed.Load() {
		return
	}
	o.submit(func() { o.state.idle.reset() })
}

// IsOptimizedDepFile reports whether path matches a currently optimized
// dependency's deterministic output path.
func (o *Optimizer) IsOptimizedDepFile(path string) bool {
	return o.idx.isFile(path)
}

// IsOptimizedDepURL reports whether url encodes a currently optimized
// dependency's browser_hash, the freshness check a dev server performs on
// every request for a pre-bundled chunk.
func (o *Optimizer) IsOptimizedDepURL(url string) bool {
	return o.idx.isURL(url)
}

// GetOptimizedDepID implements spec.md 6's get_optimized_dep_id(info): the
// URL string a dev server should serve info under -- the bare file path
// for a production build, or the path annotated with the current
// browser_hash (so the browser's module cache busts on every rerun) for
// dev (spec.md 6's operation table).
func (o *Optimizer) GetOptimizedDepID(info *OptimizedDepInfo) string {
	if o.cfg.Build {
		return info.File
	}
	return info.File + "?v=" + info.BrowserHash
}

// Close stops the run loop and the debounce scheduler. Safe to call more
// than once.
func (o *Optimizer) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.sched.Stop()
	close(o.doneCh)
	o.stopWG.Wait()
	o.idx.close()
}
