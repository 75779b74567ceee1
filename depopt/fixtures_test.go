package depopt_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aistore-labs/depopt"
)

var errBoom = errors.New("fixture bundler failure")

// fakeBundler is a test Bundler that hands each Run call's snapshot to a
// caller-supplied function, optionally blocking on a hang channel first
// so tests can exercise the mid-rerun-discovery race.
type fakeBundler struct {
	mu        sync.Mutex
	runs      int
	hang      chan struct{}
	lastOrder []string

	resultFn func(newDeps map[string]depopt.OptimizedDepInfo, order []string) (depopt.BundleResult, error)
}

func (b *fakeBundler) Run(_ context.Context, _ *depopt.Config, newDeps map[string]depopt.OptimizedDepInfo, order []string) (depopt.BundleResult, error) {
	b.mu.Lock()
	b.runs++
	b.lastOrder = append([]string(nil), order...)
	hang := b.hang
	fn := b.resultFn
	b.mu.Unlock()

	if hang != nil {
		<-hang
	}
	return fn(newDeps, order)
}

func (b *fakeBundler) runCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

func (b *fakeBundler) orderOfLastRun() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lastOrder...)
}

// fakeResult is a test BundleResult tracking whether Commit/Cancel fired.
type fakeResult struct {
	meta      *depopt.Metadata
	commitErr error

	committed atomic.Bool
	canceled  atomic.Bool
}

func (r *fakeResult) Metadata() *depopt.Metadata { return r.meta }

func (r *fakeResult) Commit() error {
	r.committed.Store(true)
	return r.commitErr
}

func (r *fakeResult) Cancel() error {
	r.canceled.Store(true)
	return nil
}

// fakeHooks records InvalidateAll/FullReload calls.
type fakeHooks struct {
	invalidated atomic.Int32
	reloaded    atomic.Int32
}

func (h *fakeHooks) InvalidateAll()            { h.invalidated.Add(1) }
func (h *fakeHooks) FullReload(context.Context) { h.reloaded.Add(1) }

// fakeScanner returns a fixed result (or error) from Discover.
type fakeScanner struct {
	found map[string]*depopt.OptimizedDepInfo
	err   error
	ran   atomic.Bool
}

func (s *fakeScanner) Discover(context.Context, *depopt.Config, string) (map[string]*depopt.OptimizedDepInfo, error) {
	s.ran.Store(true)
	return s.found, s.err
}

func newTestConfig(hash string) *depopt.Config {
	cfg := &depopt.Config{Hash: hash, CacheDir: "/tmp/depopt-test"}
	_ = cfg.Validate()
	return cfg
}

// makeIdentityResultFn builds a resultFn that echoes back newDeps as
// Optimized under the given config hash, computing a deterministic
// FileHash per id so successive identical reruns are recognized as
// no-reload-needed.
func makeIdentityResultFn(hash string) func(map[string]depopt.OptimizedDepInfo, []string) (depopt.BundleResult, error) {
	return func(newDeps map[string]depopt.OptimizedDepInfo, _ []string) (depopt.BundleResult, error) {
		meta := &depopt.Metadata{
			Hash:       hash,
			Optimized:  make(map[string]*depopt.OptimizedDepInfo),
			Chunks:     make(map[string]*depopt.OptimizedDepInfo),
			Discovered: make(map[string]*depopt.OptimizedDepInfo),
		}
		for id, info := range newDeps {
			cp := info
			cp.Kind = depopt.KindOptimized
			cp.FileHash = "filehash-" + id
			meta.Optimized[id] = &cp
		}
		return &fakeResult{meta: meta}, nil
	}
}
