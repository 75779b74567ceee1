package depopt_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aistore-labs/depopt"
)

var _ = Describe("Optimizer", func() {
	var (
		cfg     *depopt.Config
		bundler *fakeBundler
		hooks   *fakeHooks
		opt     *depopt.Optimizer
	)

	BeforeEach(func() {
		cfg = newTestConfig("cfg-hash-1")
		bundler = &fakeBundler{resultFn: makeIdentityResultFn(cfg.Hash)}
		hooks = &fakeHooks{}
	})

	AfterEach(func() {
		if opt != nil {
			opt.Close()
		}
	})

	Describe("cold start with manual includes", func() {
		It("bundles the seeded dependency once Run is called", func() {
			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks), depopt.WithManualIncludes(map[string]string{
				"lodash": "/node_modules/lodash/lodash.js",
			}))

			opt.Run()

			Eventually(func() int {
				return len(opt.Metadata(false).Optimized)
			}, time.Second, 5*time.Millisecond).Should(Equal(1))

			meta := opt.Metadata(false)
			Expect(meta.Optimized).To(HaveKey("lodash"))
			Expect(meta.Discovered).To(BeEmpty())
			Expect(bundler.runCount()).To(Equal(1))
		})
	})

	Describe("cold start cache hit", func() {
		It("treats the first run as already satisfied", func() {
			cached := &depopt.Metadata{
				Hash:       cfg.Hash,
				Optimized:  map[string]*depopt.OptimizedDepInfo{"lodash": {ID: "lodash", Kind: depopt.KindOptimized}},
				Chunks:     map[string]*depopt.OptimizedDepInfo{},
				Discovered: map[string]*depopt.OptimizedDepInfo{},
			}
			opt = depopt.New(cfg, bundler, depopt.WithCachedSnapshot(cached))

			Consistently(func() int { return bundler.runCount() }, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(0))
			Expect(opt.Metadata(false).Optimized).To(HaveKey("lodash"))
		})
	})

	Describe("register_missing_import", func() {
		It("returns the committed entry on a duplicate registration without re-bundling", func() {
			cfg.DebounceTimeout = 20 * time.Millisecond
			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks))
			opt.Run()

			ctx := context.Background()
			first, err := opt.RegisterMissingImport(ctx, "react", "/node_modules/react/index.js")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int { return bundler.runCount() }, time.Second, 5*time.Millisecond).Should(Equal(1))
			Eventually(func() bool {
				_, ok := opt.Metadata(false).Optimized["react"]
				return ok
			}, time.Second, 5*time.Millisecond).Should(BeTrue())

			// Once committed, the id resolves to the Optimized entry; the
			// first (discovered) entry has had the committed values copied
			// back onto it.
			second, err := opt.RegisterMissingImport(ctx, "react", "/node_modules/react/index.js")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(BeIdenticalTo(opt.Metadata(false).Optimized["react"]))
			Expect(first.FileHash).To(Equal(second.FileHash))
			Expect(bundler.runCount()).To(Equal(1))
		})

		It("triggers a rerun once the debounce window elapses", func() {
			cfg.DebounceTimeout = 20 * time.Millisecond
			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks))
			opt.Run() // empty discovered set: a no-op tick, just marks first-run triggered

			ctx := context.Background()
			_, err := opt.RegisterMissingImport(ctx, "react", "/node_modules/react/index.js")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool {
				_, ok := opt.Metadata(false).Optimized["react"]
				return ok
			}, time.Second, 5*time.Millisecond).Should(BeTrue())
			Expect(bundler.runCount()).To(Equal(1))
		})
	})

	Describe("burst discovery", func() {
		It("starts exactly one rerun with new_deps in registration order", func() {
			cfg.DebounceTimeout = 30 * time.Millisecond
			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks))
			opt.Run()

			ctx := context.Background()
			ids := []string{"a", "b", "c", "d", "e"}
			for _, id := range ids {
				_, err := opt.RegisterMissingImport(ctx, id, "/node_modules/"+id+"/index.js")
				Expect(err).NotTo(HaveOccurred())
			}

			Eventually(func() int { return bundler.runCount() }, time.Second, 5*time.Millisecond).Should(Equal(1))
			Expect(bundler.orderOfLastRun()).To(Equal(ids))
		})
	})

	Describe("mid-rerun discovery with reload", func() {
		It("discards the stale in-flight result and lets only the follow-up rerun broadcast a reload", func() {
			cfg.DebounceTimeout = 10 * time.Millisecond
			hang := make(chan struct{})
			bundler.hang = hang

			var calls int32
			bundler.resultFn = func(newDeps map[string]depopt.OptimizedDepInfo, _ []string) (depopt.BundleResult, error) {
				n := atomic.AddInt32(&calls, 1)
				meta := &depopt.Metadata{
					Hash:       fmt.Sprintf("%s-run%d", cfg.Hash, n),
					Optimized:  make(map[string]*depopt.OptimizedDepInfo),
					Chunks:     make(map[string]*depopt.OptimizedDepInfo),
					Discovered: make(map[string]*depopt.OptimizedDepInfo),
				}
				for id, info := range newDeps {
					cp := info
					cp.Kind = depopt.KindOptimized
					meta.Optimized[id] = &cp
				}
				return &fakeResult{meta: meta}, nil
			}

			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks))
			opt.Run()

			ctx := context.Background()
			_, err := opt.RegisterMissingImport(ctx, "a", "/node_modules/a/index.js")
			Expect(err).NotTo(HaveOccurred())

			// Wait for the rerun over {a} to actually enter Run and hang.
			Eventually(func() int { return bundler.runCount() }, time.Second, 5*time.Millisecond).Should(Equal(1))

			_, err = opt.RegisterMissingImport(ctx, "f", "/node_modules/f/index.js")
			Expect(err).NotTo(HaveOccurred())

			close(hang)

			Eventually(func() int { return bundler.runCount() }, time.Second, 5*time.Millisecond).Should(Equal(2))
			Eventually(func() int {
				return len(opt.Metadata(false).Optimized)
			}, time.Second, 5*time.Millisecond).Should(Equal(2))

			Expect(opt.Metadata(false).Optimized).To(HaveKey("a"))
			Expect(opt.Metadata(false).Optimized).To(HaveKey("f"))
			Expect(hooks.reloaded.Load()).To(Equal(int32(1)))
		})
	})

	Describe("interop mismatch", func() {
		It("forces a reload when the bundler resolves needs_interop differently than discovery", func() {
			cfg.DebounceTimeout = 10 * time.Millisecond
			bundler.resultFn = func(newDeps map[string]depopt.OptimizedDepInfo, _ []string) (depopt.BundleResult, error) {
				meta := &depopt.Metadata{
					Hash:       cfg.Hash,
					Optimized:  make(map[string]*depopt.OptimizedDepInfo),
					Chunks:     make(map[string]*depopt.OptimizedDepInfo),
					Discovered: make(map[string]*depopt.OptimizedDepInfo),
				}
				for id, info := range newDeps {
					cp := info
					cp.Kind = depopt.KindOptimized
					cp.FileHash = "filehash-" + id
					cp.NeedsInterop = depopt.TriTrue
					meta.Optimized[id] = &cp
				}
				return &fakeResult{meta: meta}, nil
			}

			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks))
			opt.Run()

			ctx := context.Background()
			_, err := opt.RegisterMissingImport(ctx, "cjs-thing", "/node_modules/cjs-thing/index.js")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int { return bundler.runCount() }, time.Second, 5*time.Millisecond).Should(Equal(1))
			Eventually(func() int32 { return hooks.reloaded.Load() }, time.Second, 5*time.Millisecond).Should(Equal(int32(1)))

			Expect(opt.Metadata(false).Optimized["cjs-thing"].NeedsInterop).To(Equal(depopt.TriTrue))
		})
	})

	Describe("bundler failure", func() {
		It("resolves waiters without wedging and does not commit", func() {
			bundler.resultFn = func(map[string]depopt.OptimizedDepInfo, []string) (depopt.BundleResult, error) {
				return nil, errBoom
			}
			opt = depopt.New(cfg, bundler, depopt.WithServerHooks(hooks), depopt.WithManualIncludes(map[string]string{
				"left-pad": "/node_modules/left-pad/index.js",
			}))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			info, err := opt.RegisterMissingImport(ctx, "left-pad", "/node_modules/left-pad/index.js")
			Expect(err).NotTo(HaveOccurred())

			opt.Run()

			waitErr := info.Processing.Wait(ctx)
			Expect(waitErr).NotTo(HaveOccurred())
			Expect(opt.Metadata(false).Optimized).To(BeEmpty())
		})
	})
})
