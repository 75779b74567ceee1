package depopt_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aistore-labs/depopt"
)

var _ = Describe("SSR variant", func() {
	var (
		cfg     *depopt.Config
		bundler *fakeBundler
		opt     *depopt.Optimizer
	)

	BeforeEach(func() {
		cfg = newTestConfig("ssr-cfg-hash")
		cfg.SSR = true
		bundler = &fakeBundler{resultFn: makeIdentityResultFn(cfg.Hash)}
	})

	AfterEach(func() {
		if opt != nil {
			opt.Close()
		}
	})

	It("populates the SSR side slot once at New, independent of the control loop", func() {
		opt = depopt.New(cfg, bundler, depopt.WithManualIncludes(map[string]string{
			"react-dom/server": "/node_modules/react-dom/server.js",
		}))

		Expect(bundler.runCount()).To(Equal(1))
		ssrMeta := opt.Metadata(true)
		Expect(ssrMeta).NotTo(BeNil())
		Expect(ssrMeta.Optimized).To(HaveKey("react-dom/server"))

		// The control loop's own snapshot is seeded independently by the
		// manual-include loop in New and is untouched by the SSR bootstrap
		// bundle: it still has to run its own rerun before anything moves
		// out of discovered.
		Expect(opt.Metadata(false).Discovered).To(HaveKey("react-dom/server"))
		Expect(opt.Metadata(false).Optimized).To(BeEmpty())
	})

	It("rejects an id that was not in the manual include list", func() {
		opt = depopt.New(cfg, bundler, depopt.WithManualIncludes(map[string]string{
			"react-dom/server": "/node_modules/react-dom/server.js",
		}))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := opt.RegisterMissingImportSSR(ctx, "left-pad")
		Expect(err).To(MatchError(depopt.ErrSSRNotIncluded))
	})

	It("returns nil for the SSR slot when SSR is disabled", func() {
		cfg.SSR = false
		opt = depopt.New(cfg, bundler)
		Expect(opt.Metadata(true)).To(BeNil())
		Expect(bundler.runCount()).To(Equal(0))
	})
})
