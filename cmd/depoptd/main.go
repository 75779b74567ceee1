// Command depoptd is a reference host for the depopt control loop: a
// minimal dev-server stand-in that wires a filesystem-copy Bundler, an
// HTTP surface for register_missing_import/metadata polling, a lockfile
// watch that resets the optimizer's registered worker-source ids when the
// lockfile changes (it does not invalidate the cache or recompute the
// config hash, which is fixed at startup), and periodic cache-directory GC.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aistore-labs/depopt"
	"github.com/aistore-labs/depopt/depcache"
)

type cliFlags struct {
	addr      string
	cacheDir  string
	lockfile  string
	gcPeriod  time.Duration
	logLevel  string
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.addr, "addr", ":7654", "HTTP listen address")
	flag.StringVar(&f.cacheDir, "cache-dir", "./.depopt-cache", "on-disk cache directory")
	flag.StringVar(&f.lockfile, "lockfile", "", "path to a lockfile to watch for dependency changes (optional)")
	flag.DurationVar(&f.gcPeriod, "gc-period", 10*time.Minute, "cache directory GC interval")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()
	return f
}

func main() {
	cli := parseFlags()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cli.logLevel); err == nil {
		log.SetLevel(lvl)
	}

	hash, err := configIdentityHash(cli)
	if err != nil {
		log.Fatalf("depoptd: computing config identity: %v", err)
	}

	cfg := &depopt.Config{Hash: hash, CacheDir: cli.cacheDir}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("depoptd: invalid config: %v", err)
	}

	cached, err := depcache.Load(cli.cacheDir)
	if err != nil {
		log.Warnf("depoptd: could not load cache, starting cold: %v", err)
	}

	hooks := &logOnlyHooks{log: log}
	opts := []depopt.Option{
		depopt.WithServerHooks(hooks),
		depopt.WithLogger(log),
		depopt.WithMetricsRegisterer(prometheus.DefaultRegisterer),
	}
	if cached != nil {
		opts = append(opts, depopt.WithCachedSnapshot(cached))
	}

	opt := depopt.New(cfg, fsBundler{}, opts...)
	opt.EnsureFirstRun()

	srv := newHTTPServer(cli.addr, opt, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group

	g.Go(func() error { return srv.Run() })

	g.Go(func() error { return runGC(ctx, cli.cacheDir, cli.gcPeriod, opt, log) })

	if cli.lockfile != "" {
		g.Go(func() error { return watchLockfile(ctx, cli.lockfile, opt, log) })
	}

	<-ctx.Done()
	log.Info("depoptd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("depoptd: http shutdown: %v", err)
	}
	if err := depcache.Save(cli.cacheDir, opt.Metadata(false)); err != nil {
		log.Warnf("depoptd: saving cache on shutdown: %v", err)
	}
	opt.Close()

	if err := g.Wait(); err != nil {
		log.Warnf("depoptd: a background task exited with error: %v", err)
	}
}

func runGC(ctx context.Context, dir string, period time.Duration, opt *depopt.Optimizer, log logrus.FieldLogger) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := depcache.GC(dir, opt.Metadata(false)); err != nil {
				log.Warnf("depoptd: cache gc: %v", err)
			}
		}
	}
}

// watchLockfile invalidates worker-source registrations when the
// dependency lockfile changes on disk, the signal a real dev server uses
// to decide its on-disk identity has gone stale.
func watchLockfile(ctx context.Context, path string, opt *depopt.Optimizer, log logrus.FieldLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Infof("depoptd: lockfile changed (%s), resetting registered worker sources", event.Name)
				opt.ResetRegisteredIDs()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("depoptd: lockfile watch error: %v", err)
		}
	}
}

type logOnlyHooks struct {
	log logrus.FieldLogger
}

func (h *logOnlyHooks) InvalidateAll() {
	h.log.Info("depoptd: invalidating all module graph entries")
}

func (h *logOnlyHooks) FullReload(context.Context) {
	h.log.Info("depoptd: requesting full browser reload")
}

func configIdentityHash(cli *cliFlags) (string, error) {
	parts := []string{cli.cacheDir}
	if cli.lockfile != "" {
		contents, err := os.ReadFile(cli.lockfile)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("reading lockfile: %w", err)
		}
		parts = append(parts, string(contents))
	}
	return hashBytesHex([]byte(fmt.Sprintf("%v", parts))), nil
}
