package depopt

import (
	"time"

	"github.com/pkg/errors"
)

// Default timeouts, all per spec.md 5.
const (
	DefaultDebounceTimeout   = 100 * time.Millisecond
	DefaultFirstRunFallback  = 100 * time.Millisecond
	DefaultIdleGraceBusy     = 0
	DefaultIdleGraceIdle     = 100 * time.Millisecond
	DefaultLogSummaryDelay   = 200 * time.Millisecond
)

// Config carries the identity and timing knobs the control loop needs.
// Loading Config from disk/flags/env is the host's job (spec.md 1 lists
// "configuration loading" as an out-of-scope collaborator); this struct
// is the shape the optimizer consumes, mirroring the teacher's pattern of
// a JSON-tagged struct with a Validate method (cmn/config.go).
type Config struct {
	// Hash identifies the configuration + lockfile identity. Invariant
	// across a session unless the host reloads config (spec.md 3).
	Hash string `json:"hash"`

	// SSR enables the server-side-rendering bundle variant (spec.md 4.7).
	SSR bool `json:"ssr"`

	// Build selects the URL shape get_optimized_dep_id returns: bare
	// `file` for a production build, `file?v=browser_hash` for dev
	// (spec.md 6).
	Build bool `json:"build"`

	// CacheDir is the on-disk directory the depcache package persists
	// bundle artifacts and the metadata snapshot under.
	CacheDir string `json:"cache_dir"`

	DebounceTimeout  time.Duration `json:"debounce_timeout"`
	FirstRunFallback time.Duration `json:"first_run_fallback"`
	IdleGraceBusy    time.Duration `json:"idle_grace_busy"`
	IdleGraceIdle    time.Duration `json:"idle_grace_idle"`
	LogSummaryDelay  time.Duration `json:"log_summary_delay"`
}

// Validate fills in defaults and rejects an unusable config, matching
// the teacher's cmn/config.go validate-then-use discipline.
func (c *Config) Validate() error {
	if c.Hash == "" {
		return errors.New("depopt: config hash must not be empty")
	}
	if c.CacheDir == "" {
		return errors.New("depopt: cache dir must not be empty")
	}
	if c.DebounceTimeout <= 0 {
		c.DebounceTimeout = DefaultDebounceTimeout
	}
	if c.FirstRunFallback <= 0 {
		c.FirstRunFallback = DefaultFirstRunFallback
	}
	if c.IdleGraceIdle <= 0 {
		c.IdleGraceIdle = DefaultIdleGraceIdle
	}
	if c.LogSummaryDelay <= 0 {
		c.LogSummaryDelay = DefaultLogSummaryDelay
	}
	return nil
}
