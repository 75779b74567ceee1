package depopt

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// index is an embedded, in-memory buntdb lookup table over the currently
// committed Metadata snapshot, rebuilt every time the control loop
// commits a rerun (commitProcessing). A host dev server's asset
// middleware calls IsOptimizedDepFile/IsOptimizedDepURL on every single
// incoming request, so this trades a bit of rebuild cost per rerun for
// O(log n) file-path lookups instead of a linear scan over every
// optimized id. URL checks (isURL) still walk every stored browser-hash
// key, since a URL is matched by substring. Modeled on the pack's tidwall/buntdb usage
// pattern; kept internal to depopt (rather than depcache, which imports
// depopt for the Metadata type) so building it doesn't need an import
// cycle.
type index struct {
	db *buntdb.DB
}

// newIndex opens a fresh in-memory index. depopt's own Metadata remains
// the source of truth; this is a derived, rebuildable cache, so
// ":memory:" is deliberate -- nothing here needs to survive a process
// restart on its own.
func newIndex() *index {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		// buntdb only fails to open ":memory:" on an allocation failure;
		// there is no degraded mode to fall back to.
		panic(errors.Wrap(err, "depopt: open in-memory index"))
	}
	return &index{db: db}
}

func fileKey(path string) string        { return "file:" + path }
func browserHashKey(hash string) string { return "bhash:" + hash }

// rebuild replaces the index contents with everything in meta's
// Optimized and Chunks sub-maps (spec.md 6: is_optimized_dep_file/
// is_optimized_dep_url only ever answer for committed, non-discovered
// entries).
func (x *index) rebuild(meta *Metadata) {
	_ = x.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.DeleteAll(); err != nil {
			return err
		}
		for _, sub := range []map[string]*OptimizedDepInfo{meta.Optimized, meta.Chunks} {
			for id, info := range sub {
				if _, _, err := tx.Set(fileKey(info.File), id, nil); err != nil {
					return err
				}
				if info.BrowserHash != "" {
					if _, _, err := tx.Set(browserHashKey(info.BrowserHash), id, nil); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// isFile reports whether path is a currently optimized dependency's
// output path.
func (x *index) isFile(path string) bool {
	var found bool
	_ = x.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(fileKey(path))
		found = err == nil
		return nil
	})
	return found
}

// isURL reports whether url encodes any currently optimized dependency's
// browser_hash.
func (x *index) isURL(url string) bool {
	var found bool
	_ = x.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("bhash:*", func(key, _ string) bool {
			hash := strings.TrimPrefix(key, "bhash:")
			if hash != "" && strings.Contains(url, hash) {
				found = true
				return false
			}
			return true
		})
	})
	return found
}

// idForFile returns the dependency id that owns path, if any.
func (x *index) idForFile(path string) (string, bool) {
	var id string
	var found bool
	_ = x.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(fileKey(path))
		if err == nil {
			id, found = v, true
		}
		return nil
	})
	return id, found
}

func (x *index) close() { _ = x.db.Close() }
