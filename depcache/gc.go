package depcache

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/aistore-labs/depopt"
)

// GC removes bundled chunk files under dir that no longer belong to any
// entry in meta's Optimized or Chunks sub-maps, plus any stray ".tmp."
// files left behind by an interrupted Save. Intended to run on a spaced
// interval (spec.md's "reference daemon" owns the schedule), not inline
// on the commit path.
func GC(dir string, meta *depopt.Metadata) error {
	live := make(map[string]struct{}, len(meta.Optimized)+len(meta.Chunks))
	for _, info := range meta.Optimized {
		live[filepath.Clean(info.File)] = struct{}{}
	}
	for _, info := range meta.Chunks {
		live[filepath.Clean(info.File)] = struct{}{}
	}

	var toRemove []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Base(path) == metaFileName {
				return nil
			}
			clean := filepath.Clean(path)
			if _, ok := live[clean]; ok {
				return nil
			}
			toRemove = append(toRemove, path)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if os.IsNotExist(err) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "depcache: walk cache dir")
	}

	for _, path := range toRemove {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "depcache: remove stale file %s", path)
		}
	}
	return nil
}
