// Package depcache persists a control loop's committed Metadata snapshot
// to disk and garbage-collects stale files in the cache directory. The
// file/URL membership index is not here: it is an in-memory index inside
// package depopt (depopt/index.go).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package depcache

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/aistore-labs/depopt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const metaFileName = "_depopt_metadata.json"

// snapshotFile is the on-disk encoding of a depopt.Metadata: only the
// Optimized and Chunks sub-maps, never Discovered. Entries there always
// carry a nil Processing barrier by invariant, so they marshal safely;
// Discovered entries would not, and are in-flight state anyway that a
// fresh process should rediscover rather than resume.
type snapshotFile struct {
	Hash        string                              `json:"hash"`
	BrowserHash string                              `json:"browser_hash"`
	Optimized   map[string]*depopt.OptimizedDepInfo `json:"optimized"`
	Chunks      map[string]*depopt.OptimizedDepInfo `json:"chunks"`
}

// Save persists meta under dir, atomically via a temp-file-then-rename
// (grounded on the teacher's cmn/jsp.Save), so a crash mid-write never
// leaves a corrupt cache file for the next Load to trip over.
func Save(dir string, meta *depopt.Metadata) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "depcache: create cache dir")
	}

	sf := &snapshotFile{
		Hash:        meta.Hash,
		BrowserHash: meta.BrowserHash,
		Optimized:   meta.Optimized,
		Chunks:      meta.Chunks,
	}

	dst := filepath.Join(dir, metaFileName)
	tmp := dst + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)

	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "depcache: create temp file")
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(sf); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "depcache: encode metadata")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "depcache: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "depcache: close temp file")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "depcache: rename into place")
	}
	return nil
}

// Load reads a previously Saved snapshot, returning (nil, nil) if none
// exists yet -- a fresh cache directory is not an error.
func Load(dir string) (*depopt.Metadata, error) {
	src := filepath.Join(dir, metaFileName)
	f, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "depcache: open cache file")
	}
	defer f.Close()

	var sf snapshotFile
	if err := json.NewDecoder(f).Decode(&sf); err != nil {
		return nil, errors.Wrap(err, "depcache: decode cache file")
	}

	if sf.Optimized == nil {
		sf.Optimized = make(map[string]*depopt.OptimizedDepInfo)
	}
	if sf.Chunks == nil {
		sf.Chunks = make(map[string]*depopt.OptimizedDepInfo)
	}
	return &depopt.Metadata{
		Hash:        sf.Hash,
		BrowserHash: sf.BrowserHash,
		Optimized:   sf.Optimized,
		Chunks:      sf.Chunks,
		Discovered:  make(map[string]*depopt.OptimizedDepInfo),
	}, nil
}
