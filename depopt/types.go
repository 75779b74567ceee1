// Package depopt implements the dependency pre-bundling optimizer: the
// control loop and cache/metadata lifecycle that keep a dev server's set
// of pre-bundled third-party dependencies consistent and cache-coherent
// over the life of a session.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package depopt

import "time"

// Kind identifies which sub-map of a DepOptimizationMetadata an
// OptimizedDepInfo currently lives in.
type Kind int

const (
	KindOptimized Kind = iota
	KindDiscovered
	KindChunk
)

func (k Kind) String() string {
	switch k {
	case KindOptimized:
		return "optimized"
	case KindDiscovered:
		return "discovered"
	case KindChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Tribool is a three-value unknown/false/true flag, used in place of a
// nullable bool so the zero value ("unknown") is meaningful and no nil
// pointer needs to be threaded through for interop detection.
type Tribool int

const (
	TriUnknown Tribool = iota
	TriFalse
	TriTrue
)

func TriFromBool(b bool) Tribool {
	if b {
		return TriTrue
	}
	return TriFalse
}

func (t Tribool) String() string {
	switch t {
	case TriFalse:
		return "false"
	case TriTrue:
		return "true"
	default:
		return "unknown"
	}
}

// OptimizedDepInfo is one record per dependency. Entries of Kind
// KindDiscovered carry a non-nil Processing barrier; entries of any other
// kind must not. Mutable fields (BrowserHash, FileHash, NeedsInterop) of a
// discovered entry are only safe to read, from outside the control loop,
// after Processing has fired -- see barrier.go.
type OptimizedDepInfo struct {
	ID   string // bare import specifier
	Src  string // resolved absolute source path
	File string // deterministic output path inside the cache directory

	BrowserHash  string
	FileHash     string
	NeedsInterop Tribool

	// ExportsData is a lazily extracted summary of the dependency's
	// exports, opaque to the optimizer and consumed only by the host
	// server.
	ExportsData interface{}

	// Processing resolves once this entry has been bundled and
	// committed. Nil once the entry has moved out of the discovered
	// sub-map.
	Processing *barrier

	Kind Kind
}

// clone returns a value copy of info with Processing stripped, matching
// spec.md 4.6 step 3: rerun snapshots of discovered entries carry no
// barrier, since the snapshot is private to the executor.
func (info *OptimizedDepInfo) clone() *OptimizedDepInfo {
	if info == nil {
		return nil
	}
	cp := *info
	cp.Processing = nil
	return &cp
}

// Metadata is the DepOptimizationMetadata snapshot: hash of config+lockfile
// identity, a browser-facing hash of the current dep set, and the three
// pairwise-disjoint sub-maps of OptimizedDepInfo.
//
// A *Metadata value, once published through metaOwner, is treated as
// immutable by readers: the Discovered/Optimized/Chunks map *references*
// never change after publication, but the OptimizedDepInfo values pointed
// to within Discovered may still be mutated in place by commitProcessing
// (see rerun.go) -- that mutation is the one spec-mandated exception to
// immutability, and it is only observable, per contract, after the
// entry's Processing barrier has fired.
type Metadata struct {
	Hash        string
	BrowserHash string

	Optimized  map[string]*OptimizedDepInfo
	Chunks     map[string]*OptimizedDepInfo
	Discovered map[string]*OptimizedDepInfo
}

// newEmptyMetadata returns a fresh, empty snapshot seeded with the given
// config hash.
func newEmptyMetadata(hash, browserHash string) *Metadata {
	return &Metadata{
		Hash:        hash,
		BrowserHash: browserHash,
		Optimized:   make(map[string]*OptimizedDepInfo),
		Chunks:      make(map[string]*OptimizedDepInfo),
		Discovered:  make(map[string]*OptimizedDepInfo),
	}
}

// idsOf returns the ids of a sub-map in map iteration order, i.e. unsorted;
// computeBrowserHash sorts them before hash seeding (spec.md 4.3 step 3:
// browser_hash serializes optimized_ids and discovered_ids).
func idsOf(m map[string]*OptimizedDepInfo) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// BundleResult is returned by a Bundler invocation: a candidate metadata
// snapshot plus the mutually-exclusive, idempotent Commit/Cancel handle.
type BundleResult interface {
	Metadata() *Metadata
	Commit() error
	Cancel() error
}

// sessionClock abstracts time.Now behind an interface, and realClock
// implements it with time.Now. No code in this module takes a
// sessionClock; the session token in New is generated directly.
type sessionClock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
