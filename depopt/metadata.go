package depopt

import (
	"sync"
	"sync/atomic"
)

// metaOwner holds the current committed Metadata snapshot behind an
// atomic pointer, with a mutex serializing writers. Modeled directly on
// the teacher's rmdOwner (ais/rebmeta.go): a clone-modify-persist-swap
// discipline for an "owned value behind a single mutable slot" (spec.md
// 9, design note "Snapshot replacement").
//
// Readers call get() for a lock-free, always-consistent snapshot. Add
// performs a copy-on-write insertion into the relevant sub-map so that a
// concurrent get() never observes a partially-populated map. Replace
// swaps the whole snapshot, used only by the rerun executor's commit
// path.
type metaOwner struct {
	mu  sync.Mutex
	ptr atomic.Pointer[Metadata]
}

func newMetaOwner(initial *Metadata) *metaOwner {
	o := &metaOwner{}
	o.ptr.Store(initial)
	return o
}

// get returns the current snapshot. Safe for concurrent use without
// locking.
func (o *metaOwner) get() *Metadata {
	return o.ptr.Load()
}

// add inserts info into the sub-map identified by kind, rejecting the
// insertion if id already exists in a *different* sub-map (invariant 1).
// The publish is copy-on-write: existing readers holding the prior
// snapshot are unaffected, and new readers atomically see either the
// whole insertion or none of it.
func (o *metaOwner) add(kind Kind, info *OptimizedDepInfo) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cur := o.get()
	if id2kind(cur, info.ID) != -1 && id2kind(cur, info.ID) != kind {
		return ErrDuplicateID
	}

	next := &Metadata{
		Hash:        cur.Hash,
		BrowserHash: cur.BrowserHash,
		Optimized:   cur.Optimized,
		Chunks:      cur.Chunks,
		Discovered:  cur.Discovered,
	}
	switch kind {
	case KindOptimized:
		next.Optimized = cloneMapWith(cur.Optimized, info.ID, info)
	case KindChunk:
		next.Chunks = cloneMapWith(cur.Chunks, info.ID, info)
	case KindDiscovered:
		next.Discovered = cloneMapWith(cur.Discovered, info.ID, info)
	}
	o.ptr.Store(next)
	return nil
}

// replace atomically swaps the entire snapshot -- the rerun executor's
// commit-or-discard decision point (spec.md 4.1).
func (o *metaOwner) replace(next *Metadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ptr.Store(next)
}

// id2kind reports which sub-map id belongs to, or -1 if none.
func id2kind(m *Metadata, id string) Kind {
	if _, ok := m.Optimized[id]; ok {
		return KindOptimized
	}
	if _, ok := m.Chunks[id]; ok {
		return KindChunk
	}
	if _, ok := m.Discovered[id]; ok {
		return KindDiscovered
	}
	return -1
}

func cloneMapWith(m map[string]*OptimizedDepInfo, id string, info *OptimizedDepInfo) map[string]*OptimizedDepInfo {
	next := make(map[string]*OptimizedDepInfo, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	next[id] = info
	return next
}
