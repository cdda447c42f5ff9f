// Package registry caches method descriptors per (extension, signature,
// declaration hash).
//
// The first resolution of a key builds its descriptor exactly once, even
// when many goroutines race for it; later resolutions return the cached
// result. Distinct keys build independently. Build failures are cached too:
// declarations are immutable, so a rebuild would fail the same way.
//
// A Registry is an explicit value, normally owned by one database handle.
// Reset drops every cached entry.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/sqlext/internal/descriptor"
	"github.com/roach88/sqlext/internal/sqlerr"
)

// Key identifies a declared method. Hash is the method's content hash, so
// two declarations sharing a name and signature never share a descriptor.
type Key struct {
	Extension string
	Signature string
	Hash      string
}

// String returns Extension.Signature.
func (k Key) String() string {
	return k.Extension + "." + k.Signature
}

// BuildFunc constructs the descriptor for a key.
type BuildFunc func() (*descriptor.Descriptor, error)

type entry struct {
	once  sync.Once
	ready atomic.Bool
	desc  *descriptor.Descriptor
	err   error
}

// Registry is a concurrency-safe descriptor cache.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	builds  atomic.Int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

// Resolve returns the descriptor for key, running build on first use.
//
// Concurrent first resolutions of the same key run build once and all
// observe its result. A panicking build is reported as an error.
func (r *Registry) Resolve(key Key, build BuildFunc) (*descriptor.Descriptor, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		r.builds.Add(1)
		defer e.ready.Store(true)
		defer func() {
			if p := recover(); p != nil {
				e.desc, e.err = nil, sqlerr.Binding("build %s: panic: %v", key, p)
			}
		}()
		e.desc, e.err = build()
		if e.desc == nil && e.err == nil {
			e.err = sqlerr.Binding("build %s: no descriptor", key)
		}
	})
	return e.desc, e.err
}

// Lookup returns a successfully built descriptor without building. A build
// still in flight counts as absent.
func (r *Registry) Lookup(key Key) (*descriptor.Descriptor, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok || !e.ready.Load() {
		return nil, false
	}
	return e.desc, e.desc != nil
}

// Reset drops every cached descriptor. Resolutions in flight finish
// against the old entries.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()
}

// Builds returns the number of builds performed since creation.
func (r *Registry) Builds() int64 {
	return r.builds.Load()
}

// Keys returns the cached keys in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if a, b := keys[i].String(), keys[j].String(); a != b {
			return a < b
		}
		return keys[i].Hash < keys[j].Hash
	})
	return keys
}

// Len returns the number of cached keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
