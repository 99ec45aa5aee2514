package store

import (
	"context"
	"errors"
	"sync"

	"github.com/userkv/userkv/internal/singleflight"
	"github.com/userkv/userkv/internal/util"
)

// ErrEmptyKey is returned when a caller passes an empty key to a
// mutating operation. Empty keys are rejected at the engine boundary.
var ErrEmptyKey = errors.New("store: empty key")

// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
var ErrNoLoader = errors.New("store: no Loader provided")

// Engine couples the hash index and the LRU list under one mutex and
// owns every record. The two structures share record objects: while a
// key is resident, exactly one Record is linked into both. Only the
// engine releases records (Del, eviction, Clear); the index and the
// list merely link and unlink.
//
// All methods are safe for concurrent use by multiple goroutines.
// Operations observe a total order consistent with mutex acquisition.
type Engine struct {
	// ---- guarded by mu ----
	mu    sync.Mutex
	index *hashIndex
	lru   *lruList // nil when the LRU is disabled

	opt Options

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[string, User]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// Stats is a point-in-time snapshot of both structures.
type Stats struct {
	HashCapacity int
	HashSize     int
	LoadFactor   float64

	LRUEnabled  bool
	LRUCapacity int
	LRUSize     int

	Hits      int64
	Misses    int64
	Evictions uint64
}

// NewEngine constructs an engine from Options (see Options for the
// defaults applied).
func NewEngine(opt Options) *Engine {
	opt = (&opt).withDefaults()
	e := &Engine{
		index: newHashIndex(opt.HashCapacity),
		opt:   opt,
	}
	if opt.EnableLRU {
		e.lru = newLRUList(opt.LRUCapacity)
	}
	return e
}

// Set inserts or updates the record for key. With the LRU enabled the
// write admits the record into the recency window, evicting the head
// if the window is full; the eviction is applied to the index too.
// Never fails on duplicate keys.
func (e *Engine) Set(key string, v User) error {
	if key == "" {
		return ErrEmptyKey
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lru != nil {
		if ev := e.lru.put(key, v); ev != nil {
			e.index.remove(ev.key)
			e.evictLocked(ev)
		}
		// The record now living in the LRU (fresh or updated in
		// place) is the one the index must reference.
		n := e.lru.lookup(key)
		if d := e.index.insert(n); d != nil && d != n {
			d.reset()
		}
	} else {
		n := newRecord(key, v)
		if d := e.index.insert(n); d != nil && d != n {
			d.reset()
		}
	}
	e.publishLocked()
	return nil
}

// Get returns a copy of the value for key. The LRU is consulted first;
// a hit there doubles as the recency touch. A record found only in the
// index is promoted into the window, which can itself evict the
// current head (removed from the index as well).
func (e *Engine) Get(key string) (User, bool) {
	var zero User
	if key == "" {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lru == nil {
		n := e.index.find(key)
		if n == nil {
			e.missLocked()
			return zero, false
		}
		e.hitLocked()
		return n.value, true
	}

	if n := e.lru.get(key); n != nil {
		e.hitLocked()
		return n.value, true
	}

	n := e.index.find(key)
	if n == nil {
		e.missLocked()
		return zero, false
	}

	// Promotion: the record exists outside the window (possible only
	// transiently). Detach it, admit it into the LRU and relink the
	// same object into the index, keeping one Record per key.
	e.index.remove(key)
	if ev := e.lru.admit(n); ev != nil {
		e.index.remove(ev.key)
		e.evictLocked(ev)
	}
	if d := e.index.insert(n); d != nil && d != n {
		d.reset()
	}
	e.hitLocked()
	e.publishLocked()
	return n.value, true
}

// Del removes key from both structures and releases the record.
// Returns true iff at least one structure held the key.
func (e *Engine) Del(key string) bool {
	if key == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	hashRec := e.index.remove(key)
	var lruRec *Record
	if e.lru != nil {
		lruRec = e.lru.remove(key)
	}

	switch {
	case hashRec != nil:
		hashRec.reset()
		if lruRec != nil && lruRec != hashRec {
			lruRec.reset()
		}
	case lruRec != nil:
		lruRec.reset()
	default:
		return false
	}
	e.publishLocked()
	return true
}

// GetOrLoad returns the value for key; on miss it loads via
// Options.Loader, coalescing concurrent loads for the same key.
// If no Loader is configured, returns ErrNoLoader.
func (e *Engine) GetOrLoad(ctx context.Context, key string) (User, error) {
	if v, ok := e.Get(key); ok {
		return v, nil
	}
	var zero User
	if key == "" {
		return zero, ErrEmptyKey
	}
	if e.opt.Loader == nil {
		return zero, ErrNoLoader
	}

	return e.sf.Do(ctx, key, func() (User, error) {
		// double-check after flight join
		if v, ok := e.Get(key); ok {
			return v, nil
		}
		v, err := e.opt.Loader(ctx, key)
		if err == nil {
			err = e.Set(key, v)
		}
		return v, err
	})
}

// Stats returns a snapshot of capacities, sizes, load factor and the
// hit/miss/eviction counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		HashCapacity: e.index.capacity(),
		HashSize:     e.index.size,
		LoadFactor:   e.index.loadFactor(),
		Hits:         e.hits.Load(),
		Misses:       e.misses.Load(),
		Evictions:    e.evicts.Load(),
	}
	if e.lru != nil {
		st.LRUEnabled = true
		st.LRUCapacity = e.lru.cap
		st.LRUSize = e.lru.size
	}
	return st
}

// Len returns the number of resident records.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.size
}

// Clear empties both structures and releases every record.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.index.clear()
	if e.lru != nil {
		e.lru.clear()
	}
	e.publishLocked()
}

// -------------------- internals (mu held) --------------------

// evictLocked finalizes an eviction: the record is already unlinked
// from both structures; clear its metadata, bump counters and fire
// the callback.
func (e *Engine) evictLocked(n *Record) {
	n.reset()
	e.evicts.Add(1)
	e.opt.Metrics.Evict()
	if cb := e.opt.OnEvict; cb != nil {
		cb(n.key, n.value)
	}
}

func (e *Engine) hitLocked() {
	e.hits.Add(1)
	e.opt.Metrics.Hit()
}

func (e *Engine) missLocked() {
	e.misses.Add(1)
	e.opt.Metrics.Miss()
}

// publishLocked pushes structure sizes to the Metrics sink.
func (e *Engine) publishLocked() {
	resident := 0
	if e.lru != nil {
		resident = e.lru.size
	}
	e.opt.Metrics.Size(e.index.size, resident)
	e.opt.Metrics.LoadFactor(e.index.loadFactor())
}
