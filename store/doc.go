// Package store implements the in-memory engine behind userkv: an
// intrusive hash index coupled with an LRU recency list, both linking
// the same Record objects so that each live record exists exactly once
// while being reachable from two independent structures.
//
// Design
//
//   - Ownership: the engine owns every Record. The hash index and the
//     LRU list only link and unlink; records are released exclusively
//     by Del, eviction and Clear. This keeps the two structures from
//     ever disagreeing about a record's lifetime.
//
//   - Coupling invariant: whenever the LRU is enabled, the set of
//     records in the hash index equals the set in the LRU list at
//     every quiescent point. A record can sit in the index alone only
//     transiently; the next read re-admits it into the window.
//
//   - Hash index: open chaining over intrusive forward links, djb2
//     bucket placement, load factor 0.75 with doubling rehash that
//     re-links records in place.
//
//   - LRU list: intrusive doubly-linked list (head = least recently
//     used) plus a key map for O(1) touch. Admitting into a full
//     window evicts the head; the engine mirrors that eviction into
//     the index.
//
//   - Concurrency: one mutex serializes all operations. The lock is
//     kept even in single-reactor deployments so that a multi-reactor
//     front end can share one engine without redesign.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size/LoadFactor
//     signals. NoopMetrics is the default; plug the Prometheus adapter
//     from metrics/prom to export them.
//
// Basic usage
//
//	e := store.NewEngine(store.Options{
//	    HashCapacity: 1024,
//	    LRUCapacity:  100,
//	    EnableLRU:    true,
//	})
//	_ = e.Set("user1", store.User{ID: 1, Name: "张三", Cash: 1000})
//	if u, ok := e.Get("user1"); ok {
//	    _ = u
//	}
//	e.Del("user1")
package store
