package store

import "github.com/userkv/userkv/internal/util"

// maxLoad is the load factor threshold; crossing it doubles capacity.
const maxLoad = 0.75

// hashIndex is an open-chaining hash table over intrusive records.
// Buckets hold chain heads; records link to their chain successor
// through Record.hashNext. The index never allocates or frees records.
type hashIndex struct {
	buckets []*Record
	size    int
}

func newHashIndex(capacity int) *hashIndex {
	if capacity < 1 {
		capacity = 1
	}
	return &hashIndex{buckets: make([]*Record, capacity)}
}

func (h *hashIndex) bucketFor(key string) int {
	return int(util.Djb2(key) % uint32(len(h.buckets)))
}

// insert links n into its chain. If a record with the same key already
// resides there, n takes its chain position (inheriting the successor)
// and the displaced record is returned unfreed. Otherwise n is
// head-inserted and nil is returned. Crossing the load threshold
// doubles capacity before insert returns.
func (h *hashIndex) insert(n *Record) *Record {
	if n == nil {
		return nil
	}
	idx := h.bucketFor(n.key)
	n.bucket = idx

	var prev *Record
	for cur := h.buckets[idx]; cur != nil; cur = cur.hashNext {
		if cur.key == n.key {
			if cur == n {
				// Already linked right here (update in place
				// happened upstream); nothing to displace.
				return nil
			}
			// Replace in place, preserving chain position.
			n.hashNext = cur.hashNext
			if prev != nil {
				prev.hashNext = n
			} else {
				h.buckets[idx] = n
			}
			cur.hashNext = nil
			cur.bucket = noBucket
			return cur
		}
		prev = cur
	}

	n.hashNext = h.buckets[idx]
	h.buckets[idx] = n
	h.size++

	if float64(h.size) > maxLoad*float64(len(h.buckets)) {
		h.rehash(2 * len(h.buckets))
	}
	return nil
}

// find returns the record for key, or nil. Chain scan is linear;
// chains stay short because of the load bound.
func (h *hashIndex) find(key string) *Record {
	for cur := h.buckets[h.bucketFor(key)]; cur != nil; cur = cur.hashNext {
		if cur.key == key {
			return cur
		}
	}
	return nil
}

// remove unlinks and returns the record for key, clearing its chain
// link and bucket index. Returns nil if absent. Does not free.
func (h *hashIndex) remove(key string) *Record {
	idx := h.bucketFor(key)
	var prev *Record
	for cur := h.buckets[idx]; cur != nil; cur = cur.hashNext {
		if cur.key == key {
			if prev != nil {
				prev.hashNext = cur.hashNext
			} else {
				h.buckets[idx] = cur.hashNext
			}
			cur.hashNext = nil
			cur.bucket = noBucket
			h.size--
			return cur
		}
		prev = cur
	}
	return nil
}

// rehash relocates every record into a bucket array of newCapacity.
// Records are re-linked in place; no new records are allocated.
// Head-insert into the new buckets reverses chain order, which is
// fine: chain order is not observable.
func (h *hashIndex) rehash(newCapacity int) {
	old := h.buckets
	h.buckets = make([]*Record, newCapacity)
	for _, cur := range old {
		for cur != nil {
			next := cur.hashNext
			idx := h.bucketFor(cur.key)
			cur.bucket = idx
			cur.hashNext = h.buckets[idx]
			h.buckets[idx] = cur
			cur = next
		}
	}
}

// clear detaches all chain heads. Records are not touched; the engine
// owns them and decides when they become unreachable.
func (h *hashIndex) clear() {
	for i := range h.buckets {
		h.buckets[i] = nil
	}
	h.size = 0
}

func (h *hashIndex) capacity() int { return len(h.buckets) }

func (h *hashIndex) loadFactor() float64 {
	return float64(h.size) / float64(len(h.buckets))
}
