package store

import (
	"strconv"
	"testing"
)

func TestHashIndex_InsertFindRemove(t *testing.T) {
	t.Parallel()

	h := newHashIndex(8)
	for i := 0; i < 20; i++ {
		if d := h.insert(newRecord("k"+strconv.Itoa(i), User{ID: int64(i)})); d != nil {
			t.Fatalf("fresh insert displaced %q", d.key)
		}
	}
	if h.size != 20 {
		t.Fatalf("size = %d, want 20", h.size)
	}
	for i := 0; i < 20; i++ {
		n := h.find("k" + strconv.Itoa(i))
		if n == nil || n.value.ID != int64(i) {
			t.Fatalf("find k%d = %v", i, n)
		}
	}
	if h.find("missing") != nil {
		t.Fatal("find missing must be nil")
	}

	n := h.remove("k7")
	if n == nil || n.key != "k7" {
		t.Fatalf("remove k7 = %v", n)
	}
	if n.hashNext != nil || n.bucket != noBucket {
		t.Fatalf("removed record not detached: next=%v bucket=%d", n.hashNext, n.bucket)
	}
	if h.find("k7") != nil {
		t.Fatal("k7 still findable after remove")
	}
	if h.remove("k7") != nil {
		t.Fatal("second remove must be nil")
	}
	if h.size != 19 {
		t.Fatalf("size = %d, want 19", h.size)
	}
}

// Inserting a record for an existing key swaps it into the chain in
// place and hands back the displaced record without freeing it.
func TestHashIndex_ReplaceDisplaces(t *testing.T) {
	t.Parallel()

	h := newHashIndex(4)
	old := newRecord("dup", User{ID: 1})
	h.insert(old)
	sizeBefore := h.size

	repl := newRecord("dup", User{ID: 2})
	d := h.insert(repl)
	if d != old {
		t.Fatalf("displaced %v, want the original record", d)
	}
	if h.size != sizeBefore {
		t.Fatalf("replace changed size: %d -> %d", sizeBefore, h.size)
	}
	if old.hashNext != nil || old.bucket != noBucket {
		t.Fatal("displaced record must be fully detached")
	}
	if got := h.find("dup"); got != repl || got.value.ID != 2 {
		t.Fatalf("find dup = %v", got)
	}
}

// Re-inserting a record that is already linked at its key is a no-op;
// the chain must stay intact.
func TestHashIndex_SelfInsertKeepsChain(t *testing.T) {
	t.Parallel()

	h := newHashIndex(1) // the load bound grows this to 4 buckets over the two inserts
	a := newRecord("a", User{ID: 1})
	b := newRecord("b", User{ID: 2})
	h.insert(a)
	h.insert(b)

	if d := h.insert(a); d != nil {
		t.Fatalf("self insert displaced %q", d.key)
	}
	if h.find("a") == nil || h.find("b") == nil {
		t.Fatal("self insert broke the chain")
	}
	if h.size != 2 {
		t.Fatalf("size = %d, want 2", h.size)
	}
}

func TestHashIndex_RehashDoubles(t *testing.T) {
	t.Parallel()

	h := newHashIndex(4)
	for i := 0; i < 100; i++ {
		h.insert(newRecord("key"+strconv.Itoa(i), User{ID: int64(i)}))
	}
	if h.capacity() < 128 {
		t.Fatalf("capacity %d after 100 inserts from 4", h.capacity())
	}
	if lf := h.loadFactor(); lf > maxLoad {
		t.Fatalf("load factor %.3f above threshold", lf)
	}
	for i := 0; i < 100; i++ {
		n := h.find("key" + strconv.Itoa(i))
		if n == nil {
			t.Fatalf("key%d lost in rehash", i)
		}
		if n.bucket != h.bucketFor(n.key) {
			t.Fatalf("key%d cached bucket %d, hash says %d", i, n.bucket, h.bucketFor(n.key))
		}
	}
}

func TestHashIndex_Clear(t *testing.T) {
	t.Parallel()

	h := newHashIndex(8)
	for i := 0; i < 10; i++ {
		h.insert(newRecord("k"+strconv.Itoa(i), User{}))
	}
	h.clear()
	if h.size != 0 {
		t.Fatalf("size = %d after clear", h.size)
	}
	for i := 0; i < 10; i++ {
		if h.find("k"+strconv.Itoa(i)) != nil {
			t.Fatalf("k%d survives clear", i)
		}
	}
}

func TestDjb2_KnownValues(t *testing.T) {
	t.Parallel()

	// h = 5381; h = h*33 + byte, unsigned 32-bit.
	cases := []struct {
		in   string
		want uint32
	}{
		{"", 5381},
		{"a", 5381*33 + 'a'},
		{"ab", (5381*33+'a')*33 + 'b'},
	}
	h := newHashIndex(16)
	for _, c := range cases {
		if got := h.bucketFor(c.in); got != int(c.want%16) {
			t.Fatalf("bucketFor(%q) = %d, want %d", c.in, got, c.want%16)
		}
	}
}
