package store

// User is the payload stored under each key: a small user profile with
// a signed cash balance (negative balances model withdrawals).
type User struct {
	ID    int64
	Name  string
	Email string
	Phone string
	Cash  int64
}

// noBucket marks a record that is not linked into the hash index.
const noBucket = -1

// Record is an intrusive node shared by the hash index and the LRU list.
// It carries both sets of link fields so a single allocation participates
// in both structures at once. The engine is the sole owner of records;
// the index and the list only link and unlink them.
type Record struct {
	key   string
	value User

	// Hash chain link (singly linked, head-insert).
	hashNext *Record
	// LRU links: head is least recently used, tail is most recent.
	lruPrev *Record
	lruNext *Record

	// Bucket index cached while linked into the hash index,
	// noBucket otherwise.
	bucket int
}

func newRecord(key string, v User) *Record {
	return &Record{key: key, value: v, bucket: noBucket}
}

// Key returns the record key.
func (r *Record) Key() string { return r.key }

// Value returns a copy of the stored payload.
func (r *Record) Value() User { return r.value }

// reset detaches the record from both structures' point of view.
// Callers must have already unlinked it; this only clears the metadata.
func (r *Record) reset() {
	r.hashNext = nil
	r.lruPrev = nil
	r.lruNext = nil
	r.bucket = noBucket
}
