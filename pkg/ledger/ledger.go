// Package ledger defines the minimal ledger-entry surrogate types the
// bucket list engine operates on. The real account/trustline/offer/...
// union lives in the ledger-txn collaborator (out of scope per spec.md
// §1); this layer only needs a comparable key and an opaque entry body.
package ledger

import "bytes"

// Key identifies a ledger entry. Its Raw form is whatever canonical byte
// encoding the ledger-txn collaborator produces; this layer never
// interprets it beyond ordering.
type Key struct {
	Raw []byte
}

// Compare returns -1, 0, or 1 the way bytes.Compare does, ordering keys
// strictly ascending.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k.Raw, o.Raw)
}

// Equal reports whether two keys are byte-identical.
func (k Key) Equal(o Key) bool {
	return bytes.Equal(k.Raw, o.Raw)
}

// Entry is a ledger entry: a key plus its opaque serialized body. Data is
// never interpreted by the bucket list engine, only carried.
type Entry struct {
	Key  Key
	Data []byte
}

// SeqNum is a closed ledger's sequence number.
type SeqNum = uint32
