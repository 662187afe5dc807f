// Package bucketentry defines BucketEntry, the tagged record stored in a
// Bucket file, its ordering rule, and the canonical binary encoding used
// on disk. Grounded on the teacher's generic TLV encoder
// (pkg/encoding/custom/encoder.go), specialized to the four BucketEntry
// kinds instead of a generic message format.
package bucketentry

import (
	"fmt"

	"bucketnode/pkg/ledger"
)

// Kind tags the payload carried by a BucketEntry.
type Kind uint8

const (
	// KindMeta is a sentinel that must sort first and appear at most once
	// per bucket. Only present in buckets written at protocol >= FirstProtocolWithInitEntry.
	KindMeta Kind = iota
	// KindInit marks the first appearance of a key (creation).
	KindInit
	// KindLive marks an update or re-creation; the authoritative value.
	KindLive
	// KindDead is a tombstone.
	KindDead
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "META"
	case KindInit:
		return "INIT"
	case KindLive:
		return "LIVE"
	case KindDead:
		return "DEAD"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// FirstProtocolWithInitEntry is P1 in spec.md: the protocol version at and
// above which INIT and META entries are legal. Below it, merges must
// produce zero INIT/META entries and reject them as ProtocolViolation on
// input.
const FirstProtocolWithInitEntry = 13

// MetaEntry carries the bucket's format version. Present iff the owning
// bucket was written at protocol >= FirstProtocolWithInitEntry.
type MetaEntry struct {
	LedgerVersion uint32
}

// Entry is one record in a Bucket, in the canonical on-disk order: META
// first if present, then strictly ascending by key.
type Entry struct {
	Kind Kind
	Meta MetaEntry    // valid iff Kind == KindMeta
	Live ledger.Entry // valid iff Kind == KindInit || Kind == KindLive
	Dead ledger.Key   // valid iff Kind == KindDead
}

// Meta constructs a META entry.
func Meta(ledgerVersion uint32) Entry {
	return Entry{Kind: KindMeta, Meta: MetaEntry{LedgerVersion: ledgerVersion}}
}

// Init constructs an INIT entry.
func Init(e ledger.Entry) Entry {
	return Entry{Kind: KindInit, Live: e}
}

// Live constructs a LIVE entry.
func Live(e ledger.Entry) Entry {
	return Entry{Kind: KindLive, Live: e}
}

// Dead constructs a DEAD (tombstone) entry.
func Dead(k ledger.Key) Entry {
	return Entry{Kind: KindDead, Dead: k}
}

// Key returns the ledger key this entry is about. Calling it on a META
// entry panics: META has no key and callers must special-case it via Kind.
func (e Entry) Key() ledger.Key {
	switch e.Kind {
	case KindInit, KindLive:
		return e.Live.Key
	case KindDead:
		return e.Dead
	default:
		panic("bucketentry: META has no key")
	}
}

// Less orders two entries the way a bucket stores them: META first, then
// strictly ascending by key.
func Less(a, b Entry) bool {
	if a.Kind == KindMeta {
		return b.Kind != KindMeta
	}
	if b.Kind == KindMeta {
		return false
	}
	return a.Key().Compare(b.Key()) < 0
}
