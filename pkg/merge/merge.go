// Package merge implements the k-way ordered merge of bucket-list input
// buckets: reconciliation of old/new records, shadow elision, bottom-
// level tombstone elision, and per-decision MergeCounters bookkeeping.
// Grounded on the teacher's compaction-adjacent level manager
// (pkg/persistence/levels.go) for the overall shape of an iterator-driven
// merge loop, specialized to the reconciliation table in this domain
// since the teacher's compaction was a plain last-writer-wins merge.
package merge

import (
	"context"
	"fmt"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/dberrors"
)

// Input describes one merge: an old and a new bucket to reconcile, plus
// shadow buckets (deepest first) whose presence can elide redundant LIVE
// records, at a given protocol version.
type Input struct {
	Dir      string
	Old      *bucket.Bucket
	New      *bucket.Bucket
	Shadows  []*bucket.Bucket // deepest first
	Protocol uint32
	// BottomLevel marks the output as the deepest level's curr bucket,
	// where DEAD records may be elided since nothing deeper shadows them.
	BottomLevel bool
}

// Result is the outcome of a completed merge.
type Result struct {
	Output   *bucket.Bucket
	Counters Counters
}

// Run executes a merge to completion. It is pure modulo I/O: given the
// same Input it always reconciles to byte-identical output, which is
// what makes input-only checkpoint resumption safe (spec.md's
// restartability requirement).
func Run(ctx context.Context, in Input) (Result, error) {
	if in.Protocol < bucketentry.FirstProtocolWithInitEntry {
		if err := rejectInitMeta(in.Old); err != nil {
			return Result{}, err
		}
		if err := rejectInitMeta(in.New); err != nil {
			return Result{}, err
		}
	}

	oldIt, err := in.Old.NewIterator()
	if err != nil {
		return Result{}, err
	}
	defer oldIt.Close()

	newIt, err := in.New.NewIterator()
	if err != nil {
		return Result{}, err
	}
	defer newIt.Close()

	shadowIts := make([]*bucket.Iterator, len(in.Shadows))
	shadowHeads := make([]*bucketentry.Entry, len(in.Shadows))
	for i, s := range in.Shadows {
		it, err := s.NewIterator()
		if err != nil {
			return Result{}, err
		}
		defer it.Close()
		shadowIts[i] = it
	}
	for i, it := range shadowIts {
		shadowHeads[i] = primeSkippingMeta(it, nil)
	}

	var out []bucketentry.Entry
	var c Counters

	// A bucket carries at most one META record and it always sorts first
	// (bucketentry.Less). bucket.Fresh synthesizes the output's own META
	// from the merge's protocol, so input METAs are counted but never
	// forwarded; shadow buckets' heads are primed the same way.
	oldHead := primeSkippingMeta(oldIt, &c.OldMetaCount)
	newHead := primeSkippingMeta(newIt, &c.NewMetaCount)

	for oldHead != nil || newHead != nil {
		select {
		case <-ctx.Done():
			return Result{}, dberrors.ErrMergeAborted
		default:
		}

		switch {
		case oldHead == nil:
			emit, ok := classifyNew(*newHead, &c)
			if ok {
				out = appendElided(out, emit, shadowHeads, shadowIts, &c, in.BottomLevel)
			}
			newHead = advance(newIt)

		case newHead == nil:
			countOld(*oldHead, &c)
			c.OldEntriesDefaultAccepted++
			out = appendElided(out, *oldHead, shadowHeads, shadowIts, &c, in.BottomLevel)
			oldHead = advance(oldIt)

		default:
			cmp := compareKeys(*oldHead, *newHead)
			switch {
			case cmp < 0:
				countOld(*oldHead, &c)
				c.OldEntriesDefaultAccepted++
				out = appendElided(out, *oldHead, shadowHeads, shadowIts, &c, in.BottomLevel)
				oldHead = advance(oldIt)

			case cmp > 0:
				emit, ok := classifyNew(*newHead, &c)
				if ok {
					out = appendElided(out, emit, shadowHeads, shadowIts, &c, in.BottomLevel)
				}
				newHead = advance(newIt)

			default:
				countOld(*oldHead, &c)
				countNew(*newHead, &c)
				emit, ok := reconcile(*oldHead, *newHead, &c)
				if ok {
					out = appendElided(out, emit, shadowHeads, shadowIts, &c, in.BottomLevel)
				}
				oldHead = advance(oldIt)
				newHead = advance(newIt)
			}
		}
	}

	if in.Protocol < bucketentry.FirstProtocolWithInitEntry {
		c.PreInitEntryProtocolMerges++
	} else {
		c.PostInitEntryProtocolMerges++
	}

	c.OutputIteratorBufferUpdates += uint64(len(out))
	c.OutputIteratorActualWrites += uint64(len(out))

	outBucket, err := bucket.Fresh(in.Dir, in.Protocol, out)
	if err != nil {
		return Result{}, err
	}

	return Result{Output: outBucket, Counters: c}, nil
}

// reconcile applies the §4.2 table for a key present in both old and new.
// Returns the entry to emit and whether anything should be emitted at all.
func reconcile(old, new bucketentry.Entry, c *Counters) (bucketentry.Entry, bool) {
	switch {
	case new.Kind == bucketentry.KindInit && old.Kind == bucketentry.KindDead:
		c.NewInitEntriesMergedWithOldDead++
		return bucketentry.Entry{}, false
	case new.Kind == bucketentry.KindLive && old.Kind == bucketentry.KindInit:
		c.OldInitEntriesMergedWithNewLive++
		return bucketentry.Init(new.Live), true
	case new.Kind == bucketentry.KindDead && old.Kind == bucketentry.KindInit:
		c.OldInitEntriesMergedWithNewDead++
		return bucketentry.Entry{}, false
	default:
		c.NewEntriesMergedWithOldNeitherInit++
		return new, true
	}
}

// classifyNew accounts for a new-only record (no corresponding old key)
// and returns it for emission; new entries with no old counterpart are
// always emitted as-is per §4.2's "otherwise -> emit new".
func classifyNew(new bucketentry.Entry, c *Counters) (bucketentry.Entry, bool) {
	countNew(new, c)
	c.NewEntriesDefaultAccepted++
	return new, true
}

func countOld(e bucketentry.Entry, c *Counters) {
	switch e.Kind {
	case bucketentry.KindMeta:
		c.OldMetaCount++
	case bucketentry.KindInit:
		c.OldInitCount++
	case bucketentry.KindLive:
		c.OldLiveCount++
	case bucketentry.KindDead:
		c.OldDeadCount++
	}
}

func countNew(e bucketentry.Entry, c *Counters) {
	switch e.Kind {
	case bucketentry.KindMeta:
		c.NewMetaCount++
	case bucketentry.KindInit:
		c.NewInitCount++
	case bucketentry.KindLive:
		c.NewLiveCount++
	case bucketentry.KindDead:
		c.NewDeadCount++
	}
}

// appendElided applies shadow elision and bottom-level tombstone elision
// before appending e to out.
func appendElided(out []bucketentry.Entry, e bucketentry.Entry, shadowHeads []*bucketentry.Entry, shadowIts []*bucket.Iterator, c *Counters, bottomLevel bool) []bucketentry.Entry {
	switch e.Kind {
	case bucketentry.KindInit:
		// INIT is never elided by shadows.
		return append(out, e)
	case bucketentry.KindDead:
		if bottomLevel {
			c.OutputIteratorTombstoneElisions++
			return out
		}
		// DEAD records are never elided by shadows, only by bottom-level rule.
		return append(out, e)
	case bucketentry.KindLive:
		if shadowed(e, shadowHeads, shadowIts, c) {
			c.LiveEntryShadowElisions++
			return out
		}
		return append(out, e)
	default:
		return append(out, e)
	}
}

// shadowed reports whether any shadow bucket contains e's key, advancing
// each shadow iterator past keys smaller than e's key along the way.
// Shadows are scanned in order (deepest first) and "any shadow suffices"
// per the spec's resolved Open Question; every shadow head is still
// advanced to e's key, a match does not stop the scan.
func shadowed(e bucketentry.Entry, heads []*bucketentry.Entry, its []*bucket.Iterator, c *Counters) bool {
	found := false
	for i := range heads {
		for heads[i] != nil && heads[i].Key().Compare(e.Key()) < 0 {
			c.ShadowScanSteps++
			heads[i] = advance(its[i])
		}
		if heads[i] != nil && heads[i].Key().Equal(e.Key()) {
			c.ShadowScanSteps++
			found = true
		}
	}
	return found
}

func advance(it *bucket.Iterator) *bucketentry.Entry {
	if !it.Next() {
		return nil
	}
	e := it.Entry()
	return &e
}

// primeSkippingMeta returns an iterator's first non-META entry, counting
// the META into metaCounter if one was present. metaCounter may be nil
// when the caller doesn't need the count (shadow heads).
func primeSkippingMeta(it *bucket.Iterator, metaCounter *uint64) *bucketentry.Entry {
	e := advance(it)
	if e != nil && e.Kind == bucketentry.KindMeta {
		if metaCounter != nil {
			*metaCounter++
		}
		e = advance(it)
	}
	return e
}

func compareKeys(a, b bucketentry.Entry) int {
	return a.Key().Compare(b.Key())
}

// rejectInitMeta scans b for INIT/META records, which are illegal input
// at protocols below the gate.
func rejectInitMeta(b *bucket.Bucket) error {
	it, err := b.NewIterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		k := it.Entry().Kind
		if k == bucketentry.KindInit || k == bucketentry.KindMeta {
			return fmt.Errorf("%w: bucket %s carries %v below protocol %d", dberrors.ErrProtocolViolation, b.Hash(), k, bucketentry.FirstProtocolWithInitEntry)
		}
	}
	return it.Err()
}
