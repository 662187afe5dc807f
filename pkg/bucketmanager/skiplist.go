package bucketmanager

import "bucketnode/pkg/bucket"

// Skip-list periods, in ledgers, per spec.md §4.5.
const (
	Skip1 = 50
	Skip2 = 5000
	Skip3 = 50000
	Skip4 = 500000
)

// SkipList is the 4-slot skip list stored in the ledger header.
type SkipList [4]string

// NewSkipList returns a skip list with every slot set to the empty hash,
// as it is before the corresponding period has elapsed.
func NewSkipList() SkipList {
	return SkipList{bucket.EmptyHash, bucket.EmptyHash, bucket.EmptyHash, bucket.EmptyHash}
}

// skipPeriod is slot k's own period; skipOffset is the ledger, within
// that period, at which slot k shifts in slot k-1's pre-roll value. Slot 0
// has no offset: it takes the fresh BL.hash at every Skip1 boundary.
// Grounded field-for-field on original_source/src/bucket/test/BucketManagerTests.cpp's
// "skip list" test case: tracing its REQUIRE sequence shows slot k does
// NOT shift at every N mod SKIP_{k+1}==0 boundary (that boundary also
// rolls slot 0 forward, but slot k lags by the sum of all shorter
// periods) — slot 1 first takes on a non-empty value at SKIP_2+SKIP_1,
// not at SKIP_2; slot 2 first changes at SKIP_3+SKIP_2+SKIP_1, not at
// SKIP_3+SKIP_2.
var skipPeriod = [4]uint64{Skip1, Skip2, Skip3, Skip4}
var skipOffset = [4]uint64{0, Skip1, Skip1 + Skip2, Skip1 + Skip2 + Skip3}

// Roll computes the skip list for ledger n given blHash (BL.hash at n)
// and the previous ledger's skip list. Slot 0 takes BL.hash at Skip1
// boundaries. Slot k (1-3) shifts slot k-1's value, as it stood before
// this call's own updates, in at n mod skipPeriod[k] == skipOffset[k];
// every other ledger rolls the previous value forward unchanged.
func Roll(prev SkipList, n uint64, blHash string) SkipList {
	next := prev
	if n%skipPeriod[0] == skipOffset[0] {
		next[0] = blHash
	}
	for k := 1; k < 4; k++ {
		if n%skipPeriod[k] == skipOffset[k] {
			next[k] = prev[k-1]
		}
	}
	return next
}
