package bucketmanager

import (
	"testing"

	"bucketnode/pkg/bucket"
)

// TestRollSkipListEdges reproduces the literal boundary scenario from
// original_source/src/bucket/test/BucketManagerTests.cpp's "skip list" test
// case: eight ledgers fed the BL.hash values h1..h7 (h2 twice), exercising the
// Skip1/Skip2/Skip3 boundaries and their one-period lag on slots 1-3.
func TestRollSkipListEdges(t *testing.T) {
	h0 := bucket.EmptyHash
	const (
		h1 = "h1"
		h2 = "h2"
		h3 = "h3"
		h4 = "h4"
		h5 = "h5"
		h6 = "h6"
		h7 = "h7"
	)

	cases := []struct {
		n    uint64
		hash string
		want SkipList
	}{
		{5, h1, SkipList{h0, h0, h0, h0}},
		{Skip1, h2, SkipList{h2, h0, h0, h0}},
		{Skip1 * 2, h3, SkipList{h3, h0, h0, h0}},
		{Skip1*2 + 1, h2, SkipList{h3, h0, h0, h0}}, // not a boundary: h2 is never stored
		{Skip2, h4, SkipList{h4, h0, h0, h0}},
		{Skip2 + Skip1, h5, SkipList{h5, h4, h0, h0}},
		{Skip3 + Skip2, h6, SkipList{h6, h4, h0, h0}},
		{Skip3 + Skip2 + Skip1, h7, SkipList{h7, h6, h4, h0}},
	}

	sl := NewSkipList()
	for _, c := range cases {
		sl = Roll(sl, c.n, c.hash)
		if sl != c.want {
			t.Fatalf("Roll at n=%d: got %v, want %v", c.n, sl, c.want)
		}
	}
}

// TestRollRollsForwardBetweenBoundaries checks that an ordinary ledger
// (none of the four periods aligned) leaves every slot untouched.
func TestRollRollsForwardBetweenBoundaries(t *testing.T) {
	prev := SkipList{"a", "b", "c", "d"}
	got := Roll(prev, 7, "new-hash")
	if got != prev {
		t.Fatalf("Roll at non-boundary ledger changed state: got %v, want %v", got, prev)
	}
}
