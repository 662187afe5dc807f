package bucketlist

import (
	"context"
	"testing"

	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/ledger"
	"bucketnode/pkg/merge"
)

const protocol = bucketentry.FirstProtocolWithInitEntry

func liveEntries(keys ...string) []bucketentry.Entry {
	var out []bucketentry.Entry
	for _, k := range keys {
		out = append(out, bucketentry.Live(ledger.Entry{Key: ledger.Key{Raw: []byte(k)}, Data: []byte(k)}))
	}
	return out
}

func TestHalfGeometry(t *testing.T) {
	cases := []struct {
		i    int
		want uint64
	}{
		{0, 1}, {1, 4}, {2, 16}, {3, 64}, {9, 262144}, {10, 1048576},
	}
	for _, c := range cases {
		if got := half(c.i); got != c.want {
			t.Errorf("half(%d) = %d, want %d", c.i, got, c.want)
		}
	}
}

func TestAddBatchAdvancesLevelZeroEveryLedger(t *testing.T) {
	dir := t.TempDir()
	bl := New(dir, merge.Run)

	for n := uint64(1); n <= 5; n++ {
		entries := liveEntries(string(rune('a' + int(n))))
		if _, err := bl.AddBatch(context.Background(), n, protocol, entries); err != nil {
			t.Fatalf("AddBatch(%d): %v", n, err)
		}
	}

	if bl.Level(0).Curr == nil {
		t.Fatal("expected level 0 curr to be set")
	}
}

func TestHashIsDeterministicGivenSameHistory(t *testing.T) {
	run := func() (string, error) {
		dir := t.TempDir()
		bl := New(dir, merge.Run)
		var h string
		var err error
		for n := uint64(1); n <= 8; n++ {
			h, err = bl.AddBatch(context.Background(), n, protocol, liveEntries(string(rune('a'+int(n%5)))))
			if err != nil {
				return "", err
			}
		}
		return h, nil
	}

	h1, err := run()
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	h2, err := run()
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic BL.hash across identical histories, got %s vs %s", h1, h2)
	}
}

func TestEmptyBucketListHashIsStable(t *testing.T) {
	dir := t.TempDir()
	bl1 := New(dir, merge.Run)
	bl2 := New(dir, merge.Run)

	h1, err := bl1.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := bl2.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected two empty bucket lists to hash identically, got %s vs %s", h1, h2)
	}
}
