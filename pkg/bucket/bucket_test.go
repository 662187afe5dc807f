package bucket

import (
	"testing"

	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/ledger"
)

func entry(k string) bucketentry.Entry {
	return bucketentry.Live(ledger.Entry{Key: ledger.Key{Raw: []byte(k)}, Data: []byte(k + "-data")})
}

func TestFreshIsContentAddressedAndDeterministic(t *testing.T) {
	dir := t.TempDir()

	b1, err := Fresh(dir, 13, []bucketentry.Entry{entry("b"), entry("a"), entry("c")})
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	defer b1.Close()

	// same set, different input order -> identical hash
	b2, err := Fresh(dir, 13, []bucketentry.Entry{entry("c"), entry("a"), entry("b")})
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	defer b2.Close()

	if b1.Hash() != b2.Hash() {
		t.Fatalf("expected identical hash for same entry set, got %s vs %s", b1.Hash(), b2.Hash())
	}

	if err := Verify(dir, b1.Hash()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestFreshEmptyBatchYieldsEmptyBucket(t *testing.T) {
	dir := t.TempDir()

	b, err := Fresh(dir, 13, nil)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if !b.Empty() {
		t.Fatalf("expected empty bucket, got hash %s", b.Hash())
	}

	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	if it.Next() {
		t.Fatalf("expected no entries in empty bucket")
	}
}

func TestIteratorYieldsMetaFirstThenSortedEntries(t *testing.T) {
	dir := t.TempDir()

	b, err := Fresh(dir, 13, []bucketentry.Entry{entry("z"), entry("a"), entry("m")})
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	defer b.Close()

	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	var kinds []bucketentry.Kind
	var keys []string
	for it.Next() {
		e := it.Entry()
		kinds = append(kinds, e.Kind)
		if e.Kind != bucketentry.KindMeta {
			keys = append(keys, string(e.Key().Raw))
		}
	}
	if it.Err() != nil {
		t.Fatalf("iteration error: %v", it.Err())
	}

	if len(kinds) == 0 || kinds[0] != bucketentry.KindMeta {
		t.Fatalf("expected META entry first, got %v", kinds)
	}
	want := []string{"a", "m", "z"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}
