package merge

import (
	"context"
	"testing"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/ledger"
)

const protocol = bucketentry.FirstProtocolWithInitEntry

func live(k, v string) bucketentry.Entry {
	return bucketentry.Live(ledger.Entry{Key: ledger.Key{Raw: []byte(k)}, Data: []byte(v)})
}

func initE(k, v string) bucketentry.Entry {
	return bucketentry.Init(ledger.Entry{Key: ledger.Key{Raw: []byte(k)}, Data: []byte(v)})
}

func dead(k string) bucketentry.Entry {
	return bucketentry.Dead(ledger.Key{Raw: []byte(k)})
}

func mustFresh(t *testing.T, dir string, entries []bucketentry.Entry) *bucket.Bucket {
	t.Helper()
	b, err := bucket.Fresh(dir, protocol, entries)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	return b
}

func readAll(t *testing.T, b *bucket.Bucket) []bucketentry.Entry {
	t.Helper()
	it, err := b.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()
	var out []bucketentry.Entry
	for it.Next() {
		e := it.Entry()
		if e.Kind == bucketentry.KindMeta {
			continue
		}
		out = append(out, e)
	}
	if it.Err() != nil {
		t.Fatalf("iteration: %v", it.Err())
	}
	return out
}

func TestReconcileInitAnnihilatesDead(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, []bucketentry.Entry{dead("a")})
	newB := mustFresh(t, dir, []bucketentry.Entry{initE("a", "v1")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)
	if len(got) != 0 {
		t.Fatalf("expected INIT to annihilate DEAD, got %v", got)
	}
	if res.Counters.NewInitEntriesMergedWithOldDead != 1 {
		t.Fatalf("expected NewInitEntriesMergedWithOldDead=1, got %d", res.Counters.NewInitEntriesMergedWithOldDead)
	}
}

func TestReconcileLiveOverInitStaysInit(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, []bucketentry.Entry{initE("a", "v0")})
	newB := mustFresh(t, dir, []bucketentry.Entry{live("a", "v1")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)
	if len(got) != 1 || got[0].Kind != bucketentry.KindInit || string(got[0].Live.Data) != "v1" {
		t.Fatalf("expected single INIT entry with new payload, got %v", got)
	}
	if res.Counters.OldInitEntriesMergedWithNewLive != 1 {
		t.Fatalf("expected OldInitEntriesMergedWithNewLive=1, got %d", res.Counters.OldInitEntriesMergedWithNewLive)
	}
}

func TestReconcileDeadOverInitIsNoOp(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, []bucketentry.Entry{initE("a", "v0")})
	newB := mustFresh(t, dir, []bucketentry.Entry{dead("a")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)
	if len(got) != 0 {
		t.Fatalf("expected create+delete window to vanish, got %v", got)
	}
	if res.Counters.OldInitEntriesMergedWithNewDead != 1 {
		t.Fatalf("expected OldInitEntriesMergedWithNewDead=1, got %d", res.Counters.OldInitEntriesMergedWithNewDead)
	}
}

func TestReconcileDefaultNewSupersedesOld(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, []bucketentry.Entry{live("a", "v0")})
	newB := mustFresh(t, dir, []bucketentry.Entry{live("a", "v1")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)
	if len(got) != 1 || string(got[0].Live.Data) != "v1" {
		t.Fatalf("expected new value to win, got %v", got)
	}
}

func TestShadowElidesLiveButNotInitOrDead(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, nil)
	newB := mustFresh(t, dir, []bucketentry.Entry{live("a", "v1"), initE("b", "v2"), dead("c")})
	shadow := mustFresh(t, dir, []bucketentry.Entry{live("a", "shadow-a"), live("b", "shadow-b"), live("c", "shadow-c")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Shadows: []*bucket.Bucket{shadow}, Protocol: protocol})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)

	kinds := map[string]bucketentry.Kind{}
	for _, e := range got {
		kinds[string(e.Key().Raw)] = e.Kind
	}
	if _, present := kinds["a"]; present {
		t.Fatalf("expected LIVE key 'a' to be shadow-elided, got %v", got)
	}
	if k, ok := kinds["b"]; !ok || k != bucketentry.KindInit {
		t.Fatalf("expected INIT key 'b' to survive shadowing, got %v", got)
	}
	if k, ok := kinds["c"]; !ok || k != bucketentry.KindDead {
		t.Fatalf("expected DEAD key 'c' to survive shadowing, got %v", got)
	}
	if res.Counters.LiveEntryShadowElisions != 1 {
		t.Fatalf("expected LiveEntryShadowElisions=1, got %d", res.Counters.LiveEntryShadowElisions)
	}
}

func TestBottomLevelElidesTombstones(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, nil)
	newB := mustFresh(t, dir, []bucketentry.Entry{dead("a")})

	res, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol, BottomLevel: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readAll(t, res.Output)
	if len(got) != 0 {
		t.Fatalf("expected tombstone elided at bottom level, got %v", got)
	}
	if res.Counters.OutputIteratorTombstoneElisions != 1 {
		t.Fatalf("expected OutputIteratorTombstoneElisions=1, got %d", res.Counters.OutputIteratorTombstoneElisions)
	}
}

func TestMergeIsDeterministicAcrossReruns(t *testing.T) {
	dir := t.TempDir()
	old := mustFresh(t, dir, []bucketentry.Entry{live("a", "1"), live("b", "2")})
	newB := mustFresh(t, dir, []bucketentry.Entry{live("b", "3"), live("c", "4")})

	in := Input{Dir: dir, Old: old, New: newB, Protocol: protocol}
	res1, err := Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	res2, err := Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run 2: %v", err)
	}
	if res1.Output.Hash() != res2.Output.Hash() {
		t.Fatalf("expected identical output hash across reruns, got %s vs %s", res1.Output.Hash(), res2.Output.Hash())
	}
}

func TestPreProtocolGateRejectsInitOnInput(t *testing.T) {
	dir := t.TempDir()
	// Force-write an INIT entry into buckets even though protocol < P1
	// would normally forbid producing one, to exercise the input-side gate.
	old := mustFresh(t, dir, nil)
	newB := mustFresh(t, dir, []bucketentry.Entry{initE("a", "v")})

	_, err := Run(context.Background(), Input{Dir: dir, Old: old, New: newB, Protocol: protocol - 1})
	if err == nil {
		t.Fatal("expected ProtocolViolation for INIT entry below protocol gate")
	}
}
