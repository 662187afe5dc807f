package archivestate

import (
	"context"
	"testing"

	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/bucketlist"
	"bucketnode/pkg/ledger"
	"bucketnode/pkg/merge"
)

const protocol = bucketentry.FirstProtocolWithInitEntry

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected no state on fresh store, got ok=%v err=%v", ok, err)
	}

	want := State{
		CurrentLedger: 42,
		Levels: []LevelState{
			{CurrHash: "a", SnapHash: "b", Next: NextClear},
		},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected Load to report a persisted state")
	}
	if got.CurrentLedger != want.CurrentLedger || len(got.Levels) != len(want.Levels) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestCaptureRestoreReproducesSameHash(t *testing.T) {
	dir := t.TempDir()
	bl := bucketlist.New(dir, merge.Run)

	for n := uint64(1); n <= 3; n++ {
		entries := []bucketentry.Entry{bucketentry.Live(ledger.Entry{
			Key:  ledger.Key{Raw: []byte{byte('a' + n)}},
			Data: []byte("v"),
		})}
		if _, err := bl.AddBatch(context.Background(), n, protocol, entries); err != nil {
			t.Fatalf("AddBatch(%d): %v", n, err)
		}
	}

	wantHash, err := bl.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	st := Capture(3, bl)

	restored := bucketlist.New(dir, merge.Run)
	if err := Restore(context.Background(), dir, st, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	gotHash, err := restored.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if gotHash != wantHash {
		t.Fatalf("restored BL.hash = %s, want %s", gotHash, wantHash)
	}
}

func TestCheckMissingBucketFilesDetectsGaps(t *testing.T) {
	dir := t.TempDir()
	st := State{Levels: []LevelState{{CurrHash: "deadbeef"}}}

	missing := CheckMissingBucketFiles(dir, st)
	if len(missing) != 1 || missing[0] != "deadbeef" {
		t.Fatalf("expected to detect missing bucket deadbeef, got %v", missing)
	}
}
