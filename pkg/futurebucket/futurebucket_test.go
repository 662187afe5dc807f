package futurebucket

import (
	"context"
	"reflect"
	"testing"
	"time"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/ledger"
	"bucketnode/pkg/merge"
)

func freshBucket(t *testing.T, dir string, keys ...string) *bucket.Bucket {
	t.Helper()
	var entries []bucketentry.Entry
	for _, k := range keys {
		entries = append(entries, bucketentry.Live(ledger.Entry{Key: ledger.Key{Raw: []byte(k)}, Data: []byte(k)}))
	}
	b, err := bucket.Fresh(dir, bucketentry.FirstProtocolWithInitEntry, entries)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	return b
}

func TestFutureBucketLifecycle(t *testing.T) {
	dir := t.TempDir()
	old := freshBucket(t, dir, "a")
	newB := freshBucket(t, dir, "b")

	f := New()
	if f.State() != StateClear {
		t.Fatalf("expected Clear, got %s", f.State())
	}

	in := merge.Input{Dir: dir, Old: old, New: newB, Protocol: bucketentry.FirstProtocolWithInitEntry}
	if err := f.Start(context.Background(), in, merge.Run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.State() != StateRunning {
		t.Fatalf("expected Running, got %s", f.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, _, err := f.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out == nil {
		t.Fatal("expected a resolved output bucket")
	}
	if f.State() != StateResolved {
		t.Fatalf("expected Resolved, got %s", f.State())
	}

	hash, ok := f.SerializeResolved()
	if !ok || hash != out.Hash() {
		t.Fatalf("SerializeResolved mismatch: %s vs %s (ok=%v)", hash, out.Hash(), ok)
	}

	f.Clear()
	if f.State() != StateClear {
		t.Fatalf("expected Clear after Clear(), got %s", f.State())
	}
}

func TestRestoreInputsOnlyRoundTrip(t *testing.T) {
	r := Recipe{OldHash: bucket.EmptyHash, NewHash: bucket.EmptyHash, Protocol: bucketentry.FirstProtocolWithInitEntry}
	f := RestoreInputsOnly(r)
	if f.State() != StateInputsOnly {
		t.Fatalf("expected InputsOnly, got %s", f.State())
	}
	got, ok := f.SerializeInputsOnly()
	if !ok || !reflect.DeepEqual(got, r) {
		t.Fatalf("recipe round-trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestMarkAbortedUnblocksResolve(t *testing.T) {
	dir := t.TempDir()
	old := freshBucket(t, dir, "a")
	newB := freshBucket(t, dir, "b")

	f := New()
	blockCtx, cancelRunner := context.WithCancel(context.Background())
	defer cancelRunner()

	in := merge.Input{Dir: dir, Old: old, New: newB, Protocol: bucketentry.FirstProtocolWithInitEntry}
	if err := f.Start(context.Background(), in, func(ctx context.Context, i merge.Input) (merge.Result, error) {
		<-blockCtx.Done()
		return merge.Result{}, nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.MarkAborted()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := f.Resolve(ctx)
	if err == nil {
		t.Fatal("expected an aborted-merge error from Resolve")
	}
	cancelRunner()
}
