// Package bucketmanager implements BucketManager: the on-disk bucket
// directory, the hash-to-bucket interning cache with reference-counted
// garbage collection, the merge worker pool, the skip-list calculation,
// and the ledger-close adapter that drives BucketList.AddBatch. Grounded
// on the teacher's Store (pkg/store/store.go) for the overall
// constructor/close shape — a sequence number clock plus a background
// worker, persisted metadata loaded at startup — generalized from a
// WAL-backed KV store to a bucket-list-backed ledger-close sink.
package bucketmanager

import (
	"context"
	"fmt"
	"log/slog"

	"bucketnode/pkg/archivestate"
	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/bucketlist"
	"bucketnode/pkg/clock"
	"bucketnode/pkg/dberrors"
	"bucketnode/pkg/ledger"
	"bucketnode/pkg/merge"
	"bucketnode/pkg/metrics"
)

// Manager owns everything the bucket list needs to survive a process
// lifetime: the interning cache, the worker pool merges run on, the
// skip list, and the durable archive state that lets a restart resume
// to bit-identical output.
type Manager struct {
	dir      string
	log      *slog.Logger
	metrics  metrics.Collector
	protocol uint32

	cache *internCache
	pool  *WorkerPool
	bl    *bucketlist.BucketList
	store *archivestate.Store

	lastClosed *clock.AtomicClock
	skipList   SkipList

	// trackedCounts is the previous ledger close's multiset of curr, snap
	// and live-Next recipe hashes across levels, diffed against the current one each
	// AddBatch to turn level membership into hold()/release() calls.
	trackedCounts map[string]int
}

// Config controls Manager construction.
type Config struct {
	Dir         string
	Protocol    uint32
	WorkerCount int
	Logger      *slog.Logger
	Metrics     metrics.Collector
}

// New opens dir (creating its archive-state store if absent), restores
// any persisted HistoryArchiveState, and returns a ready Manager. Running
// merges left by a prior process are reconstructed as input-only recipes
// per spec.md's restart protocol — AddBatch will restart them from
// scratch the next time a snap needs them resolved.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}

	m := &Manager{
		dir:        cfg.Dir,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		protocol:   cfg.Protocol,
		cache:      newInternCache(cfg.Dir),
		lastClosed: clock.NewAtomic(0),
		skipList:   NewSkipList(),
		store:      archivestate.NewStore(cfg.Dir),
	}
	m.pool = NewWorkerPool(cfg.WorkerCount, merge.Run)
	m.bl = bucketlist.New(cfg.Dir, m.pool.Run)

	st, ok, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		if missing := archivestate.CheckMissingBucketFiles(cfg.Dir, st); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %d bucket file(s) missing at restart: %v", dberrors.ErrBucketCorrupt, len(missing), missing)
		}

		if err := archivestate.Restore(ctx, cfg.Dir, st, m.bl); err != nil {
			return nil, fmt.Errorf("bucketmanager: restore archive state: %w", err)
		}
		m.lastClosed.Set(st.CurrentLedger)
		m.log.Info("restored bucket list from archive state", "current_ledger", st.CurrentLedger)
	}

	return m, nil
}

// Batch is the (init, live, dead) triple the ledger-txn collaborator
// hands to AddBatch for one closed ledger.
type Batch struct {
	Init []ledger.Entry
	Live []ledger.Entry
	Dead []ledger.Key
}

// AddBatch is the ledger-close adapter: it validates the batch, folds it
// into the bucket list, rolls the skip list forward, persists the
// resulting archive state, and runs the reference-counted GC sweep.
// Idempotent-per-ledger: re-running on an already-closed ledger is
// rejected, gated on ledgerSeq == lastClosed+1.
func (m *Manager) AddBatch(ctx context.Context, ledgerSeq uint64, batch Batch) (blHash string, skipList SkipList, err error) {
	if want := m.lastClosed.Val() + 1; ledgerSeq != want {
		return "", SkipList{}, fmt.Errorf("%w: addBatch(%d) called, expected ledger %d", dberrors.ErrBatchInvariantViolated, ledgerSeq, want)
	}

	entries, err := toEntries(batch)
	if err != nil {
		return "", SkipList{}, err
	}

	blHash, err = m.bl.AddBatch(ctx, ledgerSeq, m.protocol, entries)
	if err != nil {
		return "", SkipList{}, err
	}

	m.lastClosed.Set(ledgerSeq)
	m.skipList = Roll(m.skipList, ledgerSeq, blHash)

	m.trackLevels()

	if err := m.store.Save(archivestate.Capture(ledgerSeq, m.bl)); err != nil {
		return "", SkipList{}, err
	}

	collected := m.cache.forgetUnreferenced()
	if len(collected) > 0 {
		m.log.Debug("forgot unreferenced buckets", "count", len(collected))
	}
	m.metrics.SetGauge("bucketlist_ledger", nil, float64(ledgerSeq))

	return blHash, m.skipList, nil
}

// toEntries validates the batch invariant (no key in more than one list)
// and flattens it into bucketentry records for Bucket::fresh.
func toEntries(b Batch) ([]bucketentry.Entry, error) {
	seen := make(map[string]struct{}, len(b.Init)+len(b.Live)+len(b.Dead))
	out := make([]bucketentry.Entry, 0, len(b.Init)+len(b.Live)+len(b.Dead))

	add := func(key []byte) error {
		k := string(key)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: key appears in more than one of init/live/dead", dberrors.ErrBatchInvariantViolated)
		}
		seen[k] = struct{}{}
		return nil
	}

	for _, e := range b.Init {
		if err := add(e.Key.Raw); err != nil {
			return nil, err
		}
		out = append(out, bucketentry.Init(e))
	}
	for _, e := range b.Live {
		if err := add(e.Key.Raw); err != nil {
			return nil, err
		}
		out = append(out, bucketentry.Live(e))
	}
	for _, k := range b.Dead {
		if err := add(k.Raw); err != nil {
			return nil, err
		}
		out = append(out, bucketentry.Dead(k))
	}
	return out, nil
}

// trackLevels recomputes the bucket list's current (curr, snap, and
// live-FutureBucket-input) hash multiset and diffs it against the
// previous ledger close's, turning hashes that newly appear into hold()
// calls and hashes that disappear into release() calls. This keeps the
// interning cache's refcounts equal to actual level membership, enforcing
// invariant I4: every bucket is owned by the list, a FutureBucket input,
// the archive state, or scheduled for deletion.
//
// A level's Next is walked via SerializeInputsOnly, which returns the
// exact old/new/shadow hashes a Running merge was Started with — not
// whatever those levels' curr/snap happen to hold right now. That
// distinction matters: AddBatch starts a merge against curr_{i+2} as a
// shadow and then, later in the same call, a deeper level's own snap can
// resolve and overwrite curr_{i+2}. Diffing only curr/snap would drop the
// old curr_{i+2} hash from the multiset the instant it's replaced, racing
// forgetUnreferenced's os.Remove against the in-flight merge's
// NewIterator. Counting the live Next's recipe hashes too keeps that
// input held until the merge actually resolves or clears.
func (m *Manager) trackLevels() {
	next := make(map[string]int, bucketlist.NumLevels*4)
	for i := 0; i < bucketlist.NumLevels; i++ {
		lvl := m.bl.Level(i)
		incrCount(next, hashOf(lvl.Curr))
		incrCount(next, hashOf(lvl.Snap))
		if lvl.Next == nil {
			continue
		}
		if r, ok := lvl.Next.SerializeInputsOnly(); ok {
			incrCount(next, r.OldHash)
			incrCount(next, r.NewHash)
			for _, h := range r.ShadowHashes {
				incrCount(next, h)
			}
		}
	}

	for hash, count := range next {
		for prev := m.trackedCounts[hash]; prev < count; prev++ {
			m.cache.hold(hash)
		}
	}
	for hash, prevCount := range m.trackedCounts {
		for count := next[hash]; prevCount > count; prevCount-- {
			m.cache.release(hash)
		}
	}
	m.trackedCounts = next
}

func incrCount(counts map[string]int, hash string) {
	if hash == "" {
		return
	}
	counts[hash]++
}

func hashOf(b *bucket.Bucket) string {
	if b == nil {
		return ""
	}
	return b.Hash()
}

// GetBucketByHash returns the shared bucket object for hash, reading it
// from disk and interning it if this process has not seen it yet.
func (m *Manager) GetBucketByHash(hash string) (*bucket.Bucket, error) {
	return m.cache.getOrOpen(hash)
}

// Adopt hashes srcPath, renames it into the bucket directory under its
// canonical name, and interns it. Supplements spec.md from
// BucketManager::adoptFileAsBucket (original_source/), used when a
// bucket arrives from outside the merge engine (e.g. a history-archive
// download, out of scope here beyond this entry point).
func (m *Manager) Adopt(srcPath string) (*bucket.Bucket, error) {
	return m.cache.adopt(srcPath)
}

// ForgetUnreferencedBuckets runs the GC sweep immediately, outside the
// normal once-per-ledger-close cadence. Returns the hashes collected.
func (m *Manager) ForgetUnreferencedBuckets() []string {
	return m.cache.forgetUnreferenced()
}

// ReadMergeCounters returns the running MergeCounters total.
func (m *Manager) ReadMergeCounters() merge.Counters {
	return m.bl.Counters()
}

// IncrMergeCounters folds delta into the running total; used by a
// restart path to re-add an in-flight merge's pre-restart snapshot
// without double-counting once it completes.
func (m *Manager) IncrMergeCounters(delta merge.Counters) {
	m.bl.IncrCounters(delta)
}

// SkipList returns the current 4-slot skip list.
func (m *Manager) SkipList() SkipList { return m.skipList }

// BucketListHash returns BL.hash for the current state.
func (m *Manager) BucketListHash() (string, error) { return m.bl.Hash() }

// ArchiveState returns the HistoryArchiveState snapshot a restart would
// persist right now, for read-only inspection.
func (m *Manager) ArchiveState() archivestate.State {
	return archivestate.Capture(m.lastClosed.Val(), m.bl)
}

// LastClosedLedger returns the sequence number of the last ledger this
// manager successfully closed.
func (m *Manager) LastClosedLedger() uint64 { return m.lastClosed.Val() }

// Shutdown waits for the worker pool to drain, or until ctx is done,
// whichever comes first. It does not cancel running merges: a merge
// aborts with ErrMergeAborted only when the context it was started with
// (the one passed to AddBatch) is canceled. FutureBuckets are left in
// whatever state they are in; a restart rebuilds them from the archive
// state saved by the last AddBatch.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.pool.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("shutdown timed out waiting for merge workers to drain")
	}
}
