package merge

import "sync"

// Counters accumulates MergeCounters: named, monotonically non-decreasing
// 64-bit counters, one set per merge, aggregated into a running
// process-wide total by the bucket manager. Field names and grouping
// follow spec.md's MergeCounters table, which in turn mirrors
// BucketManager.h's mergeCounters struct field-for-field.
type Counters struct {
	// Protocol split.
	PreInitEntryProtocolMerges  uint64
	PostInitEntryProtocolMerges uint64

	// Per-kind emitted/consumed.
	NewMetaCount uint64
	NewInitCount uint64
	NewLiveCount uint64
	NewDeadCount uint64
	OldMetaCount uint64
	OldInitCount uint64
	OldLiveCount uint64
	OldDeadCount uint64

	// Reconciliation outcomes.
	OldEntriesDefaultAccepted         uint64
	NewEntriesDefaultAccepted         uint64
	NewInitEntriesMergedWithOldDead   uint64
	OldInitEntriesMergedWithNewLive   uint64
	OldInitEntriesMergedWithNewDead   uint64
	NewEntriesMergedWithOldNeitherInit uint64

	// Shadows.
	ShadowScanSteps         uint64
	MetaEntryShadowElisions uint64
	LiveEntryShadowElisions uint64
	InitEntryShadowElisions uint64
	DeadEntryShadowElisions uint64

	// Output.
	OutputIteratorTombstoneElisions uint64
	OutputIteratorBufferUpdates    uint64
	OutputIteratorActualWrites     uint64
}

// Add returns the field-wise sum of c and o. Used both to merge a single
// merge's counters into the process-wide total and to re-add a
// pre-restart snapshot after a merge resumes, per spec.md's additivity
// rule.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		PreInitEntryProtocolMerges:         c.PreInitEntryProtocolMerges + o.PreInitEntryProtocolMerges,
		PostInitEntryProtocolMerges:        c.PostInitEntryProtocolMerges + o.PostInitEntryProtocolMerges,
		NewMetaCount:                       c.NewMetaCount + o.NewMetaCount,
		NewInitCount:                       c.NewInitCount + o.NewInitCount,
		NewLiveCount:                       c.NewLiveCount + o.NewLiveCount,
		NewDeadCount:                       c.NewDeadCount + o.NewDeadCount,
		OldMetaCount:                       c.OldMetaCount + o.OldMetaCount,
		OldInitCount:                       c.OldInitCount + o.OldInitCount,
		OldLiveCount:                       c.OldLiveCount + o.OldLiveCount,
		OldDeadCount:                       c.OldDeadCount + o.OldDeadCount,
		OldEntriesDefaultAccepted:          c.OldEntriesDefaultAccepted + o.OldEntriesDefaultAccepted,
		NewEntriesDefaultAccepted:          c.NewEntriesDefaultAccepted + o.NewEntriesDefaultAccepted,
		NewInitEntriesMergedWithOldDead:    c.NewInitEntriesMergedWithOldDead + o.NewInitEntriesMergedWithOldDead,
		OldInitEntriesMergedWithNewLive:    c.OldInitEntriesMergedWithNewLive + o.OldInitEntriesMergedWithNewLive,
		OldInitEntriesMergedWithNewDead:    c.OldInitEntriesMergedWithNewDead + o.OldInitEntriesMergedWithNewDead,
		NewEntriesMergedWithOldNeitherInit: c.NewEntriesMergedWithOldNeitherInit + o.NewEntriesMergedWithOldNeitherInit,
		ShadowScanSteps:                    c.ShadowScanSteps + o.ShadowScanSteps,
		MetaEntryShadowElisions:            c.MetaEntryShadowElisions + o.MetaEntryShadowElisions,
		LiveEntryShadowElisions:            c.LiveEntryShadowElisions + o.LiveEntryShadowElisions,
		InitEntryShadowElisions:            c.InitEntryShadowElisions + o.InitEntryShadowElisions,
		DeadEntryShadowElisions:            c.DeadEntryShadowElisions + o.DeadEntryShadowElisions,
		OutputIteratorTombstoneElisions:    c.OutputIteratorTombstoneElisions + o.OutputIteratorTombstoneElisions,
		OutputIteratorBufferUpdates:        c.OutputIteratorBufferUpdates + o.OutputIteratorBufferUpdates,
		OutputIteratorActualWrites:         c.OutputIteratorActualWrites + o.OutputIteratorActualWrites,
	}
}

// AtomicCounters is a process-wide running total, read and incremented
// under a single short critical section the way the teacher's memtable
// protects its rotation state with one mutex.
type AtomicCounters struct {
	mu    sync.Mutex
	total Counters
}

// Read returns a snapshot of the running total.
func (ac *AtomicCounters) Read() Counters {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.total
}

// Incr folds delta into the running total.
func (ac *AtomicCounters) Incr(delta Counters) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.total = ac.total.Add(delta)
}
