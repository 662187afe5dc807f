// Package bucketlist implements BucketLevel and BucketList: the 11-level
// geometry that spills, snaps and prepares merges as ledgers close, and
// computes the bucket list's composite hash. Grounded on the teacher's
// LevelManager (pkg/persistence/levels.go) for the level-array shape and
// curr/next bookkeeping, generalized from LSM tiering (merge-on-size) to
// this domain's merge-on-ledger-sequence geometry.
package bucketlist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketentry"
	"bucketnode/pkg/futurebucket"
	"bucketnode/pkg/merge"
)

// NumLevels is the fixed depth of the bucket list.
const NumLevels = 11

// Runner executes a merge; production code passes merge.Run, tests can
// substitute a stub.
type Runner func(context.Context, merge.Input) (merge.Result, error)

// Level holds one level's curr, snap and (if a spill is in flight) next
// FutureBucket, whose resolution replaces curr of the level below.
type Level struct {
	Curr *bucket.Bucket
	Snap *bucket.Bucket
	Next *futurebucket.FutureBucket
}

// BucketList is the ordered array of levels plus the bookkeeping needed
// to mutate it once per closed ledger.
type BucketList struct {
	dir      string
	levels   [NumLevels]*Level
	runner   Runner
	counters merge.AtomicCounters
}

// New returns an empty BucketList rooted at dir, where both incoming
// batch buckets and merge outputs are written.
func New(dir string, runner Runner) *BucketList {
	bl := &BucketList{dir: dir, runner: runner}
	for i := range bl.levels {
		bl.levels[i] = &Level{}
	}
	return bl
}

// Level returns level i (0 <= i < NumLevels), for inspection and for
// reconstructing archive state.
func (bl *BucketList) Level(i int) *Level { return bl.levels[i] }

// Counters returns the running MergeCounters total, including merges
// resolved by prior AddBatch calls.
func (bl *BucketList) Counters() merge.Counters { return bl.counters.Read() }

// IncrCounters folds delta into the running total. Exposed so a restart
// path can re-add a pre-restart snapshot of an in-flight merge's
// counters without double counting, per spec.md's additivity rule.
func (bl *BucketList) IncrCounters(delta merge.Counters) { bl.counters.Incr(delta) }

// half is the spill period for level i: half(0)=1, half(i)=4*half(i-1).
func half(i int) uint64 {
	h := uint64(1)
	for k := 0; k < i; k++ {
		h *= 4
	}
	return h
}

// AddBatch forms the incoming bucket from (init, live, dead), folds it
// into level 0, then evaluates every level's snap/spill-prepare
// condition for ledger N in ascending level order, finally returning the
// new BL.hash. Suspension (via FutureBucket.Resolve) happens only when a
// snap requires an in-flight next_i to finish, per the single-threaded
// main-loop contract.
func (bl *BucketList) AddBatch(ctx context.Context, n uint64, protocol uint32, entries []bucketentry.Entry) (string, error) {
	incoming, err := bucket.Fresh(bl.dir, protocol, entries)
	if err != nil {
		return "", err
	}

	if n > 1 {
		bl.levels[0].Snap = bl.levels[0].Curr
	}
	bl.levels[0].Curr = incoming

	for i := 0; i < NumLevels-1; i++ {
		hi := half(i)

		if n%hi == 0 {
			lvl := bl.levels[i]
			if lvl.Next != nil && lvl.Next.State() != futurebucket.StateClear {
				if err := lvl.Next.Resume(ctx, bl.dir, bl.runner); err != nil {
					return "", err
				}
				out, ctrs, err := lvl.Next.Resolve(ctx)
				if err != nil {
					return "", err
				}
				bl.levels[i+1].Curr = out
				bl.counters.Incr(ctrs)
				lvl.Next.Clear()
			}
			if i != 0 {
				// Level 0's snap was already populated above, from the
				// pre-batch curr_0, before curr_0 was overwritten with incoming.
				lvl.Snap = lvl.Curr
			}
		}

		if n%hi == hi/2 {
			lvl := bl.levels[i]
			if lvl.Snap == nil {
				continue // nothing to spill yet this early in the run
			}
			shadows := bl.shadowsFor(i)
			f := futurebucket.New()
			in := merge.Input{
				Dir:         bl.dir,
				Old:         orEmpty(bl.dir, bl.levels[i+1].Curr),
				New:         lvl.Snap,
				Shadows:     shadows,
				Protocol:    protocol,
				BottomLevel: i+1 == NumLevels-1,
			}
			if err := f.Start(ctx, in, bl.runner); err != nil {
				return "", err
			}
			lvl.Next = f
		}
	}

	return bl.Hash()
}

// shadowsFor returns curr_{i+2..NumLevels-1}, deepest level first.
func (bl *BucketList) shadowsFor(i int) []*bucket.Bucket {
	var shadows []*bucket.Bucket
	for d := NumLevels - 1; d >= i+2; d-- {
		if bl.levels[d].Curr != nil {
			shadows = append(shadows, bl.levels[d].Curr)
		}
	}
	return shadows
}

func orEmpty(dir string, b *bucket.Bucket) *bucket.Bucket {
	if b != nil {
		return b
	}
	empty, _ := bucket.Open(dir, bucket.EmptyHash)
	return empty
}

// Hash computes BL.hash = H(curr_0 || snap_0 || curr_1 || snap_1 || ... ||
// curr_10 || snap_10), with cleared slots contributing the empty
// bucket's hash.
func (bl *BucketList) Hash() (string, error) {
	h := sha256.New()
	for _, lvl := range bl.levels {
		if err := writeHash(h, lvl.Curr); err != nil {
			return "", err
		}
		if err := writeHash(h, lvl.Snap); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeHash(h io.Writer, b *bucket.Bucket) error {
	hexHash := bucket.EmptyHash
	if b != nil {
		hexHash = b.Hash()
	}
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return fmt.Errorf("bucketlist: decode bucket hash %s: %w", hexHash, err)
	}
	_, err = h.Write(raw)
	return err
}
