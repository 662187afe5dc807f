// Package archivestate implements HistoryArchiveState, the durable
// record of the bucket list's level slots and in-flight merges that lets
// a restarted process resume to bit-identical output. Grounded on the
// teacher's Manifest (pkg/persistance/manifest.go): same mutex-guarded
// JSON load/save-to-temp-then-rename shape, specialized from a table
// catalogue to per-level curr/snap/next state.
package archivestate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/bucketlist"
	"bucketnode/pkg/dberrors"
	"bucketnode/pkg/futurebucket"
)

// NextState tags what, if anything, a level's Next FutureBucket is doing.
type NextState string

const (
	NextClear  NextState = "clear"
	NextInput  NextState = "input"
	NextOutput NextState = "output"
)

// LevelState is the persisted form of one BucketLevel.
type LevelState struct {
	CurrHash string    `json:"curr_hash"`
	SnapHash string    `json:"snap_hash"`
	Next     NextState `json:"next_state"`

	// Populated iff Next == NextInput.
	OldHash      string   `json:"old_hash,omitempty"`
	NewHash      string   `json:"new_hash,omitempty"`
	ShadowHashes []string `json:"shadow_hashes,omitempty"`
	Protocol     uint32   `json:"protocol,omitempty"`
	BottomLevel  bool     `json:"bottom_level,omitempty"`

	// Populated iff Next == NextOutput.
	OutputHash string `json:"output_hash,omitempty"`
}

// State is the full HistoryArchiveState: the current ledger and every
// level's slot contents.
type State struct {
	CurrentLedger uint64       `json:"current_ledger"`
	Levels        []LevelState `json:"levels"`
}

// Store persists and restores State to a single JSON file, guarded by a
// mutex and written via a temp-file-then-rename to avoid ever publishing
// a torn file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store backed by <dir>/archivestate.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "archivestate.json")}
}

// Load reads the persisted state. Returns (State{}, false, nil) if no
// state file exists yet (fresh node).
func (s *Store) Load() (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("%w: read archive state: %v", dberrors.ErrIoError, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("%w: parse archive state: %v", dberrors.ErrBucketCorrupt, err)
	}
	return st, true, nil
}

// Save writes state to disk, replacing any prior version atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create archive state directory: %v", dberrors.ErrIoError, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("archivestate: marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write archive state: %v", dberrors.ErrIoError, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: publish archive state: %v", dberrors.ErrIoError, err)
	}
	return nil
}

// Capture builds a State snapshot from a live BucketList's levels at the
// given ledger sequence.
func Capture(currentLedger uint64, bl *bucketlist.BucketList) State {
	st := State{CurrentLedger: currentLedger, Levels: make([]LevelState, bucketlist.NumLevels)}
	for i := 0; i < bucketlist.NumLevels; i++ {
		lvl := bl.Level(i)
		ls := LevelState{
			CurrHash: hashOf(lvl.Curr),
			SnapHash: hashOf(lvl.Snap),
			Next:     NextClear,
		}
		if lvl.Next != nil {
			switch lvl.Next.State() {
			case futurebucket.StateResolved:
				if h, ok := lvl.Next.SerializeResolved(); ok {
					ls.Next = NextOutput
					ls.OutputHash = h
				}
			case futurebucket.StateRunning, futurebucket.StateInputsOnly:
				if r, ok := lvl.Next.SerializeInputsOnly(); ok {
					ls.Next = NextInput
					ls.OldHash = r.OldHash
					ls.NewHash = r.NewHash
					ls.ShadowHashes = r.ShadowHashes
					ls.Protocol = r.Protocol
					ls.BottomLevel = r.BottomLevel
				}
			}
		}
		st.Levels[i] = ls
	}
	return st
}

func hashOf(b *bucket.Bucket) string {
	if b == nil {
		return bucket.EmptyHash
	}
	return b.Hash()
}

// Restore rebuilds a BucketList's levels from a persisted State. Running
// merges are reconstructed as InputsOnly per spec.md: FutureBucket.Resume,
// called from the next AddBatch that needs them resolved, reopens their
// old/new/shadow buckets and restarts the merge from scratch, since only a
// stable checkpoint would have let us skip the restart, and checkpoints
// are not persisted across process lifetimes by this store. The restart
// must reconcile to identical output.
func Restore(ctx context.Context, dir string, st State, bl *bucketlist.BucketList) error {
	for i, ls := range st.Levels {
		lvl := bl.Level(i)

		curr, err := bucket.Open(dir, ls.CurrHash)
		if err != nil {
			return err
		}
		lvl.Curr = curr

		snap, err := bucket.Open(dir, ls.SnapHash)
		if err != nil {
			return err
		}
		lvl.Snap = snap

		switch ls.Next {
		case NextOutput:
			out, err := bucket.Open(dir, ls.OutputHash)
			if err != nil {
				return err
			}
			lvl.Next = futurebucket.RestoreResolved(out)
		case NextInput:
			lvl.Next = futurebucket.RestoreInputsOnly(futurebucket.Recipe{
				OldHash:      ls.OldHash,
				NewHash:      ls.NewHash,
				ShadowHashes: ls.ShadowHashes,
				Protocol:     ls.Protocol,
				BottomLevel:  ls.BottomLevel,
			})
		default:
			lvl.Next = futurebucket.New()
		}
	}
	return nil
}

// CheckMissingBucketFiles is the restart preflight: verify that every
// bucket hash named in st actually has a file on disk before the ledger
// close path trusts it. Supplements spec.md from
// BucketManager::checkForMissingBucketsFiles, which the distilled spec
// omitted.
func CheckMissingBucketFiles(dir string, st State) []string {
	var missing []string
	seen := map[string]bool{}
	check := func(hash string) {
		if hash == "" || hash == bucket.EmptyHash || seen[hash] {
			return
		}
		seen[hash] = true
		if _, err := os.Stat(filepath.Join(dir, bucket.FileName(hash))); err != nil {
			missing = append(missing, hash)
		}
	}
	for _, ls := range st.Levels {
		check(ls.CurrHash)
		check(ls.SnapHash)
		check(ls.OldHash)
		check(ls.NewHash)
		check(ls.OutputHash)
		for _, h := range ls.ShadowHashes {
			check(h)
		}
	}
	return missing
}
