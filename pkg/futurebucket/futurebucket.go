// Package futurebucket implements FutureBucket, a handle to a merge that
// is clear, input-only (recipe known, not started), running (a worker is
// computing it), or resolved (output bucket known). Grounded on the
// teacher's generic Listener[T] one-shot channel pattern
// (pkg/listener/listener.go): Running holds exactly one buffered result
// channel, into which the worker sends exactly one result when the merge
// finishes or fails.
package futurebucket

import (
	"context"
	"fmt"
	"sync"

	"bucketnode/pkg/bucket"
	"bucketnode/pkg/dberrors"
	"bucketnode/pkg/merge"
)

// State is the FutureBucket's lifecycle stage.
type State uint8

const (
	StateClear State = iota
	StateInputsOnly
	StateRunning
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateInputsOnly:
		return "inputs-only"
	case StateRunning:
		return "running"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Recipe is the input-only serializable form: the merge has not started,
// or has not reached a stable checkpoint, so restart re-derives it from
// scratch and must reconcile to identical output.
type Recipe struct {
	OldHash     string
	NewHash     string
	ShadowHashes []string
	Protocol    uint32
	BottomLevel bool
}

type result struct {
	bucket *bucket.Bucket
	ctrs   merge.Counters
	err    error
}

// FutureBucket is not safe for concurrent calls to Start; Resolve and
// Clear may be called concurrently with each other and with a completing
// worker.
type FutureBucket struct {
	mu    sync.Mutex
	state State

	recipe Recipe
	done   chan result // receives the worker's one result when Running completes
	output *bucket.Bucket
	ctrs   merge.Counters
	err    error
}

// New returns a Clear FutureBucket.
func New() *FutureBucket {
	return &FutureBucket{state: StateClear}
}

// State returns the current lifecycle stage.
func (f *FutureBucket) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsMerging reports whether a worker is currently computing this future.
func (f *FutureBucket) IsMerging() bool {
	return f.State() == StateRunning
}

// Start transitions Clear (or InputsOnly, on restart) to Running and
// launches the merge on runner, a function that invokes the merge engine
// (bound by the caller to a specific worker-pool submission). It is the
// caller's responsibility to serialize Start calls against a single
// FutureBucket.
func (f *FutureBucket) Start(ctx context.Context, in merge.Input, runner func(context.Context, merge.Input) (merge.Result, error)) error {
	f.mu.Lock()
	if f.state == StateRunning {
		f.mu.Unlock()
		return fmt.Errorf("futurebucket: Start called while already running")
	}
	f.recipe = Recipe{
		OldHash:      in.Old.Hash(),
		NewHash:      in.New.Hash(),
		ShadowHashes: hashes(in.Shadows),
		Protocol:     in.Protocol,
		BottomLevel:  in.BottomLevel,
	}
	f.state = StateRunning
	f.done = make(chan result, 1)
	done := f.done
	f.mu.Unlock()

	go func() {
		res, err := runner(ctx, in)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{bucket: res.Output, ctrs: res.Counters}
	}()

	return nil
}

// Resume reconstructs a merge.Input from a restored InputsOnly recipe by
// reopening its old/new/shadow buckets under dir, then calls Start to
// relaunch the merge. Called on anything but InputsOnly it is a no-op, so
// callers can call it unconditionally before Resolve. This is what makes
// a restart's "resolve the next spill that needs it" path actually
// restart the merge from scratch rather than hang or error, per the
// archive-state restore contract.
func (f *FutureBucket) Resume(ctx context.Context, dir string, runner func(context.Context, merge.Input) (merge.Result, error)) error {
	f.mu.Lock()
	if f.state != StateInputsOnly {
		f.mu.Unlock()
		return nil
	}
	r := f.recipe
	f.mu.Unlock()

	old, err := bucket.Open(dir, r.OldHash)
	if err != nil {
		return fmt.Errorf("futurebucket: resume: open old bucket: %w", err)
	}
	newB, err := bucket.Open(dir, r.NewHash)
	if err != nil {
		return fmt.Errorf("futurebucket: resume: open new bucket: %w", err)
	}
	shadows := make([]*bucket.Bucket, len(r.ShadowHashes))
	for i, h := range r.ShadowHashes {
		shadows[i], err = bucket.Open(dir, h)
		if err != nil {
			return fmt.Errorf("futurebucket: resume: open shadow bucket %d: %w", i, err)
		}
	}

	in := merge.Input{
		Dir:         dir,
		Old:         old,
		New:         newB,
		Shadows:     shadows,
		Protocol:    r.Protocol,
		BottomLevel: r.BottomLevel,
	}
	return f.Start(ctx, in, runner)
}

// Resolve blocks until Running completes, transitioning to Resolved, and
// returns the output bucket. If the future is already Resolved it
// returns immediately. Calling it on InputsOnly without first calling
// Resume, or on Clear, is an error.
func (f *FutureBucket) Resolve(ctx context.Context) (*bucket.Bucket, merge.Counters, error) {
	f.mu.Lock()
	switch f.state {
	case StateResolved:
		b, c, e := f.output, f.ctrs, f.err
		f.mu.Unlock()
		return b, c, e
	case StateRunning:
		done := f.done
		f.mu.Unlock()
		select {
		case r := <-done:
			f.mu.Lock()
			f.state = StateResolved
			f.output, f.ctrs, f.err = r.bucket, r.ctrs, r.err
			b, c, e := f.output, f.ctrs, f.err
			f.mu.Unlock()
			return b, c, e
		case <-ctx.Done():
			return nil, merge.Counters{}, ctx.Err()
		}
	default:
		f.mu.Unlock()
		return nil, merge.Counters{}, fmt.Errorf("futurebucket: Resolve called in state %s", f.state)
	}
}

// Clear collapses the future back to Clear, discarding any in-progress
// or resolved merge. bucketlist.AddBatch calls it once a resolved merge's
// output has been installed in the next level. Nothing on the shutdown
// path calls it: draining the worker pool leaves futures as they are.
func (f *FutureBucket) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClear
	f.recipe = Recipe{}
	f.done = nil
	f.output = nil
	f.err = nil
}

// MarkAborted stores ErrMergeAborted as a Running future's result so a
// blocked Resolve caller (if any) unblocks with that error instead of
// waiting for the worker; the next Resolve moves the future to Resolved
// with that error. It does nothing in any other state. The worker pool's
// Drain does not call it.
func (f *FutureBucket) MarkAborted() {
	f.mu.Lock()
	done := f.done
	running := f.state == StateRunning
	f.mu.Unlock()
	if running && done != nil {
		select {
		case done <- result{err: dberrors.ErrMergeAborted}:
		default:
		}
	}
}

// SerializeInputsOnly returns the persisted recipe form. Valid in any
// state except Clear; for Running it is the recipe the in-flight merge
// was started from, for Resolved it is the recipe that produced the
// output (restart would recompute the same output, were it needed). A
// future rebuilt by RestoreResolved carries no recipe and returns an
// empty Recipe with ok == true.
func (f *FutureBucket) SerializeInputsOnly() (Recipe, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateClear {
		return Recipe{}, false
	}
	return f.recipe, true
}

// SerializeResolved returns the output hash if Resolved.
func (f *FutureBucket) SerializeResolved() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateResolved || f.output == nil {
		return "", false
	}
	return f.output.Hash(), true
}

// RestoreInputsOnly reconstructs an InputsOnly future from a persisted
// recipe, as done on process restart per the archive-state protocol.
func RestoreInputsOnly(r Recipe) *FutureBucket {
	return &FutureBucket{state: StateInputsOnly, recipe: r}
}

// RestoreResolved reconstructs a Resolved future directly from a known
// output bucket, skipping re-merge entirely.
func RestoreResolved(b *bucket.Bucket) *FutureBucket {
	return &FutureBucket{state: StateResolved, output: b}
}

func hashes(bs []*bucket.Bucket) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Hash()
	}
	return out
}
