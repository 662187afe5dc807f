package bucketmanager

import (
	"context"
	"sync"

	"bucketnode/pkg/merge"
)

// WorkerPool bounds how many merges run concurrently, the way the
// teacher bounds concurrent flushes through a single consumer goroutine
// per Listener (pkg/listener/listener.go); here the bound is a fixed
// pool size rather than one, since the spec calls for several workers
// draining the merge queue. Drained on shutdown: outstanding merges are
// waited out. The pool does not know about FutureBuckets and does not
// change their state; a future that was Running stays Running.
type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	runner func(context.Context, merge.Input) (merge.Result, error)
}

// NewWorkerPool returns a pool that runs at most size merges at once,
// each one executed by runner (normally merge.Run).
func NewWorkerPool(size int, runner func(context.Context, merge.Input) (merge.Result, error)) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size), runner: runner}
}

// Run blocks until a worker slot is free, then executes the merge. It is
// passed directly as a bucketlist.Runner.
func (p *WorkerPool) Run(ctx context.Context, in merge.Input) (merge.Result, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return merge.Result{}, ctx.Err()
	}
	p.wg.Add(1)
	defer func() {
		p.wg.Done()
		<-p.sem
	}()

	return p.runner(ctx, in)
}

// Drain waits for every in-flight merge to finish. Callers that want a
// bounded shutdown should cancel the context passed to Run first; merges
// observing ctx.Done() return dberrors.ErrMergeAborted and Drain
// unblocks promptly.
func (p *WorkerPool) Drain() {
	p.wg.Wait()
}
