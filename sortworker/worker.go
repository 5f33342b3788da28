package sortworker

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// request is one pending sort call: a snapshot of the buffers and the
// callback to invoke on completion.
type request struct {
	n     int
	depth []uint32
	out   []int
	done  func(active int, err error)
}

// Worker is the single exclusive depth-sort service. It is backed by a
// size-1 automation.DynamicWorkerPool, the same bounded worker-pool type
// used elsewhere for per-frame compute dispatch, since a re-entrant sort
// must never run concurrently with itself, but still must not block the
// caller's goroutine across the sort.
type Worker struct {
	mu          sync.Mutex
	pool        worker.DynamicWorkerPool
	busy        bool
	dirty       bool
	pending     request
	disposed    bool
	minInterval time.Duration
	lastStart   time.Time
	taskID      int
}

// New creates a Worker enforcing minInterval between the start of
// consecutive sorts.
func New(minInterval time.Duration) *Worker {
	return &Worker{
		pool:        worker.NewDynamicWorkerPool(1, 64, time.Second),
		minInterval: minInterval,
	}
}

// Submit kicks a sort of the first n entries of depth into out, invoking
// done asynchronously with the result. If the worker is already Busy, this
// request is coalesced: only the most recently submitted request survives,
// and it runs immediately once the in-flight sort completes.
func (w *Worker) Submit(n int, depth []uint32, out []int, done func(active int, err error)) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return newError(Disposed, "submit", nil)
	}
	if w.busy {
		w.dirty = true
		w.pending = request{n: n, depth: depth, out: out, done: done}
		w.mu.Unlock()
		return nil
	}
	w.busy = true
	w.mu.Unlock()

	w.dispatch(request{n: n, depth: depth, out: out, done: done})
	return nil
}

// Dispose tears down the worker; any in-flight sort still completes, but
// future Submit calls fail with Disposed.
func (w *Worker) Dispose() {
	w.mu.Lock()
	w.disposed = true
	w.mu.Unlock()
}

func (w *Worker) dispatch(req request) {
	wait := w.minInterval - time.Since(w.lastStart)

	go func() {
		if wait > 0 {
			time.Sleep(wait)
		}

		w.mu.Lock()
		w.taskID++
		id := w.taskID
		w.mu.Unlock()

		w.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				w.mu.Lock()
				w.lastStart = time.Now()
				w.mu.Unlock()

				active, err := Sort32(req.n, req.depth, req.out)
				if req.done != nil {
					req.done(active, err)
				}

				w.mu.Lock()
				if w.dirty {
					next := w.pending
					w.dirty = false
					w.mu.Unlock()
					w.dispatch(next)
				} else {
					w.busy = false
					w.mu.Unlock()
				}
				return nil, err
			},
		})
	}()
}
