// Package queue implements the local job queue and worker pool
// (spec §4.5, §5): a bounded, priority-ordered FIFO feeding N worker
// goroutines that execute Jobs non-preemptively. Grounded on the
// teacher's internal/batch.go scheduler, which runs a fixed worker count
// over an errgroup and a channel of ready nodes; this package generalizes
// that into a priority queue (longest-pole-first, spec's Job.Priority)
// instead of batch.go's plain FIFO channel, since distribution means a
// Job may need to wait behind others under resource pressure.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/forgebuild/forge/internal/graph"
)

// Handler executes one Job. It is called from a worker goroutine; the
// queue makes no promise about which worker number runs a given Job
// (spec §5: "non-preemptive", workers are otherwise interchangeable).
type Handler func(ctx context.Context, job *graph.Job) error

// item is one entry in the internal priority heap.
type item struct {
	job   *graph.Job
	index int
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	// Higher Priority runs first (spec: "longest pole first").
	return h[i].job.Priority > h[j].job.Priority
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded, priority-ordered, multi-producer/multi-consumer job
// queue (spec §5 "lock-protected bounded FIFO with condition variables for
// fullness/emptiness" — here a mutex + two sync.Cond play that role, and a
// heap replaces the plain FIFO ordering to honor Job.Priority).
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    priorityHeap
	capacity int
	closed   bool
}

// New returns an empty Queue bounded to capacity pending Jobs.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues job, blocking while the queue is at capacity. It returns
// false if the queue was closed before job could be enqueued.
func (q *Queue) Push(job *graph.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}
	heap.Push(&q.items, &item{job: job})
	q.notEmpty.Signal()
	return true
}

// Pop dequeues the highest-priority job, blocking while the queue is
// empty. It returns false once the queue is closed and drained.
func (q *Queue) Pop() (*graph.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*item)
	q.notFull.Signal()
	return it.job, true
}

// Close marks the queue closed: blocked Pushes are released (and fail),
// and Pops drain any remaining items before reporting closed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the number of pending Jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run starts n worker goroutines pulling Jobs from q and invoking handler,
// until ctx is cancelled or q is closed and drained. It returns the first
// handler error encountered (mirroring the teacher's errgroup.WithContext
// use in batch.go's scheduler.run), cancelling ctx for the remaining
// workers per errgroup's contract.
func Run(ctx context.Context, q *Queue, n int, handler Handler) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				job, ok := q.Pop()
				if !ok {
					return nil
				}
				if err := handler(ctx, job); err != nil {
					return err
				}
			}
		})
	}
	return eg.Wait()
}
