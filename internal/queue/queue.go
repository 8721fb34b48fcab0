// Package queue implements the shared moderation queue: a max-priority
// queue of completed abuse reports ordered by descending severity, with
// FIFO tie-breaking so that equal-severity reports are moderated in the
// order they arrived. The queue is shared by every moderator in a
// deployment and guarded by a mutex because NATS delivers events on
// arbitrary goroutines.
package queue

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/vigil/modbot/internal/report"
)

// ErrEmpty is returned by Dequeue when no reports are waiting. It is a
// signal, not a failure: the moderator is simply told there is nothing
// to review.
var ErrEmpty = errors.New("queue: no reports to moderate")

// item pairs a report with its insertion sequence number. The sequence
// number makes the ordering total: higher severity first, then earliest
// insertion.
type item struct {
	record *report.Record
	seq    uint64
}

// reportHeap implements heap.Interface over items.
type reportHeap []item

func (h reportHeap) Len() int { return len(h) }

func (h reportHeap) Less(i, j int) bool {
	si, sj := h[i].record.Severity(), h[j].record.Severity()
	if si != sj {
		return si > sj
	}
	return h[i].seq < h[j].seq
}

func (h reportHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reportHeap) Push(x interface{}) { *h = append(*h, x.(item)) }

func (h *reportHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

// Queue is the concurrency-safe moderation queue.
type Queue struct {
	mu      sync.Mutex
	items   reportHeap
	nextSeq uint64
}

// New creates an empty moderation queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue inserts a completed report. Severity is read from the record
// at insertion and again on every comparison, so records must not have
// severity-affecting fields mutated while queued.
func (q *Queue) Enqueue(rec *report.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.items, item{record: rec, seq: q.nextSeq})
	q.nextSeq++
}

// Dequeue removes and returns the highest-severity report, breaking ties
// by insertion order. Returns ErrEmpty if the queue is empty.
func (q *Queue) Dequeue() (*report.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrEmpty
	}
	it := heap.Pop(&q.items).(item)
	return it.record, nil
}

// PeekAll returns every queued report in severity order (ties FIFO)
// without mutating the queue. Used by the "show reports" listing.
func (q *Queue) PeekAll() []*report.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Pop from a copy to produce the exact dequeue order.
	cp := make(reportHeap, len(q.items))
	copy(cp, q.items)
	heap.Init(&cp)

	out := make([]*report.Record, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(item).record)
	}
	return out
}

// Size returns the number of queued reports.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
