package scheduler

import (
	"container/heap"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// queueItem is a queued job with its position in the heap
type queueItem struct {
	job   *models.Job
	index int
}

// jobQueue orders jobs by priority (highest first), then enqueue time, then arrival
// sequence. It is owned by the dispatch loop and never shared.
type jobQueue []*queueItem

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	a, b := q[i].job, q[j].job
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Sequence < b.Sequence
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (q *jobQueue) push(job *models.Job) *queueItem {
	item := &queueItem{job: job}
	heap.Push(q, item)
	return item
}

func (q *jobQueue) pop() *models.Job {
	return heap.Pop(q).(*queueItem).job
}

func (q *jobQueue) remove(item *queueItem) {
	if item.index >= 0 && item.index < q.Len() {
		heap.Remove(q, item.index)
	}
}
