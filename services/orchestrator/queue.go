package orchestrator

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/meridiancrm/ai-core/models"
)

// Queue is a bounded priority queue of pending requests. Urgent pops before
// high, high before medium, medium before low; within one priority requests
// leave in submission order.
type Queue struct {
	mu       sync.Mutex
	items    requestHeap
	seq      uint64
	capacity int
}

// NewQueue creates a queue. A non-positive capacity selects the default.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultConfig().QueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Push adds a request. It fails when the queue is full rather than blocking
// the caller.
func (q *Queue) Push(req *models.AIRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return fmt.Errorf("queue is full (capacity %d)", q.capacity)
	}

	q.seq++
	heap.Push(&q.items, &queueItem{
		request: req,
		rank:    req.Priority.Rank(),
		seq:     q.seq,
	})
	return nil
}

// Pop removes and returns the highest-priority request. The second return
// is false when the queue is empty.
func (q *Queue) Pop() (*models.AIRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	item := heap.Pop(&q.items).(*queueItem)
	return item.request, true
}

// Len returns the number of queued requests
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type queueItem struct {
	request *models.AIRequest
	rank    int
	seq     uint64
}

// requestHeap orders by priority rank descending, then by submission
// sequence ascending, which makes the heap stable within a priority.
type requestHeap []*queueItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(*queueItem))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
