package delayqueue

import (
	"container/heap"
	"sync"
	"time"
)

// Delayed 按 Deadline 排序的元素
type Delayed interface {
	Deadline() time.Time
}

// DelayQueue 按到期时间排序的最小堆，Add 与 DrainExpired 可以并发调用
type DelayQueue struct {
	mu    sync.Mutex
	items delayedHeap
}

func New() *DelayQueue {
	q := &DelayQueue{}
	heap.Init(&q.items)
	return q
}

func (q *DelayQueue) Add(item Delayed) {
	q.mu.Lock()
	heap.Push(&q.items, entry{item: item, deadline: item.Deadline()})
	q.mu.Unlock()
}

// DrainExpired 取出所有 deadline <= now 的元素，按到期先后返回
func (q *DelayQueue) DrainExpired(now time.Time) []Delayed {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []Delayed
	for q.items.Len() > 0 && !q.items[0].deadline.After(now) {
		expired = append(expired, heap.Pop(&q.items).(entry).item)
	}
	return expired
}

// Peek 最早到期的元素
func (q *DelayQueue) Peek() (Delayed, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false
	}
	return q.items[0].item, true
}

func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// entry 固定入队时的 deadline，元素之后修改自己的 deadline 不会破坏堆序
type entry struct {
	item     Delayed
	deadline time.Time
}

type delayedHeap []entry

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x interface{}) {
	*h = append(*h, x.(entry))
}

func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return it
}
