package workpool

import (
	"container/heap"
	"time"
)

type queueItem struct {
	entry QueueEntry
	seq   uint64 // insertion order, breaks score ties FIFO
	index int
}

// itemHeap implements heap.Interface: highest score first, then lowest seq.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].entry.PriorityScore != h[j].entry.PriorityScore {
		return h[i].entry.PriorityScore > h[j].entry.PriorityScore
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// priorityQueue is a heap of issues indexed by issue ID. It is not safe
// for concurrent use; the Coordinator guards it.
type priorityQueue struct {
	items   itemHeap
	byID    map[string]*queueItem
	nextSeq uint64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{byID: make(map[string]*queueItem)}
}

// push adds an issue. An issue already queued is replaced: its attempt
// count is carried forward and incremented, and it joins the back of its
// score group.
func (q *priorityQueue) push(issueID string, score float64, now time.Time) QueueEntry {
	attempts := 1
	if old, ok := q.byID[issueID]; ok {
		attempts = old.entry.Attempts + 1
		heap.Remove(&q.items, old.index)
		delete(q.byID, issueID)
	}
	return q.pushEntry(QueueEntry{
		IssueID:       issueID,
		PriorityScore: score,
		QueuedAt:      now,
		Attempts:      attempts,
	})
}

// pushEntry inserts an entry as-is, used when restoring a snapshot.
func (q *priorityQueue) pushEntry(e QueueEntry) QueueEntry {
	q.nextSeq++
	item := &queueItem{entry: e, seq: q.nextSeq}
	heap.Push(&q.items, item)
	q.byID[e.IssueID] = item
	return e
}

func (q *priorityQueue) pop() (QueueEntry, bool) {
	if len(q.items) == 0 {
		return QueueEntry{}, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, item.entry.IssueID)
	return item.entry, true
}

func (q *priorityQueue) len() int {
	return len(q.items)
}

func (q *priorityQueue) contains(issueID string) bool {
	_, ok := q.byID[issueID]
	return ok
}

// entries returns the queue contents in dequeue order without mutating it.
func (q *priorityQueue) entries() []QueueEntry {
	clone := make(itemHeap, len(q.items))
	for i, it := range q.items {
		cp := *it
		clone[i] = &cp
	}
	out := make([]QueueEntry, 0, len(clone))
	for clone.Len() > 0 {
		out = append(out, heap.Pop(&clone).(*queueItem).entry)
	}
	return out
}

func (q *priorityQueue) clear() {
	q.items = nil
	q.byID = make(map[string]*queueItem)
}
