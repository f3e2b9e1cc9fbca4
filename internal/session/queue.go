package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Mode is the set of thread-scoped settings a prompt runs under. Two
// prompts with different mode hashes cannot share a thread; the manager
// restarts the thread at the boundary.
type Mode struct {
	Model          string
	Effort         EffortLevel
	ApprovalPolicy string
	SandboxMode    string
}

// Hash returns a stable digest of the mode. Fields are folded in a fixed
// order with separators so distinct modes never collide on concatenation.
func (m Mode) Hash() string {
	h := sha256.New()
	h.Write([]byte(m.Model))
	h.Write([]byte{0})
	h.Write([]byte(m.Effort))
	h.Write([]byte{0})
	h.Write([]byte(m.ApprovalPolicy))
	h.Write([]byte{0})
	h.Write([]byte(m.SandboxMode))
	return hex.EncodeToString(h.Sum(nil))
}

// QueueItem is one pending prompt with the mode it must run under.
type QueueItem struct {
	Prompt    string
	Mode      Mode
	Overrides TurnOverrides

	// Isolate forces a fresh thread with no resume continuity.
	Isolate bool

	// recovered marks an item already retried once after a
	// context-length failure; it is never retried again.
	recovered bool

	EnqueuedAt time.Time
}

// promptQueue is an unbounded FIFO with blocking dequeue. PushFront exists
// for requeueing an item that must run before anything enqueued after it.
type promptQueue struct {
	mu    sync.Mutex
	items []QueueItem
	wake  chan struct{}
}

func newPromptQueue() *promptQueue {
	return &promptQueue{wake: make(chan struct{}, 1)}
}

func (q *promptQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue appends an item and wakes one blocked Dequeue.
func (q *promptQueue) Enqueue(item QueueItem) {
	q.mu.Lock()
	item.EnqueuedAt = time.Now()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

// PushFront prepends an item so it is dequeued next.
func (q *promptQueue) PushFront(item QueueItem) {
	q.mu.Lock()
	q.items = append([]QueueItem{item}, q.items...)
	q.mu.Unlock()
	q.signal()
}

// Dequeue blocks until an item is available or ctx is cancelled. The false
// return means cancellation, never an empty queue.
func (q *promptQueue) Dequeue(ctx context.Context) (QueueItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return QueueItem{}, false
		}
	}
}

// Len returns the number of pending items.
func (q *promptQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain discards all pending items.
func (q *promptQueue) Drain() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
