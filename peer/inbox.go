package peer

import (
	"context"
	"sync"
)

// Inbox is a FIFO message queue guarded by a single mutex. With a positive
// capacity a push into a full inbox evicts the oldest message.
type Inbox struct {
	mu       sync.Mutex
	messages []string
	capacity int
	dropped  int
	signal   chan struct{}
}

// NewInbox creates an inbox. capacity <= 0 means unbounded.
func NewInbox(capacity int) *Inbox {
	if capacity < 0 {
		capacity = 0
	}
	return &Inbox{
		capacity: capacity,
		signal:   make(chan struct{}),
	}
}

// Push appends message and returns it as the append acknowledgment.
func (q *Inbox) Push(message string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.messages) >= q.capacity {
		q.messages[0] = ""
		q.messages = q.messages[1:]
		q.dropped++
	}
	q.messages = append(q.messages, message)

	close(q.signal)
	q.signal = make(chan struct{})
	return message
}

// Pop removes and returns the head.
func (q *Inbox) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return "", false
	}
	head := q.messages[0]
	q.messages[0] = ""
	q.messages = q.messages[1:]
	if len(q.messages) == 0 {
		q.messages = nil
	}
	return head, true
}

// Get returns the head without removing it.
func (q *Inbox) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return "", false
	}
	return q.messages[0], true
}

func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Dropped counts messages evicted by the capacity limit.
func (q *Inbox) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain pops until the inbox is empty.
func (q *Inbox) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.messages
	q.messages = nil
	return out
}

// Wait blocks until the inbox holds at least one message or ctx ends.
func (q *Inbox) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.messages) > 0 {
			q.mu.Unlock()
			return nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
		}
	}
}
