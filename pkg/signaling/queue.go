package signaling

import "sync"

// messageQueue is a bounded FIFO of messages held while the control-plane
// connection is down. Enqueuing past the bound drops the oldest entry.
type messageQueue struct {
	mu       sync.Mutex
	messages []*Message
	limit    int
}

func newMessageQueue(limit int) *messageQueue {
	return &messageQueue{
		limit: limit,
	}
}

// Enqueue appends a message, returning the dropped message when the queue was
// full, or nil
func (q *messageQueue) Enqueue(msg *Message) *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped *Message
	if len(q.messages) >= q.limit {
		dropped = q.messages[0]
		q.messages = q.messages[1:]
	}

	q.messages = append(q.messages, msg)
	return dropped
}

// Drain removes and returns all queued messages in original relative order
func (q *messageQueue) Drain() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.messages
	q.messages = nil
	return msgs
}

// Clear discards all queued messages
func (q *messageQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.messages = nil
}

// Len returns the number of queued messages
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.messages)
}
