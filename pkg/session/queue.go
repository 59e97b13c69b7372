package session

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// OutboundMessage is one framed packet waiting to be written.
type OutboundMessage struct {
	// ProtocolID the frame was sealed for.
	ProtocolID uint16

	// Data is the complete frame, header included.
	Data []byte

	// EnqueuedAt is when the message was accepted.
	EnqueuedAt time.Time

	// Urgent is set when ProtocolID belongs to the urgent set.
	Urgent bool
}

// WriteQueue orders outbound messages: every urgent message is released
// before any normal one, and messages of the same class keep their push
// order. Push and Pop are safe for concurrent use; the queue has its own
// lock so sending never contends with session metadata.
type WriteQueue struct {
	mu     sync.Mutex
	urgent *queue.Queue
	normal *queue.Queue
	closed bool

	isUrgent map[uint16]struct{}
	wake     chan struct{}
}

// NewWriteQueue creates a queue that treats urgentProtocols as urgent.
func NewWriteQueue(urgentProtocols []uint16) *WriteQueue {
	set := make(map[uint16]struct{}, len(urgentProtocols))
	for _, id := range urgentProtocols {
		set[id] = struct{}{}
	}
	return &WriteQueue{
		urgent:   queue.New(),
		normal:   queue.New(),
		isUrgent: set,
		wake:     make(chan struct{}, 1),
	}
}

// IsUrgent reports whether protocolID is in the urgent set.
func (q *WriteQueue) IsUrgent(protocolID uint16) bool {
	_, ok := q.isUrgent[protocolID]
	return ok
}

// Push appends a framed message. It fails only after Close.
func (q *WriteQueue) Push(protocolID uint16, data []byte) error {
	msg := &OutboundMessage{
		ProtocolID: protocolID,
		Data:       data,
		EnqueuedAt: time.Now(),
		Urgent:     q.IsUrgent(protocolID),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if msg.Urgent {
		q.urgent.Add(msg)
	} else {
		q.normal.Add(msg)
	}
	q.mu.Unlock()

	// Non-blocking: one pending wake-up covers any number of pushes.
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the highest-priority message, or returns nil when empty.
func (q *WriteQueue) Pop() *OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.urgent.Length() > 0:
		return q.urgent.Remove().(*OutboundMessage)
	case q.normal.Length() > 0:
		return q.normal.Remove().(*OutboundMessage)
	default:
		return nil
	}
}

// Wait returns a channel that receives after a Push. A receive does not
// guarantee the queue is non-empty; callers Pop and wait again.
func (q *WriteQueue) Wait() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued messages.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.urgent.Length() + q.normal.Length()
}

// Close drops every queued message and rejects later pushes. It returns how
// many messages were dropped.
func (q *WriteQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.urgent.Length() + q.normal.Length()
	q.closed = true
	q.urgent = queue.New()
	q.normal = queue.New()
	return dropped
}
