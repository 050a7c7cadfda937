package services

import (
	"context"
	"sync"
)

// Queue hands ready job ids to workers.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until an id is available, ctx is done, or the queue
	// is closed, in which case it returns ErrQueueClosed.
	Dequeue(ctx context.Context) (string, error)
	Len() int
	Close()
}

// ChannelQueue is a bounded in-process queue. Enqueue blocks while it is full.
type ChannelQueue struct {
	ch        chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &ChannelQueue{
		ch:     make(chan string, capacity),
		closed: make(chan struct{}),
	}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- jobID:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.closed:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *ChannelQueue) Len() int { return len(q.ch) }

// Close wakes every blocked caller. Ids still buffered are dropped; they
// are picked up again by Recover on the next start.
func (q *ChannelQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
