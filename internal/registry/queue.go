package registry

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of raw frames with a single consumer.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a frame and wakes a waiting Pop.
func (q *Queue) Push(msg []byte) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain discards everything queued and returns how many frames were dropped.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop blocks until a frame is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
