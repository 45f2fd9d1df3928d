package stream

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ayusman/tipstream/internal/control"
)

// ErrQueueClosed is returned by Send after Close.
var ErrQueueClosed = errors.New("send queue closed")

// Queue decouples the frame loop from a slow transport. Send never blocks:
// when the buffer is full the sample is dropped and counted. A send failure
// in the background writer is sticky: it is returned by the next Send and by
// Err, which a caller that may go long without sending should poll.
//
// Using a Queue changes delivery from "every sample or fail" to "latest
// samples, possibly with gaps".
type Queue struct {
	next Sender
	ch   chan control.Sample
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool

	dropped atomic.Uint64
}

// NewQueue starts a background writer forwarding to next with room for size
// pending samples.
func NewQueue(next Sender, size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		next: next,
		ch:   make(chan control.Sample, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Send enqueues a sample or drops it when the queue is full.
func (q *Queue) Send(s control.Sample) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- s:
	default:
		q.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of samples discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Err returns the background writer's failure, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close stops accepting samples, waits for pending ones to be written and
// returns the writer's failure, if any.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	<-q.done
	return q.Err()
}

func (q *Queue) run() {
	defer close(q.done)

	for s := range q.ch {
		if err := q.next.Send(s); err != nil {
			q.mu.Lock()
			q.err = err
			q.mu.Unlock()
			// Discard the backlog until Close.
			for range q.ch {
			}
			return
		}
	}
}
