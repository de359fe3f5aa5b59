package modwire

import (
	"context"
	"fmt"
	"sync"
)

// jobQueue runs container-wide jobs, start-level changes and refreshes, one
// at a time in submission order. Module-level operations keep running
// concurrently with the job in flight.
type jobQueue struct {
	requests chan jobRequest
	logger   Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type jobRequest struct {
	run      func(ctx context.Context) error
	response chan error
}

func newJobQueue(size int, logger Logger) *jobQueue {
	q := &jobQueue{
		requests: make(chan jobRequest, size),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go q.processRequests()
	return q
}

// submit queues run and returns the channel its result is sent on. It fails
// with ErrJobQueueFull instead of blocking when the queue is full.
func (q *jobQueue) submit(run func(ctx context.Context) error) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrContainerClosed
	}
	request := jobRequest{run: run, response: make(chan error, 1)}
	select {
	case q.requests <- request:
		return request.response, nil
	default:
		return nil, fmt.Errorf("%w: %d jobs pending", ErrJobQueueFull, cap(q.requests))
	}
}

// processRequests runs jobs sequentially until the queue is closed and
// drained.
func (q *jobQueue) processRequests() {
	defer close(q.done)
	for request := range q.requests {
		request.response <- q.handle(request)
	}
}

func (q *jobQueue) handle(request jobRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Container job panicked", "panic", r)
			err = fmt.Errorf("%w: job panicked: %v", ErrInvariantViolation, r)
		}
	}()
	return request.run(context.Background())
}

// close stops accepting jobs and waits for the queued ones to finish.
func (q *jobQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.requests)
	q.mu.Unlock()
	<-q.done
}

// await waits for a submitted job, or for ctx.
func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
