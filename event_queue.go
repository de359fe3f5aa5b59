package modwire

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// eventTicket is a slot in the delivery queue. A producer reserves a ticket
// while it still holds its locks, so the queue order matches the order of
// the state changes, and publishes it once the locks are released. Nothing
// behind an unpublished ticket is delivered.
type eventTicket struct {
	event cloudevents.Event
	ready bool
}

// eventQueue delivers events on a single goroutine in reservation order.
type eventQueue struct {
	mu      sync.Mutex
	pending []*eventTicket
	wake    chan struct{}
	idle    *sync.Cond
	busy    bool
	closed  bool
	done    chan struct{}

	deliver func(ctx context.Context, event cloudevents.Event)
}

func newEventQueue(capacity int, deliver func(ctx context.Context, event cloudevents.Event)) *eventQueue {
	q := &eventQueue{
		pending: make([]*eventTicket, 0, capacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// reserve appends a ticket for event. It must be followed by publish on
// every path.
func (q *eventQueue) reserve(event cloudevents.Event) *eventTicket {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &eventTicket{event: event}
	if q.closed {
		t.ready = true
		return t
	}
	q.pending = append(q.pending, t)
	return t
}

// publish marks tickets deliverable.
func (q *eventQueue) publish(tickets ...*eventTicket) {
	if len(tickets) == 0 {
		return
	}
	q.mu.Lock()
	for _, t := range tickets {
		if t != nil {
			t.ready = true
		}
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// emit reserves and publishes in one step, for producers holding no locks.
func (q *eventQueue) emit(event cloudevents.Event) {
	q.publish(q.reserve(event))
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		var batch []*eventTicket
		for len(q.pending) > 0 && q.pending[0].ready {
			batch = append(batch, q.pending[0])
			q.pending = q.pending[1:]
		}
		closed := q.closed
		q.busy = len(batch) > 0
		if !q.busy {
			q.idle.Broadcast()
		}
		q.mu.Unlock()

		for _, t := range batch {
			q.deliver(context.Background(), t.event)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// flush blocks until every ticket reserved before the call has been
// delivered or ctx ends. Tickets that are never published keep flush
// waiting until ctx ends.
func (q *eventQueue) flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || q.busy {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.idle.Wait()
	}
	return nil
}

// close delivers what is deliverable and stops the dispatcher.
func (q *eventQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, t := range q.pending {
		t.ready = true
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
