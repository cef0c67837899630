package feed

import (
	"context"
	"errors"
	"sync"

	"solvbot-go/internal/market"
)

// ErrQueueClosed is returned once the mux has shut down.
var ErrQueueClosed = errors.New("event queue closed")

// eventQueue is the mux's bounded buffer. When full, droppable events
// (book deltas, trades) shed the least-recent droppable entry, while
// correctness-critical events block the producing source until the
// consumer frees space.
type eventQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	buf      []market.Event
	capacity int
	closed   bool
	dropped  uint64
}

func newEventQueue(capacity int) *eventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &eventQueue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// push enqueues ev following the backpressure policy. Blocking pushes
// are released by close(), which callers trigger on context cancel.
func (q *eventQueue) push(ev market.Event) (droppedSource string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) >= q.capacity {
		if q.closed {
			return "", ErrQueueClosed
		}
		if ev.Droppable() {
			if src, ok := q.evictOldestDroppable(); ok {
				droppedSource = src
				break
			}
			// Queue is full of critical events; shed the newcomer instead.
			q.dropped++
			return ev.Source, nil
		}
		q.notFull.Wait()
	}
	if q.closed {
		return droppedSource, ErrQueueClosed
	}
	q.buf = append(q.buf, ev)
	q.notEmpty.Signal()
	return droppedSource, nil
}

func (q *eventQueue) evictOldestDroppable() (string, bool) {
	for i, queued := range q.buf {
		if queued.Droppable() {
			src := queued.Source
			q.buf = append(q.buf[:i], q.buf[i+1:]...)
			q.dropped++
			return src, true
		}
	}
	return "", false
}

// pop dequeues the next event, blocking until one arrives or the queue closes.
func (q *eventQueue) pop() (market.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 {
		if q.closed {
			return market.Event{}, ErrQueueClosed
		}
		q.notEmpty.Wait()
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	q.notFull.Signal()
	return ev, nil
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// closeWhenDone releases any blocked producers/consumers on cancellation.
func (q *eventQueue) closeWhenDone(ctx context.Context) {
	<-ctx.Done()
	q.close()
}
