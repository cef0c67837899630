package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solvbot-go/internal/ledger"
	"solvbot-go/internal/venue"
)

const defaultBufferLimit = 4096

// entry is one deferred write awaiting retry.
type entry struct {
	order *venue.Order
	fill  *venue.Fill
	snap  *ledger.Snapshot
}

// Buffered decorates a Store so persistence failures never propagate
// to the trading path: failed writes queue in memory and drain once
// the backend recovers. The buffer is bounded; under sustained outage
// the oldest entries are shed.
type Buffered struct {
	inner Store
	log   zerolog.Logger
	limit int

	mu      sync.Mutex
	pending []entry
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewBuffered starts the background drain loop.
func NewBuffered(inner Store, log zerolog.Logger) *Buffered {
	b := &Buffered{
		inner: inner,
		log:   log,
		limit: defaultBufferLimit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go b.drainLoop()
	return b
}

// RecordOrder writes through, queueing on failure.
func (b *Buffered) RecordOrder(order venue.Order) error {
	if err := b.inner.RecordOrder(order); err != nil {
		b.enqueue(entry{order: &order}, err)
	}
	return nil
}

// RecordFill writes through, queueing on failure.
func (b *Buffered) RecordFill(fill venue.Fill) error {
	if err := b.inner.RecordFill(fill); err != nil {
		b.enqueue(entry{fill: &fill}, err)
	}
	return nil
}

// RecordSnapshot writes through, queueing on failure.
func (b *Buffered) RecordSnapshot(snap ledger.Snapshot) error {
	if err := b.inner.RecordSnapshot(snap); err != nil {
		b.enqueue(entry{snap: &snap}, err)
	}
	return nil
}

func (b *Buffered) enqueue(e entry, cause error) {
	b.mu.Lock()
	if len(b.pending) >= b.limit {
		b.pending = b.pending[1:]
		b.log.Error().Msg("journal buffer full, oldest entry shed")
	}
	b.pending = append(b.pending, e)
	depth := len(b.pending)
	b.mu.Unlock()

	b.log.Warn().Err(cause).Int("buffered", depth).Msg("journal write deferred")
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Buffered) drainLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		case <-ticker.C:
		}
		b.Flush()
	}
}

// Flush retries pending entries in order, stopping at the first
// failure to preserve write order.
func (b *Buffered) Flush() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		e := b.pending[0]
		b.mu.Unlock()

		var err error
		switch {
		case e.order != nil:
			err = b.inner.RecordOrder(*e.order)
		case e.fill != nil:
			err = b.inner.RecordFill(*e.fill)
		case e.snap != nil:
			err = b.inner.RecordSnapshot(*e.snap)
		}
		if err != nil {
			return
		}

		b.mu.Lock()
		b.pending = b.pending[1:]
		b.mu.Unlock()
	}
}

// Pending reports the retry backlog depth.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close makes a final flush attempt and closes the inner store.
func (b *Buffered) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.Flush()
	return b.inner.Close()
}
