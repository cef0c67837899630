package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"solvbot-go/internal/market"
	"solvbot-go/internal/metrics"
)

// Mux fans multiple sources into one ordered-by-arrival event stream.
// It guarantees per-source sequence monotonicity (out-of-order events
// are rejected, not forwarded) and applies kind-aware backpressure.
type Mux struct {
	log     zerolog.Logger
	queue   *eventQueue
	sources []Source

	seqMu   sync.Mutex
	lastSeq map[string]uint64
}

// NewMux builds an empty mux with the given queue capacity.
func NewMux(log zerolog.Logger, queueSize int) *Mux {
	return &Mux{
		log:     log,
		queue:   newEventQueue(queueSize),
		lastSeq: make(map[string]uint64),
	}
}

// Subscribe registers a source. Must be called before Run.
func (m *Mux) Subscribe(src Source) {
	m.sources = append(m.sources, src)
}

// Run drives every subscribed source and pushes accepted events to out.
// It returns once the context is cancelled and all source loops stopped.
func (m *Mux) Run(ctx context.Context, out chan<- market.Event) error {
	go m.queue.closeWhenDone(ctx)

	var wg sync.WaitGroup
	for _, src := range m.sources {
		runner := NewRunner(src, m.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = runner.Run(ctx, m.accept)
		}()
	}

	for {
		ev, err := m.queue.pop()
		if err != nil {
			wg.Wait()
			return ctx.Err()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
	}
}

// accept validates per-source sequencing and enqueues the event.
func (m *Mux) accept(ev market.Event) error {
	if ev.Kind == market.KindGap {
		// Upstream sequence numbering restarts after a reconnect.
		m.seqMu.Lock()
		delete(m.lastSeq, ev.Source)
		m.seqMu.Unlock()
	} else if !m.admitSeq(ev) {
		metrics.EventsRejected.WithLabelValues(ev.Source).Inc()
		m.log.Warn().Str("source", ev.Source).Uint64("seq", ev.Seq).Msg("out-of-order event rejected")
		return nil
	}

	metrics.EventsTotal.WithLabelValues(ev.Source, string(ev.Kind)).Inc()
	droppedFrom, err := m.queue.push(ev)
	if err != nil {
		return err
	}
	if droppedFrom != "" {
		metrics.EventsDropped.WithLabelValues(droppedFrom).Inc()
	}
	return nil
}

func (m *Mux) admitSeq(ev market.Event) bool {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	last, seen := m.lastSeq[ev.Source]
	if seen && ev.Seq <= last {
		return false
	}
	m.lastSeq[ev.Source] = ev.Seq
	return true
}
