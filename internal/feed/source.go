// Package feed ingests upstream market data sources and multiplexes them
// into one normalized event stream.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"solvbot-go/internal/market"
	"solvbot-go/internal/metrics"
)

// ErrSessionClosed is returned by Recv once the upstream session is gone.
// The runner treats it like any other disconnect and reconnects.
var ErrSessionClosed = errors.New("feed session closed")

// Session is one live upstream connection or polling loop.
type Session interface {
	// Recv blocks for the next parsed event. A non-nil error means the
	// session is dead and must be reopened.
	Recv(ctx context.Context) (market.Event, error)
	Close() error
}

// Source is one upstream feed: it knows how to open a session and what
// cadence its events arrive at (used to size gap markers).
type Source interface {
	Name() string
	Interval() time.Duration
	Open(ctx context.Context) (Session, error)
}

// ConnState tracks the per-source connection lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Backoff computes reconnect waits: exponential from Base up to Cap.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

// DefaultBackoff matches the reconnect policy feeds are expected to follow.
func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0}
}

// Next returns the wait before the given 1-based reconnect attempt.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}
	wait := base
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > cap {
			return cap
		}
		wait = next
	}
	return wait
}

// Runner drives one source through its connection state machine,
// reconnecting with backoff and emitting a gap marker after downtime.
type Runner struct {
	src     Source
	log     zerolog.Logger
	backoff Backoff
	now     func() time.Time

	state ConnState
}

// NewRunner wires a source to the default reconnect policy.
func NewRunner(src Source, log zerolog.Logger) *Runner {
	return &Runner{src: src, log: log, backoff: DefaultBackoff(), now: time.Now}
}

// State reports the last lifecycle state the run loop entered. Only for
// logging and tests; the run loop owns transitions.
func (r *Runner) State() ConnState { return r.state }

// Run loops connect → receive → backoff until the context is cancelled.
// Every received event is handed to emit; emit blocking is how the mux
// applies backpressure to this source's read loop.
func (r *Runner) Run(ctx context.Context, emit func(market.Event) error) error {
	var (
		attempt       int
		wasConnected  bool
		disconnected  time.Time
	)
	for {
		if ctx.Err() != nil {
			r.state = StateDisconnected
			return ctx.Err()
		}

		r.state = StateConnecting
		sess, err := r.src.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.state = StateDisconnected
				return ctx.Err()
			}
			attempt++
			metrics.Reconnects.WithLabelValues(r.src.Name()).Inc()
			wait := r.backoff.Next(attempt)
			r.state = StateBackoff
			r.log.Warn().Err(err).Str("source", r.src.Name()).Dur("backoff", wait).Msg("feed connect failed")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				r.state = StateDisconnected
				return ctx.Err()
			}
			continue
		}

		r.state = StateConnected
		attempt = 0
		r.log.Info().Str("source", r.src.Name()).Msg("feed connected")

		if wasConnected {
			missed := r.missedIntervals(disconnected)
			gap := market.Event{
				Source: r.src.Name(),
				Ts:     r.now(),
				Kind:   market.KindGap,
				Gap:    &market.Gap{Missed: missed},
			}
			if err := emit(gap); err != nil {
				_ = sess.Close()
				r.state = StateDisconnected
				return err
			}
		}

		err = r.consume(ctx, sess, emit)
		_ = sess.Close()
		if ctx.Err() != nil {
			r.state = StateDisconnected
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, ErrSessionClosed) {
			r.log.Warn().Err(err).Str("source", r.src.Name()).Msg("feed disconnected")
		}
		wasConnected = true
		disconnected = r.now()
	}
}

func (r *Runner) consume(ctx context.Context, sess Session, emit func(market.Event) error) error {
	for {
		ev, err := sess.Recv(ctx)
		if err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func (r *Runner) missedIntervals(since time.Time) int {
	interval := r.src.Interval()
	if interval <= 0 || since.IsZero() {
		return 0
	}
	return int(r.now().Sub(since) / interval)
}
