package feed

import (
	"context"
	"time"

	"solvbot-go/internal/market"
)

// fetchFunc performs one poll of an HTTP collaborator and parses the
// response into zero or more events.
type fetchFunc func(ctx context.Context) ([]market.Event, error)

// pollSession adapts a request/response endpoint to the Session
// interface: one fetch immediately on open, then one per tick. A failed
// fetch kills the session so the runner applies reconnect backoff.
type pollSession struct {
	name     string
	interval time.Duration
	fetch    fetchFunc
	ticker   *time.Ticker
	pending  []market.Event
	seq      uint64
	primed   bool
	now      func() time.Time
}

func newPollSession(name string, interval time.Duration, fetch fetchFunc) *pollSession {
	if interval <= 0 {
		interval = time.Minute
	}
	return &pollSession{
		name:     name,
		interval: interval,
		fetch:    fetch,
		ticker:   time.NewTicker(interval),
		now:      time.Now,
	}
}

func (s *pollSession) Recv(ctx context.Context) (market.Event, error) {
	for len(s.pending) == 0 {
		if s.primed {
			select {
			case <-ctx.Done():
				return market.Event{}, ctx.Err()
			case <-s.ticker.C:
			}
		}
		s.primed = true
		events, err := s.fetch(ctx)
		if err != nil {
			return market.Event{}, err
		}
		s.pending = events
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	s.seq++
	ev.Source = s.name
	ev.Seq = s.seq
	if ev.Ts.IsZero() {
		ev.Ts = s.now().UTC()
	}
	return ev, nil
}

func (s *pollSession) Close() error {
	s.ticker.Stop()
	return nil
}
