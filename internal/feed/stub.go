package feed

import (
	"context"
	"time"

	"solvbot-go/internal/market"
)

// Stub replays a scripted event sequence at a fixed cadence. Useful for
// tests and offline runs; it never fails to connect.
type Stub struct {
	name     string
	interval time.Duration
	script   []market.Event
	loop     bool
}

// NewStub builds a stub source from a script. With loop set, the script
// repeats forever; otherwise the session blocks after the last event.
func NewStub(name string, interval time.Duration, script []market.Event, loop bool) *Stub {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Stub{name: name, interval: interval, script: script, loop: loop}
}

func (s *Stub) Name() string            { return s.name }
func (s *Stub) Interval() time.Duration { return s.interval }

func (s *Stub) Open(ctx context.Context) (Session, error) {
	return &stubSession{src: s}, nil
}

type stubSession struct {
	src *Stub
	pos int
	seq uint64
}

func (s *stubSession) Recv(ctx context.Context) (market.Event, error) {
	if s.pos >= len(s.src.script) {
		if !s.src.loop {
			<-ctx.Done()
			return market.Event{}, ctx.Err()
		}
		s.pos = 0
	}
	select {
	case <-ctx.Done():
		return market.Event{}, ctx.Err()
	case <-time.After(s.src.interval):
	}
	ev := s.src.script[s.pos]
	s.pos++
	s.seq++
	ev.Source = s.src.name
	if ev.Seq == 0 {
		ev.Seq = s.seq
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	return ev, nil
}

func (s *stubSession) Close() error { return nil }
