package integration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solvbot-go/internal/execution"
	"solvbot-go/internal/feed"
	"solvbot-go/internal/ledger"
	"solvbot-go/internal/market"
	"solvbot-go/internal/risk"
	"solvbot-go/internal/signal"
	"solvbot-go/internal/venue"
)

const symbol = "SOLUSDT"

type nopJournal struct{}

func (nopJournal) RecordOrder(venue.Order) error { return nil }
func (nopJournal) RecordFill(venue.Fill) error   { return nil }

func signalParams() signal.Params {
	return signal.Params{
		Symbol:        symbol,
		MemeDropPct:   0.30,
		RSIMax:        45,
		RSIPeriod:     2,
		SupportLow:    160,
		SupportHigh:   162,
		StopLoss:      155,
		TakeProfit1:   166,
		TakeProfit2:   170,
		GapTolerance:  5,
		VolumeSources: []string{"meme_volume"},
	}
}

func candleEvent(ts time.Time, close float64) market.Event {
	return market.Event{
		Kind: market.KindCandle,
		Ts:   ts,
		Candle: &market.Candle{
			Symbol: symbol, Interval: 5 * time.Minute, Start: ts.Add(-5 * time.Minute),
			Open: close + 0.5, High: close + 1, Low: close - 0.5, Close: close,
		},
	}
}

func volumeEvent(ts time.Time, vol float64) market.Event {
	return market.Event{
		Kind:           market.KindVolumeSnapshot,
		Ts:             ts,
		VolumeSnapshot: &market.VolumeSnapshot{Symbol: "MEME_AGG", Volume24h: vol},
	}
}

// entryScript primes the executor's book, warms RSI with falling
// closes, establishes a volume baseline a day back, then drops volume
// 35% with price in the band. The final snapshot completes the setup,
// so the entry decision carries the last close (161).
func entryScript(now time.Time) []market.Event {
	return []market.Event{
		{
			Kind: market.KindBookDelta, Ts: now.Add(-26 * time.Hour),
			BookDelta: &market.BookDelta{Symbol: symbol, Bid: 160.9, Ask: 161, Slot: 1},
		},
		volumeEvent(now.Add(-25*time.Hour), 1000),
		candleEvent(now.Add(-15*time.Minute), 163),
		candleEvent(now.Add(-10*time.Minute), 162.2),
		candleEvent(now.Add(-5*time.Minute), 161.5),
		candleEvent(now, 161),
		volumeEvent(now, 650),
	}
}

// pipeline mirrors the run command's event loop.
type pipeline struct {
	engine *signal.Engine
	risk   *risk.Manager
	exec   *execution.Engine
	led    *ledger.Ledger
	paper  *venue.Paper
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	led := ledger.New(10000)
	paper := venue.NewPaper(zerolog.Nop())
	paper.SetBook(160.9, 161)

	exec := execution.NewEngine(execution.Config{
		TrancheCount:     3,
		TrancheHorizon:   3 * time.Hour,
		RepriceTolerance: 0.001,
		ShutdownGrace:    time.Second,
		TP1Fraction:      0.6,
		StopLoss:         155,
		TakeProfit1:      166,
		TakeProfit2:      170,
	}, paper, led, nopJournal{}, zerolog.Nop())

	engine := signal.NewEngine(signalParams(), zerolog.Nop())
	exec.OnEntryOpened(engine.PositionOpened)
	led.OnPositionClosed(func(bool) { engine.PositionClosed() })

	return &pipeline{
		engine: engine,
		risk:   risk.NewManager(risk.Params{MaxTradeRisk: 0.05, StopLoss: 155, PauseThreshold: 4}, zerolog.Nop()),
		exec:   exec,
		led:    led,
		paper:  paper,
	}
}

// drainFills applies everything the paper venue reported so far.
func (p *pipeline) drainFills(t *testing.T, ctx context.Context) {
	t.Helper()
	for {
		select {
		case fill := <-p.paper.Fills():
			if err := p.exec.ApplyFill(ctx, fill); err != nil {
				t.Fatalf("fill: %v", err)
			}
		default:
			return
		}
	}
}

func (p *pipeline) onEvent(t *testing.T, ctx context.Context, ev market.Event) {
	t.Helper()
	if ev.Kind == market.KindBookDelta && ev.BookDelta != nil {
		if ev.BookDelta.Bid > 0 {
			p.paper.SetBook(ev.BookDelta.Bid, ev.BookDelta.Ask)
		}
		// Fills triggered by the book move settle before any decision
		// derived from the same prices.
		p.drainFills(t, ctx)
		p.exec.OnBook(ctx, *ev.BookDelta)
	}
	sig := p.engine.OnEvent(ev)
	if sig == nil {
		return
	}
	dec := p.risk.Evaluate(*sig, p.led.Snapshot())
	if !dec.Approved {
		if sig.Action == signal.Enter {
			p.engine.EnterDenied()
		}
		return
	}
	if err := p.exec.OnDecision(ctx, dec); err != nil {
		t.Fatalf("decision: %v", err)
	}
	p.drainFills(t, ctx)
}

func TestEntryFlowThroughMux(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	mux := feed.NewMux(zerolog.Nop(), 64)
	mux.Subscribe(feed.NewStub("meme_volume", time.Millisecond, entryScript(now), false))

	events := make(chan market.Event, 64)
	muxCtx, muxCancel := context.WithCancel(ctx)
	go func() {
		_ = mux.Run(muxCtx, events)
		close(events)
	}()

	p := newPipeline(t)
	seen := 0
	for seen < len(entryScript(now)) {
		select {
		case ev := <-events:
			p.onEvent(t, ctx, ev)
			seen++
		case <-ctx.Done():
			t.Fatalf("timed out after %d events", seen)
		}
	}
	muxCancel()

	// First tranche filled at the ask: a third of the risk-sized position.
	pos, ok := p.led.Position(symbol)
	if !ok {
		t.Fatalf("expected an open position after the entry flow")
	}
	// size = (10000 * 0.05) / (161 - 155), tranche = size / 3
	wantTranche := 500.0 / 6.0 / 3.0
	if math.Abs(pos.Qty-wantTranche) > 1e-6 {
		t.Fatalf("tranche qty %.6f, want %.6f", pos.Qty, wantTranche)
	}
	if math.Abs(pos.AvgEntry-161) > 1e-9 {
		t.Fatalf("entry price %.4f, want 161", pos.AvgEntry)
	}
}

func TestStopExitFlowFlattens(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	p := newPipeline(t)
	for _, ev := range entryScript(now) {
		ev.Source = "meme_volume"
		p.onEvent(t, ctx, ev)
	}
	if _, ok := p.led.Position(symbol); !ok {
		t.Fatalf("expected open position before the stop")
	}

	// Remaining tranches fill, protective orders go on the book.
	_ = p.exec.CheckSchedule(ctx, now.Add(time.Hour))
	_ = p.exec.CheckSchedule(ctx, now.Add(2*time.Hour))
	p.drainFills(t, ctx)
	if p.paper.Resting() != 3 {
		t.Fatalf("expected stop + 2 take-profits resting, got %d", p.paper.Resting())
	}

	// Bid crashes through the stop: the resting stop fires on the book
	// update, and the engine reconciles the leftover take-profits away.
	p.onEvent(t, ctx, market.Event{
		Kind: market.KindBookDelta, Ts: now.Add(3 * time.Hour), Source: "cex_depth",
		BookDelta: &market.BookDelta{Symbol: symbol, Bid: 154.5, Ask: 154.7},
	})
	p.drainFills(t, ctx)

	if _, open := p.led.Position(symbol); open {
		t.Fatalf("position survived the stop")
	}
	if p.paper.Resting() != 0 {
		t.Fatalf("take-profits left resting after flat: %d", p.paper.Resting())
	}
	snap := p.led.Snapshot()
	if snap.LossStreak != 1 {
		t.Fatalf("stop-out must count as a loss, streak %d", snap.LossStreak)
	}
}

func TestLossStreakPausesEntries(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	// Four losing round trips through the ledger.
	for i := 0; i < 4; i++ {
		buy := venue.Fill{ID: idStr("b", i), OrderID: "o", Symbol: symbol, Side: venue.Buy, Qty: 1, Price: 161, Ts: time.Now()}
		sell := venue.Fill{ID: idStr("s", i), OrderID: "o", Symbol: symbol, Side: venue.Sell, Qty: 1, Price: 158, Ts: time.Now()}
		if err := p.led.ApplyFill(buy); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
		if err := p.led.ApplyFill(sell); err != nil {
			t.Fatalf("sell %d: %v", i, err)
		}
	}

	now := time.Now().UTC()
	for _, ev := range entryScript(now) {
		ev.Source = "meme_volume"
		p.onEvent(t, ctx, ev)
	}
	if _, open := p.led.Position(symbol); open {
		t.Fatalf("entry passed despite a 4-loss streak")
	}
	if got := len(p.exec.Orders()); got != 0 {
		t.Fatalf("orders submitted under loss-streak pause: %d", got)
	}
}

func idStr(prefix string, n int) string {
	return prefix + string(rune('0'+n))
}
