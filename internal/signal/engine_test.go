package signal

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solvbot-go/internal/market"
)

func testParams() Params {
	return Params{
		Symbol:        "SOLUSDT",
		MemeDropPct:   0.30,
		RSIMax:        45,
		RSIPeriod:     14,
		SupportLow:    160,
		SupportHigh:   162,
		StopLoss:      155,
		TakeProfit1:   166,
		TakeProfit2:   170,
		GapTolerance:  5,
		VolumeSources: []string{"pumpfun", "defillama"},
	}
}

func volumeEvent(ts time.Time, vol float64) market.Event {
	return market.Event{
		Source: "pumpfun", Ts: ts, Kind: market.KindVolumeSnapshot,
		VolumeSnapshot: &market.VolumeSnapshot{Symbol: "MEME_AGG", Volume24h: vol},
	}
}

func candleEvent(ts time.Time, close float64) market.Event {
	return market.Event{
		Source: "cex_candles", Ts: ts, Kind: market.KindCandle,
		Candle: &market.Candle{Symbol: "SOLUSDT", Interval: 5 * time.Minute, Start: ts, Close: close},
	}
}

// feedDecliningCloses pushes n candles ending exactly at final, driving
// RSI deep into oversold territory.
func feedDecliningCloses(e *Engine, now time.Time, n int, final float64) *Signal {
	var last *Signal
	px := final + float64(n-1)
	for i := 0; i < n; i++ {
		last = e.OnEvent(candleEvent(now.Add(time.Duration(i)*5*time.Minute), px))
		px -= 1
	}
	return last
}

func TestNoEnterBeforeRSIWindowFull(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650)) // 35% drop

	// 14 closes: RSI still undefined, ENTER must be withheld even with
	// every other condition satisfied.
	if sig := feedDecliningCloses(e, now, 14, 161); sig != nil {
		t.Fatalf("unexpected signal before RSI window full: %+v", sig)
	}
	if e.Evaluate() != NoOp {
		t.Fatalf("expected NO_OP while RSI undefined")
	}
}

func TestEnterWhenAllConditionsMet(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650)) // 35% drop

	sig := feedDecliningCloses(e, now, 15, 161)
	if sig == nil || sig.Action != Enter {
		t.Fatalf("expected ENTER, got %+v", sig)
	}
	if sig.Price != 161 {
		t.Fatalf("expected price 161, got %.2f", sig.Price)
	}
	if sig.RSI > 45 {
		t.Fatalf("expected oversold RSI, got %.2f", sig.RSI)
	}
	if sig.VolumeDrop < 0.30 {
		t.Fatalf("expected drop >= 0.30, got %.4f", sig.VolumeDrop)
	}
}

func TestNoEnterOutsideSupportBand(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650))

	if sig := feedDecliningCloses(e, now, 15, 158); sig != nil {
		t.Fatalf("unexpected signal below support band: %+v", sig)
	}
}

func TestVolumeDropBoundaryInclusive(t *testing.T) {
	now := time.Now().UTC()

	// Exactly 0.30 triggers (inclusive semantics).
	e := NewEngine(testParams(), zerolog.Nop())
	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 700))
	if sig := feedDecliningCloses(e, now, 15, 161); sig == nil || sig.Action != Enter {
		t.Fatalf("expected ENTER at exactly 0.30 drop, got %+v", sig)
	}

	// 0.2999 does not.
	e = NewEngine(testParams(), zerolog.Nop())
	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 10000))
	e.OnEvent(volumeEvent(now, 7001))
	if sig := feedDecliningCloses(e, now, 15, 161); sig != nil {
		t.Fatalf("unexpected signal at 0.2999 drop: %+v", sig)
	}
}

func TestNoSecondEnterWhilePositionOpen(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650))
	if sig := feedDecliningCloses(e, now, 15, 161); sig == nil {
		t.Fatalf("expected initial ENTER")
	}
	e.PositionOpened()

	if sig := e.OnEvent(candleEvent(now.Add(time.Hour), 161)); sig != nil {
		t.Fatalf("unexpected signal with open position: %+v", sig)
	}

	e.PositionClosed()
	if sig := e.OnEvent(candleEvent(now.Add(2*time.Hour), 161)); sig == nil || sig.Action != Enter {
		t.Fatalf("expected ENTER after position closed, got %+v", sig)
	}
}

func TestExitOnStopCross(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()
	e.PositionOpened()

	ev := market.Event{
		Source: "cex_depth", Ts: now, Kind: market.KindBookDelta,
		BookDelta: &market.BookDelta{Symbol: "SOLUSDT", Bid: 154.9, Ask: 155.1},
	}
	sig := e.OnEvent(ev)
	if sig == nil || sig.Action != Exit {
		t.Fatalf("expected EXIT on stop cross, got %+v", sig)
	}
	if sig.Reason != "stop_loss_crossed" {
		t.Fatalf("unexpected reason %s", sig.Reason)
	}
}

func TestExitOnTakeProfitCross(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()
	e.PositionOpened()

	sig := e.OnEvent(candleEvent(now, 170.5))
	if sig == nil || sig.Action != Exit || sig.Reason != "take_profit_crossed" {
		t.Fatalf("expected take-profit EXIT, got %+v", sig)
	}
}

func TestGapBeyondToleranceForcesWithhold(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650))
	if sig := feedDecliningCloses(e, now, 15, 161); sig == nil {
		t.Fatalf("expected ENTER before gap")
	}
	e.EnterDenied() // entry never filled

	// Price feed lost for 10 intervals, beyond tolerance of 5.
	gap := market.Event{Source: "cex_candles", Ts: now, Kind: market.KindGap, Gap: &market.Gap{Missed: 10}}
	e.OnEvent(gap)

	// The next 14 closes must not produce ENTER.
	if sig := feedDecliningCloses(e, now.Add(time.Hour), 14, 161); sig != nil {
		t.Fatalf("unexpected signal during withhold period: %+v", sig)
	}
	// The 15th close completes the window again.
	if sig := e.OnEvent(candleEvent(now.Add(2*time.Hour), 160.5)); sig == nil || sig.Action != Enter {
		t.Fatalf("expected ENTER after window refilled, got %+v", sig)
	}
}

func TestGapWithinToleranceKeepsState(t *testing.T) {
	e := NewEngine(testParams(), zerolog.Nop())
	now := time.Now().UTC()

	e.OnEvent(volumeEvent(now.Add(-25*time.Hour), 1000))
	e.OnEvent(volumeEvent(now, 650))
	feedDecliningCloses(e, now, 15, 161)
	e.EnterDenied()

	gap := market.Event{Source: "cex_candles", Ts: now, Kind: market.KindGap, Gap: &market.Gap{Missed: 3}}
	e.OnEvent(gap)

	if sig := e.OnEvent(candleEvent(now.Add(time.Hour), 161)); sig == nil || sig.Action != Enter {
		t.Fatalf("expected ENTER to survive a tolerable gap, got %+v", sig)
	}
}
