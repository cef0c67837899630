// Package signal derives discrete trading decisions from the normalized
// event stream.
package signal

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solvbot-go/internal/market"
	"solvbot-go/internal/metrics"
)

// Action is the decision emitted downstream.
type Action string

const (
	Enter Action = "ENTER"
	Exit  Action = "EXIT"
	NoOp  Action = "NO_OP"
)

// Signal is one decision with the metric values that triggered it, kept
// for audit. Immutable once emitted.
type Signal struct {
	Action     Action    `json:"action"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	RSI        float64   `json:"rsi"`
	VolumeDrop float64   `json:"volume_drop"`
	Reason     string    `json:"reason"`
	Ts         time.Time `json:"ts"`
}

// Params are the thresholds the research layer tunes.
type Params struct {
	Symbol       string
	MemeDropPct  float64
	RSIMax       float64
	RSIPeriod    int
	SupportLow   float64
	SupportHigh  float64
	StopLoss     float64
	TakeProfit1  float64
	TakeProfit2  float64
	GapTolerance int
	// VolumeSources names the feeds whose gaps invalidate the volume window.
	VolumeSources []string
}

// Engine consumes market events for one tracked symbol pair (price
// series + memecoin aggregate volume series) and emits ENTER/EXIT
// decisions. Rolling state is exclusively owned here: callers feed
// events from a single goroutine.
type Engine struct {
	p   Params
	log zerolog.Logger

	mu           sync.Mutex
	rsi          *RSI
	volumes      *volumeWindow
	lastPrice    float64
	positionOpen bool
	enterPending bool
}

// NewEngine builds an engine for the configured thresholds.
func NewEngine(p Params, log zerolog.Logger) *Engine {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.GapTolerance <= 0 {
		p.GapTolerance = 5
	}
	return &Engine{
		p:       p,
		log:     log,
		rsi:     NewRSI(p.RSIPeriod),
		volumes: newVolumeWindow(48),
	}
}

// OnEvent folds one event into rolling state and returns the resulting
// decision, or nil when the decision is NO_OP (suppressed downstream).
func (e *Engine) OnEvent(ev market.Event) *Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case market.KindCandle:
		if ev.Candle.Symbol != e.p.Symbol {
			return nil
		}
		e.rsi.Push(ev.Candle.Close)
		e.lastPrice = ev.Candle.Close
		return e.decide(ev.Candle.Close, ev.Ts)

	case market.KindBookDelta:
		bid := ev.BookDelta.Bid
		if ev.BookDelta.Symbol != e.p.Symbol || bid <= 0 {
			return nil
		}
		e.lastPrice = bid
		// Book deltas only arm the fast exit path; entries wait for closes.
		return e.checkExit(bid, ev.Ts)

	case market.KindVolumeSnapshot:
		e.volumes.push(ev.Ts, ev.VolumeSnapshot.Volume24h)
		if e.lastPrice <= 0 {
			return nil
		}
		return e.decide(e.lastPrice, ev.Ts)

	case market.KindGap:
		e.onGap(ev)
		return nil
	}
	return nil
}

func (e *Engine) onGap(ev market.Event) {
	if ev.Gap == nil || ev.Gap.Missed <= e.p.GapTolerance {
		return
	}
	e.log.Warn().Str("source", ev.Source).Int("missed", ev.Gap.Missed).Msg("gap beyond tolerance, resetting rolling state")
	e.rsi.Reset()
	for _, src := range e.p.VolumeSources {
		if src == ev.Source {
			e.volumes.reset()
			break
		}
	}
}

// decide evaluates the full entry/exit rule set at the given price.
func (e *Engine) decide(price float64, ts time.Time) *Signal {
	if sig := e.checkExit(price, ts); sig != nil {
		return sig
	}
	if e.positionOpen || e.enterPending {
		return nil
	}
	if !e.rsi.Ready() {
		return nil // RSI undefined, withhold entries
	}
	drop, ok := e.volumes.drop(ts)
	if !ok || drop < e.p.MemeDropPct {
		return nil
	}
	if price < e.p.SupportLow || price > e.p.SupportHigh {
		return nil
	}
	rsi := e.rsi.Value()
	if rsi > e.p.RSIMax {
		return nil
	}

	e.enterPending = true
	metrics.Decisions.WithLabelValues("enter").Inc()
	return &Signal{
		Action:     Enter,
		Symbol:     e.p.Symbol,
		Price:      price,
		RSI:        rsi,
		VolumeDrop: drop,
		Reason:     "volume_drop_support_rotation",
		Ts:         ts,
	}
}

// checkExit fires independently of entry conditions when stop or take
// profit levels are crossed on an open position.
func (e *Engine) checkExit(price float64, ts time.Time) *Signal {
	if !e.positionOpen {
		return nil
	}
	var reason string
	switch {
	case e.p.StopLoss > 0 && price <= e.p.StopLoss:
		reason = "stop_loss_crossed"
	case e.p.TakeProfit2 > 0 && price >= e.p.TakeProfit2:
		reason = "take_profit_crossed"
	default:
		return nil
	}
	metrics.Decisions.WithLabelValues("exit").Inc()
	sig := &Signal{
		Action: Exit,
		Symbol: e.p.Symbol,
		Price:  price,
		RSI:    e.rsi.Value(),
		Reason: reason,
		Ts:     ts,
	}
	// Exits are idempotent downstream; keep state until the fill confirms.
	return sig
}

// Evaluate reports the decision the engine would make right now without
// mutating state. NO_OP is therefore derivable even though OnEvent
// suppresses it.
func (e *Engine) Evaluate() Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastPrice <= 0 {
		return NoOp
	}
	if e.positionOpen {
		if (e.p.StopLoss > 0 && e.lastPrice <= e.p.StopLoss) ||
			(e.p.TakeProfit2 > 0 && e.lastPrice >= e.p.TakeProfit2) {
			return Exit
		}
		return NoOp
	}
	if !e.rsi.Ready() || e.enterPending {
		return NoOp
	}
	drop, ok := e.volumes.drop(time.Now().UTC())
	if !ok || drop < e.p.MemeDropPct {
		return NoOp
	}
	if e.lastPrice < e.p.SupportLow || e.lastPrice > e.p.SupportHigh {
		return NoOp
	}
	if e.rsi.Value() > e.p.RSIMax {
		return NoOp
	}
	return Enter
}

// Metrics exposes the current rolling metric values for one-shot checks.
func (e *Engine) Metrics() (price, rsi, drop float64, rsiReady, dropReady bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	drop, dropReady = e.volumes.drop(time.Now().UTC())
	return e.lastPrice, e.rsi.Value(), drop, e.rsi.Ready(), dropReady
}

// PositionOpened tells the engine an entry filled; entries stay withheld
// until the position closes.
func (e *Engine) PositionOpened() {
	e.mu.Lock()
	e.positionOpen = true
	e.enterPending = false
	e.mu.Unlock()
}

// PositionClosed clears position state so new entries may fire.
func (e *Engine) PositionClosed() {
	e.mu.Lock()
	e.positionOpen = false
	e.enterPending = false
	e.mu.Unlock()
}

// EnterDenied clears the pending flag after a risk denial so a later
// evaluation may emit ENTER again.
func (e *Engine) EnterDenied() {
	e.mu.Lock()
	e.enterPending = false
	e.mu.Unlock()
}
